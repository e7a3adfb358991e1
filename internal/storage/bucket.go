// Package storage gatekeeps file uploads and forwards them to an object
// storage bucket.
package storage

import (
	"context"
	"errors"
	"time"
)

// Bucket errors.
var (
	ErrObjectExists   = errors.New("object already exists")
	ErrObjectNotFound = errors.New("object not found")
)

// Object describes a stored object.
type Object struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Bucket is the object storage backend. Implementations must refuse to
// overwrite an existing key with ErrObjectExists.
type Bucket interface {
	Name() string
	Put(ctx context.Context, key string, data []byte, contentType, cacheControl string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	Stat(ctx context.Context, key string) (*Object, error)
}
