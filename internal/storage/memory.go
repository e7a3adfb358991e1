package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryBucket is an in-process Bucket used in development and tests.
type MemoryBucket struct {
	name string

	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data         []byte
	contentType  string
	cacheControl string
	modified     time.Time
}

// NewMemoryBucket creates an empty bucket.
func NewMemoryBucket(name string) *MemoryBucket {
	return &MemoryBucket{
		name:    name,
		objects: make(map[string]memoryObject),
	}
}

func (b *MemoryBucket) Name() string { return b.name }

func (b *MemoryBucket) Put(_ context.Context, key string, data []byte, contentType, cacheControl string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[key]; ok {
		return ErrObjectExists
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	b.objects[key] = memoryObject{
		data:         buf,
		contentType:  contentType,
		cacheControl: cacheControl,
		modified:     time.Now(),
	}
	return nil
}

func (b *MemoryBucket) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[key]; !ok {
		return ErrObjectNotFound
	}
	delete(b.objects, key)
	return nil
}

func (b *MemoryBucket) List(_ context.Context, prefix string) ([]Object, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Object
	for key, obj := range b.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, obj.describe(key))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (b *MemoryBucket) Stat(_ context.Context, key string) (*Object, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	o := obj.describe(key)
	return &o, nil
}

// Read returns a copy of the stored bytes and their content type.
func (b *MemoryBucket) Read(key string) ([]byte, string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[key]
	if !ok {
		return nil, "", false
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, obj.contentType, true
}

func (o memoryObject) describe(key string) Object {
	return Object{
		Key:          key,
		Size:         int64(len(o.data)),
		ContentType:  o.contentType,
		LastModified: o.modified,
	}
}
