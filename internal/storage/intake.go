package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tenantdesk/internal/apperr"
)

// Upload limits in megabytes.
const (
	MaxUploadSizeMB = 10
	MaxLogoSizeMB   = 5
)

const cacheControl = "max-age=3600"

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".txt":  "text/plain",
	".csv":  "text/csv",
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// ContentType returns the MIME type for a file extension.
func ContentType(ext string) string {
	if ct, ok := contentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// IsImage reports whether filename has an image extension.
func IsImage(filename string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(filename))]
}

// File is a stored upload as exposed to clients.
type File struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	URL          string    `json:"url"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Intake validates uploads and stores them under per-user paths.
type Intake struct {
	bucket    Bucket
	publicURL string

	now   func() time.Time
	newID func() uuid.UUID
}

// NewIntake creates an intake over bucket. publicURL is the base that
// object URLs are built from: {publicURL}/{bucket}/{path}.
func NewIntake(bucket Bucket, publicURL string) *Intake {
	return &Intake{
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
		newID:     uuid.New,
	}
}

// Validate checks the size limit first, then the extension allow-list.
func (in *Intake) Validate(size int64, filename string, maxSizeMB int) error {
	if size > int64(maxSizeMB)*1024*1024 {
		return apperr.TooLarge(fmt.Sprintf("file size exceeds %dMB limit", maxSizeMB))
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := contentTypes[ext]; !ok {
		return apperr.Validation(fmt.Sprintf("file type %s not allowed", ext))
	}

	return nil
}

// Upload stores data at {userID}/{kind}/{uuid}{ext} and returns its public
// URL. A naming collision is retried once with a timestamp-suffixed name.
func (in *Intake) Upload(ctx context.Context, data []byte, filename string, userID uuid.UUID, kind string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	contentType := ContentType(ext)

	key := in.objectKey(userID, kind, in.newID().String()+ext)
	err := in.bucket.Put(ctx, key, data, contentType, cacheControl)
	if errors.Is(err, ErrObjectExists) {
		retryKey := in.objectKey(userID, kind, fmt.Sprintf("%s-%d%s", in.newID(), in.now().Unix(), ext))
		zerolog.Ctx(ctx).Warn().
			Str("path", key).
			Str("retry_path", retryKey).
			Msg("upload path already exists, retrying")
		key = retryKey
		err = in.bucket.Put(ctx, key, data, contentType, cacheControl)
	}
	if err != nil {
		return "", apperr.Internal(fmt.Sprintf("file upload failed: %v", err), err)
	}

	zerolog.Ctx(ctx).Info().
		Str("path", key).
		Int("size", len(data)).
		Msg("file uploaded")

	return in.PublicURL(key), nil
}

// Delete removes the object behind url. Only the user whose id prefixes
// the object path may delete it.
func (in *Intake) Delete(ctx context.Context, url string, userID uuid.UUID) error {
	key := in.PathFromURL(url)
	if key == "" {
		return apperr.Validation("invalid file URL")
	}
	if !strings.HasPrefix(key, userID.String()+"/") {
		return apperr.Authorization("unauthorized to delete this file")
	}

	if err := in.bucket.Delete(ctx, key); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return apperr.NotFound("file not found")
		}
		return apperr.Internal(fmt.Sprintf("file deletion failed: %v", err), err)
	}
	return nil
}

// List returns the user's files, optionally restricted to one kind.
func (in *Intake) List(ctx context.Context, userID uuid.UUID, kind string) ([]File, error) {
	prefix := userID.String() + "/"
	if kind != "" {
		prefix += kind + "/"
	}

	objects, err := in.bucket.List(ctx, prefix)
	if err != nil {
		return nil, apperr.Internal("failed to list files", err)
	}

	files := make([]File, 0, len(objects))
	for _, obj := range objects {
		files = append(files, in.toFile(obj))
	}
	return files, nil
}

// Info returns metadata for the object behind url. Only the uploader may
// inspect it.
func (in *Intake) Info(ctx context.Context, url string, userID uuid.UUID) (*File, error) {
	key := in.PathFromURL(url)
	if key == "" {
		return nil, apperr.Validation("invalid file URL")
	}
	if !strings.HasPrefix(key, userID.String()+"/") {
		return nil, apperr.Authorization("unauthorized to access this file")
	}

	obj, err := in.bucket.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, apperr.NotFound("file not found")
		}
		return nil, apperr.Internal("failed to get file info", err)
	}

	f := in.toFile(*obj)
	return &f, nil
}

// PublicURL returns the URL clients use to fetch key.
func (in *Intake) PublicURL(key string) string {
	return in.publicURL + "/" + in.bucket.Name() + "/" + key
}

// PathFromURL recovers the object path from a public URL, or "" if url
// does not point into this bucket.
func (in *Intake) PathFromURL(url string) string {
	marker := "/" + in.bucket.Name() + "/"
	idx := strings.Index(url, marker)
	if idx < 0 {
		return ""
	}
	key := url[idx+len(marker):]
	if q := strings.IndexAny(key, "?#"); q >= 0 {
		key = key[:q]
	}
	if key == "" || strings.Contains(key, "..") {
		return ""
	}
	return key
}

func (in *Intake) objectKey(userID uuid.UUID, kind, name string) string {
	return path.Join(userID.String(), kind, name)
}

func (in *Intake) toFile(obj Object) File {
	return File{
		Name:         path.Base(obj.Key),
		Path:         obj.Key,
		URL:          in.PublicURL(obj.Key),
		Size:         obj.Size,
		ContentType:  obj.ContentType,
		LastModified: obj.LastModified,
	}
}
