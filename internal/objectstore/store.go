// Package objectstore holds uploaded import files between the upload request
// and the parse worker that consumes them. Keys follow the layout
// "imports/{importId}/{filename}"; a daily sweeper removes files whose
// import never finished claiming them.
package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors for file storage operations.
var (
	// ErrFileNotFound is returned when no object exists for a key.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidKey is returned for keys that escape the store's root.
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// FileStore stores uploaded import files until the parse worker consumes
// them. Implementations: LocalStore for single-node deployments, S3Store
// for S3-compatible object storage.
type FileStore interface {
	// Save writes one object, replacing any existing object at the key.
	Save(ctx context.Context, key string, r io.Reader) error

	// Open returns a reader over the object. The caller closes it.
	// Returns ErrFileNotFound when the key does not exist.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns info for every object under the given key prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// UploadKey builds the canonical storage key for an uploaded import file.
func UploadKey(importID, filename string) string {
	return "imports/" + importID + "/" + filename
}
