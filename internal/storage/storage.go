// Package storage defines the Storage interface that report exports are written to.
//
// Backends register themselves with the factory from an init() function in their
// own package, and internal/api blank-imports each backend it ships:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return New(cfg)
//	    })
//	}
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by backends when the requested object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Storage is implemented by every export backend.
type Storage interface {
	// Upload stores an object and returns its path, size and SHA256 checksum
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens an object for reading. Callers close the reader.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// GetURL returns a download link valid for roughly ttl.
	// Cloud backends presign; the local backend points back at the API.
	GetURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Exists reports whether an object is present at path
	Exists(ctx context.Context, path string) (bool, error)

	// List returns every object whose path starts with prefix
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ObjectInfo describes a listed object
type ObjectInfo struct {
	Path       string
	Size       int64
	ModifiedAt time.Time
}

// UploadResult describes a stored object
type UploadResult struct {
	Path     string
	Size     int64
	Checksum string
}
