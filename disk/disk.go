// Package disk provides the storage backends artifacts are written to and the
// capability model that decides which URLs a disk may expose.
package disk

import (
	"context"
	"errors"
	"io"
	"time"
)

// Sentinel errors for disk operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUnsupported    = errors.New("operation not supported by disk")
	ErrUnknownDisk    = errors.New("unknown disk")
)

// FileInfo describes a stored object.
type FileInfo struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"modTime"`
	ContentType string    `json:"contentType,omitempty"`
}

// Features are the optional URL capabilities a backend declares statically.
type Features struct {
	// SignedURL reports native non-expiring signed URL support.
	SignedURL bool
	// TemporaryURL reports native expiring signed URL support.
	TemporaryURL bool
}

// Disk is an identified storage backend holding objects under disk-relative
// keys.
type Disk interface {
	// Put stores the reader's content under key.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	// Get opens the object at key. It returns ErrObjectNotFound when missing.
	// The caller closes the returned ReadCloser.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes the object at key. A missing object is not an error.
	Delete(ctx context.Context, key string) error
	// Stat returns metadata for the object at key.
	Stat(ctx context.Context, key string) (FileInfo, error)

	// Features declares which native URL methods are implemented.
	Features() Features
	// SignedURL returns a native signed URL with no expiry, or ErrUnsupported.
	SignedURL(ctx context.Context, key string) (string, error)
	// TemporaryURL returns a native signed URL valid until expires, or
	// ErrUnsupported.
	TemporaryURL(ctx context.Context, key string, expires time.Time) (string, error)
}

// noURLs can be embedded by backends without native URL support.
type noURLs struct{}

func (noURLs) Features() Features { return Features{} }

func (noURLs) SignedURL(context.Context, string) (string, error) { return "", ErrUnsupported }

func (noURLs) TemporaryURL(context.Context, string, time.Time) (string, error) {
	return "", ErrUnsupported
}
