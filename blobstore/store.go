package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
	"time"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error that satisfies errors.Is(err, ErrNotFound).
var ErrNotFound = os.ErrNotExist

// Store is the file abstraction behind the resource cache: source files,
// metadata sidecars and compiled artifacts are all blobs addressed by
// slash-separated names.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create creates a blob for streaming writes. The blob becomes visible
	// under name only when the returned WritableBlob is closed.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes a blob atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names of all blobs starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Stat returns size and modification time of a blob.
	Stat(ctx context.Context, name string) (Info, error)
}

// Info describes a stored blob.
type Info struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// NewerThan reports whether i was modified after other.
func (i Info) NewerThan(other Info) bool { return i.ModTime.After(other.ModTime) }

// Blob is a read-only handle to a stored blob.
type Blob interface {
	io.ReaderAt
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
}

// WritableBlob is a blob being written.
type WritableBlob interface {
	io.Writer
	io.Closer
	// Sync flushes written bytes to stable storage where supported.
	Sync() error
}

// Aborter is implemented by WritableBlobs that can discard a write.
type Aborter interface {
	// Abort discards the written bytes; the blob is not created.
	Abort() error
}

// Abort discards w if it implements Aborter and closes it otherwise.
func Abort(w WritableBlob) error {
	if a, ok := w.(Aborter); ok {
		return a.Abort()
	}
	return w.Close()
}

// Mappable is an optional interface for Blobs backed by a memory mapping.
type Mappable interface {
	// Bytes returns the mapped bytes. The slice is valid until the Blob is closed.
	Bytes() ([]byte, error)
}

// Exists reports whether name exists in s.
func Exists(ctx context.Context, s Store, name string) (bool, error) {
	_, err := s.Stat(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
