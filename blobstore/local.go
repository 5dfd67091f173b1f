package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/rescache/internal/fs"
	"github.com/hupe1980/rescache/internal/mmap"
)

// LocalStore implements Store on a directory of the local file system.
//
// Reads go through read-only memory mappings. Writes land in a temporary file
// next to the target and are renamed into place on Close, so readers never
// observe a partially written blob.
type LocalStore struct {
	root string
	fs   fs.FileSystem
}

// LocalOption configures a LocalStore.
type LocalOption func(*LocalStore)

// WithFileSystem replaces the file system used for writes and metadata.
func WithFileSystem(fsys fs.FileSystem) LocalOption {
	return func(s *LocalStore) { s.fs = fsys }
}

// NewLocalStore creates a LocalStore rooted at the given directory.
func NewLocalStore(root string, opts ...LocalOption) *LocalStore {
	s := &LocalStore{root: root, fs: fs.Default}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the root directory.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(path.Clean("/" + name)))
}

// Open opens a blob for reading.
func (s *LocalStore) Open(_ context.Context, name string) (Blob, error) {
	m, err := mmap.Open(s.path(name))
	if err != nil {
		if errors.Is(err, mmap.ErrNotRegular) {
			return nil, fmt.Errorf("blobstore: open %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	_ = m.AdviseSequential()
	return &localBlob{m: m}, nil
}

// Create creates a blob for streaming writes.
func (s *LocalStore) Create(_ context.Context, name string) (WritableBlob, error) {
	target := s.path(name)
	if err := s.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, err
	}

	tmp := target + ".tmp-" + uuid.NewString()
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &localWritableBlob{fs: s.fs, f: f, tmp: tmp, target: target}, nil
}

// Put writes a blob atomically.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	w, err := s.Create(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.(*localWritableBlob).Abort()
		return err
	}
	return w.Close()
}

// Delete removes a blob.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	if err := s.fs.Remove(s.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the sorted names of all blobs starting with prefix.
// Temporary files of in-progress writes are skipped.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	var walk func(dir, rel string) error
	walk = func(dir, rel string) error {
		entries, err := s.fs.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			name := path.Join(rel, e.Name())
			if e.IsDir() {
				if err := walk(filepath.Join(dir, e.Name()), name); err != nil {
					return err
				}
				continue
			}
			if strings.Contains(e.Name(), ".tmp-") {
				continue
			}
			if strings.HasPrefix(name, prefix) {
				names = append(names, name)
			}
		}
		return nil
	}

	if err := walk(s.root, ""); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Stat returns size and modification time of a blob.
func (s *LocalStore) Stat(_ context.Context, name string) (Info, error) {
	fi, err := s.fs.Stat(s.path(name))
	if err != nil {
		return Info{}, err
	}
	if fi.IsDir() {
		return Info{}, fmt.Errorf("blobstore: stat %q: %w", name, ErrNotFound)
	}
	return Info{Name: name, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// SetModTime sets the modification time of a blob.
func (s *LocalStore) SetModTime(_ context.Context, name string, t time.Time) error {
	return s.fs.Chtimes(s.path(name), t, t)
}

type localBlob struct {
	m *mmap.Mapping
}

func (b *localBlob) ReadAt(p []byte, off int64) (int, error) { return b.m.ReadAt(p, off) }

func (b *localBlob) Close() error { return b.m.Close() }

func (b *localBlob) Size() int64 { return int64(b.m.Size()) }

func (b *localBlob) Bytes() ([]byte, error) {
	data := b.m.Bytes()
	if data == nil && b.m.Size() > 0 {
		return nil, mmap.ErrClosed
	}
	return data, nil
}

type localWritableBlob struct {
	fs     fs.FileSystem
	f      fs.File
	tmp    string
	target string
	closed atomic.Bool
}

func (w *localWritableBlob) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, os.ErrClosed
	}
	return w.f.Write(p)
}

func (w *localWritableBlob) Sync() error { return w.f.Sync() }

// Close syncs the temporary file and renames it over the target.
func (w *localWritableBlob) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return os.ErrClosed
	}
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = w.fs.Remove(w.tmp)
		return err
	}
	if err := w.f.Close(); err != nil {
		_ = w.fs.Remove(w.tmp)
		return err
	}
	if err := w.fs.Rename(w.tmp, w.target); err != nil {
		_ = w.fs.Remove(w.tmp)
		return err
	}
	return nil
}

// Abort discards the temporary file.
func (w *localWritableBlob) Abort() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := w.f.Close()
	if rmErr := w.fs.Remove(w.tmp); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
