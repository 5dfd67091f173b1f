package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and tools.
// Safe for concurrent reads and writes.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryObject
	now   func() time.Time
}

type memoryObject struct {
	data    []byte
	modTime time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string]memoryObject),
		now:   time.Now,
	}
}

// SetClock replaces the clock that stamps modification times on writes.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Open opens a blob for reading. The blob is a snapshot; later writes to
// the same name do not affect it.
func (m *MemoryStore) Open(_ context.Context, name string) (Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("blobstore: open %q: %w", name, ErrNotFound)
	}
	return &memoryBlob{Reader: bytes.NewReader(obj.data)}, nil
}

// Create creates a new writable blob.
func (m *MemoryStore) Create(_ context.Context, name string) (WritableBlob, error) {
	return &memoryWritableBlob{store: m, name: name}, nil
}

// Put writes a blob atomically.
func (m *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	m.put(name, bytes.Clone(data))
	return nil
}

func (m *MemoryStore) put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = memoryObject{data: data, modTime: m.now()}
}

// Delete removes a blob.
func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, name)
	return nil
}

// List returns the sorted names of all blobs starting with prefix.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Stat returns size and modification time of a blob.
func (m *MemoryStore) Stat(_ context.Context, name string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.blobs[name]
	if !ok {
		return Info{}, fmt.Errorf("blobstore: stat %q: %w", name, ErrNotFound)
	}
	return Info{Name: name, Size: int64(len(obj.data)), ModTime: obj.modTime}, nil
}

// SetModTime sets the modification time of a blob.
func (m *MemoryStore) SetModTime(_ context.Context, name string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.blobs[name]
	if !ok {
		return fmt.Errorf("blobstore: touch %q: %w", name, ErrNotFound)
	}
	obj.modTime = t
	m.blobs[name] = obj
	return nil
}

type memoryBlob struct {
	*bytes.Reader
}

func (b *memoryBlob) Close() error { return nil }

// memoryWritableBlob buffers writes and publishes them on Close.
type memoryWritableBlob struct {
	store  *MemoryStore
	name   string
	buf    bytes.Buffer
	closed bool
}

func (w *memoryWritableBlob) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *memoryWritableBlob) Close() error {
	if w.closed {
		return io.ErrClosedPipe
	}
	w.closed = true
	w.store.put(w.name, bytes.Clone(w.buf.Bytes()))
	return nil
}

func (w *memoryWritableBlob) Sync() error { return nil }

// Abort discards the buffered bytes.
func (w *memoryWritableBlob) Abort() error {
	w.closed = true
	w.buf.Reset()
	return nil
}
