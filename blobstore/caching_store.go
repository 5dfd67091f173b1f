package blobstore

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/rescache/internal/cache"
	"golang.org/x/sync/errgroup"
)

// DefaultBlockSize is the block size of a CachingStore.
const DefaultBlockSize = 64 * 1024

// CachingStore wraps a Store and caches read blocks.
//
// Cache keys include the blob's modification time, so a rewritten blob is
// never served from blocks of its previous version.
type CachingStore struct {
	inner     Store
	cache     cache.ByteCache
	blockSize int64
}

var _ Store = (*CachingStore)(nil)

// NewCachingStore creates a new CachingStore.
// blockSize defaults to DefaultBlockSize if <= 0.
func NewCachingStore(inner Store, c cache.ByteCache, blockSize int64) *CachingStore {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &CachingStore{
		inner:     inner,
		cache:     c,
		blockSize: blockSize,
	}
}

// Open opens a blob whose reads are served through the block cache.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	info, err := s.inner.Stat(ctx, name)
	if err != nil {
		return nil, err
	}
	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &CachingBlob{
		inner:     b,
		cache:     s.cache,
		name:      name,
		version:   info.ModTime.UnixNano(),
		blockSize: s.blockSize,
	}, nil
}

// Create creates a blob; its cached blocks are dropped when it is closed.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	w, err := s.inner.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &invalidatingBlob{WritableBlob: w, invalidate: func() { s.invalidate(name) }}, nil
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	defer s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	defer s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *CachingStore) Stat(ctx context.Context, name string) (Info, error) {
	return s.inner.Stat(ctx, name)
}

func (s *CachingStore) invalidate(name string) {
	s.cache.Invalidate(func(key cache.Key) bool {
		return key.Kind == cache.KindBlock && key.Path == name
	})
}

type invalidatingBlob struct {
	WritableBlob
	invalidate func()
}

func (b *invalidatingBlob) Close() error {
	defer b.invalidate()
	return b.WritableBlob.Close()
}

// CachingBlob wraps a Blob and serves reads from the block cache.
type CachingBlob struct {
	inner     Blob
	cache     cache.ByteCache
	name      string
	version   int64
	blockSize int64
}

func (b *CachingBlob) Close() error { return b.inner.Close() }

func (b *CachingBlob) Size() int64 { return b.inner.Size() }

func (b *CachingBlob) key(blk int64) cache.Key {
	return cache.Key{Kind: cache.KindBlock, Path: b.name, Version: b.version, Offset: uint64(blk)}
}

// ReadAt implements io.ReaderAt.
func (b *CachingBlob) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	size := b.Size()
	if off >= size {
		return 0, io.EOF
	}

	ctx := context.Background()
	end := min(off+int64(len(p)), size)
	startBlock := off / b.blockSize
	endBlock := (end - 1) / b.blockSize

	if err := b.fillCache(ctx, startBlock, endBlock); err != nil {
		return 0, err
	}

	total := 0
	for blk := startBlock; blk <= endBlock; blk++ {
		blkStart := blk * b.blockSize
		from := max(blkStart, off)
		to := min(blkStart+b.blockSize, end)

		data, err := b.fetchBlock(ctx, blk)
		if err != nil {
			return total, err
		}

		src := from - blkStart
		if src >= int64(len(data)) {
			break
		}
		total += copy(p[from-off:to-off], data[src:])
	}

	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

// fillCache loads missing blocks in [startBlock, endBlock], fetching each
// contiguous run of misses with a single read.
func (b *CachingBlob) fillCache(ctx context.Context, startBlock, endBlock int64) error {
	type run struct{ start, count int64 }
	var missing []run

	for blk := startBlock; blk <= endBlock; blk++ {
		if _, ok := b.cache.Get(ctx, b.key(blk)); ok {
			continue
		}
		if n := len(missing); n > 0 && missing[n-1].start+missing[n-1].count == blk {
			missing[n-1].count++
		} else {
			missing = append(missing, run{blk, 1})
		}
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, r := range missing {
		g.Go(func() error {
			byteStart := r.start * b.blockSize
			byteSize := min(r.count*b.blockSize, b.Size()-byteStart)
			if byteSize <= 0 {
				return nil
			}

			buf := make([]byte, byteSize)
			n, err := b.inner.ReadAt(buf, byteStart)
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			buf = buf[:n]

			for i := int64(0); i < r.count; i++ {
				lo := i * b.blockSize
				if lo >= int64(len(buf)) {
					break
				}
				hi := min(lo+b.blockSize, int64(len(buf)))
				// Copy so a cached block does not pin the whole run buffer.
				b.cache.Set(ctx, b.key(r.start+i), append([]byte(nil), buf[lo:hi]...))
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *CachingBlob) fetchBlock(ctx context.Context, blk int64) ([]byte, error) {
	if data, ok := b.cache.Get(ctx, b.key(blk)); ok {
		return data, nil
	}

	// The block was evicted between fill and copy; read it directly.
	buf := make([]byte, b.blockSize)
	n, err := b.inner.ReadAt(buf, blk*b.blockSize)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	buf = buf[:n]
	if n > 0 {
		b.cache.Set(ctx, b.key(blk), buf)
	}
	return buf, nil
}
