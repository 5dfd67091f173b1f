package datacache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/hupe1980/rescache/blobstore"
	"github.com/hupe1980/rescache/internal/conv"
)

// ErrNotFound is returned when neither store holds a hash.
var ErrNotFound = errors.New("datacache: not found")

// Hash identifies cached data.
type Hash [sha1.Size]byte

// HashOf returns the SHA-1 digest of data.
func HashOf(data []byte) Hash { return sha1.Sum(data) }

// String returns the lower-case hex form of h.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Path returns the store name of the data of h.
func (h Hash) Path() string {
	return path.Join(
		hex.EncodeToString(h[18:19]),
		hex.EncodeToString(h[19:20]),
		h.String(),
		"data",
	)
}

// Cache is a two-tier content-addressed store. It is safe for concurrent use.
type Cache struct {
	local  blobstore.Store
	remote blobstore.Store
	logger *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger for remote tier failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Cache over local. remote may be nil.
func New(local, remote blobstore.Store, optFns ...Option) *Cache {
	if local == nil {
		panic("datacache: nil local store")
	}
	c := &Cache{
		local:  local,
		remote: remote,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(c)
	}
	return c
}

// Exists reports whether either tier holds h.
func (c *Cache) Exists(ctx context.Context, h Hash) (bool, error) {
	_, err := c.Size(ctx, h)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Size returns the size of the data of h, checking the local tier first.
func (c *Cache) Size(ctx context.Context, h Hash) (int64, error) {
	name := h.Path()
	for _, s := range c.tiers() {
		info, err := s.Stat(ctx, name)
		if err == nil {
			return info.Size, nil
		}
		if !errors.Is(err, blobstore.ErrNotFound) {
			return -1, err
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrNotFound, h)
}

// Write stores data under h in the local tier and copies it to the remote
// tier. A failed remote copy is returned after the local write succeeded.
func (c *Cache) Write(ctx context.Context, h Hash, data []byte) error {
	name := h.Path()
	if err := c.local.Put(ctx, name, data); err != nil {
		return fmt.Errorf("datacache: write %s: %w", h, err)
	}
	if c.remote == nil {
		return nil
	}
	if err := c.remote.Put(ctx, name, data); err != nil {
		c.logger.WarnContext(ctx, "remote data cache write failed", "hash", h.String(), "error", err)
		return fmt.Errorf("datacache: copy %s to remote: %w", h, err)
	}
	return nil
}

// Read returns the data of h. A local miss is filled from the remote tier.
func (c *Cache) Read(ctx context.Context, h Hash) ([]byte, error) {
	name := h.Path()
	data, err := read(ctx, c.local, name)
	if err == nil || !errors.Is(err, blobstore.ErrNotFound) {
		return data, err
	}
	if c.remote == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, h)
	}

	data, err = read(ctx, c.remote, name)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	if err != nil {
		return nil, err
	}
	if err := c.local.Put(ctx, name, data); err != nil {
		c.logger.WarnContext(ctx, "local data cache fill failed", "hash", h.String(), "error", err)
	}
	return data, nil
}

func (c *Cache) tiers() []blobstore.Store {
	if c.remote == nil {
		return []blobstore.Store{c.local}
	}
	return []blobstore.Store{c.local, c.remote}
}

func read(ctx context.Context, s blobstore.Store, name string) ([]byte, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	n, err := conv.Int64ToInt(b.Size())
	if err != nil {
		return nil, fmt.Errorf("datacache: %s: %w", name, err)
	}
	buf := make([]byte, n)
	if got, err := b.ReadAt(buf, 0); got < n {
		return nil, fmt.Errorf("datacache: read %s: %w", name, err)
	}
	return buf, nil
}
