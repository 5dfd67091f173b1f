package cache

import "context"

// Kind separates key spaces.
type Kind uint8

const (
	KindUnknown  Kind = iota
	KindBlock         // fixed-size blob store blocks
	KindArtifact      // decoded compiled artifacts
)

func (k Kind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindArtifact:
		return "artifact"
	default:
		return "unknown"
	}
}

// Key identifies a cached value.
//
// Version carries the source modification time (UnixNano) so that a rewritten
// file never hits bytes cached for an older version.
type Key struct {
	Kind    Kind
	Path    string
	Version int64
	// Offset is the block index for KindBlock and zero otherwise.
	Offset uint64
}

// ByteCache is a byte-oriented cache for immutable values.
// Returned slices must be treated as read-only.
type ByteCache interface {
	// Get returns a cached value. ok=false if missing.
	Get(ctx context.Context, key Key) (b []byte, ok bool)
	// Set caches a value. The cache retains b; the caller must not modify it.
	Set(ctx context.Context, key Key, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key Key) bool)
	// Close releases any resources.
	Close() error
	// Stats returns hit and miss counts.
	Stats() (hits, misses int64)
}

// ForPath returns an Invalidate predicate that matches every key of path.
func ForPath(path string) func(Key) bool {
	return func(k Key) bool { return k.Path == path }
}
