package blobstore

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
)

// PathResolver maps logical file names onto a list of search paths in a Store.
type PathResolver struct {
	store Store

	mu    sync.RWMutex
	paths []string
}

// NewPathResolver creates a PathResolver with no search paths.
func NewPathResolver(store Store) *PathResolver {
	return &PathResolver{store: store}
}

// AddPath appends dir to the search paths. It returns false if dir is empty
// or already present.
func (r *PathResolver) AddPath(dir string) bool {
	dir = strings.Trim(path.Clean("/"+dir), "/")
	if dir == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.paths, dir) {
		return false
	}
	r.paths = append(r.paths, dir)
	return true
}

// Paths returns the search paths in resolution order.
func (r *PathResolver) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.paths)
}

// ResolvePath returns the store name of the first search path that contains
// name. A name that exists as given is returned unchanged when no search
// path matches.
func (r *PathResolver) ResolvePath(ctx context.Context, name string) (string, error) {
	name = CleanName(name)

	for _, dir := range r.Paths() {
		candidate := path.Join(dir, name)
		ok, err := Exists(ctx, r.store, candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}

	ok, err := Exists(ctx, r.store, name)
	if err != nil {
		return "", err
	}
	if ok {
		return name, nil
	}
	return "", fmt.Errorf("blobstore: resolve %q: %w", name, ErrNotFound)
}

// OriginalPath strips the search path from a resolved name. It returns false
// if resolved is not below any search path.
func (r *PathResolver) OriginalPath(resolved string) (string, bool) {
	resolved = CleanName(resolved)
	for _, dir := range r.Paths() {
		if rest, ok := strings.CutPrefix(resolved, dir+"/"); ok {
			return rest, true
		}
	}
	return "", false
}

// CleanName normalizes a logical name: slash separators, no leading slash,
// no dot segments.
func CleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}
