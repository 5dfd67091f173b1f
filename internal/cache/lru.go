package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/rescache/internal/resource"
)

// LRU is a byte-bounded least-recently-used ByteCache.
type LRU struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[Key]*list.Element
	evictList *list.List
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   Key
	value []byte
}

// NewLRU creates an LRU holding at most capacity bytes.
// If rc is non-nil every cached byte is also accounted against its memory limit.
func NewLRU(capacity int64, rc *resource.Controller) *LRU {
	return &LRU{
		capacity:  capacity,
		items:     make(map[Key]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// Get returns a cached value.
func (c *LRU) Get(_ context.Context, key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry).value, true
	}
	c.misses.Add(1)
	return nil, false
}

// Set caches a value. Values larger than the capacity, or that the memory
// limit cannot admit, are silently dropped.
func (c *LRU) Set(_ context.Context, key Key, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		old := ent.Value.(*entry)
		oldSize, newSize := int64(len(old.value)), int64(len(b))
		if newSize > oldSize && !c.rc.TryAcquireMemory(newSize-oldSize) {
			return
		}
		if newSize < oldSize {
			c.rc.ReleaseMemory(oldSize - newSize)
		}
		c.size += newSize - oldSize
		old.value = b
		c.evict()
		return
	}

	itemSize := int64(len(b))
	if itemSize > c.capacity {
		return
	}

	for c.size+itemSize > c.capacity {
		ent := c.evictList.Back()
		if ent == nil {
			break
		}
		c.removeElement(ent)
	}

	if !c.rc.TryAcquireMemory(itemSize) {
		return
	}

	c.items[key] = c.evictList.PushFront(&entry{key, b})
	c.size += itemSize
}

// Invalidate removes entries matching the predicate.
func (c *LRU) Invalidate(predicate func(key Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for key, element := range c.items {
		if predicate(key) {
			toRemove = append(toRemove, element)
		}
	}
	for _, e := range toRemove {
		c.removeElement(e)
	}
}

func (c *LRU) evict() {
	for c.size > c.capacity {
		element := c.evictList.Back()
		if element == nil {
			break
		}
		c.removeElement(element)
	}
}

// Close drops every entry and returns its memory to the controller.
func (c *LRU) Close() error {
	c.Invalidate(func(Key) bool { return true })
	return nil
}

// Stats returns hit and miss counts.
func (c *LRU) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached values.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	kv := e.Value.(*entry)
	delete(c.items, kv.key)
	itemSize := int64(len(kv.value))
	c.size -= itemSize
	c.rc.ReleaseMemory(itemSize)
}

// Size returns the current size of the cache in bytes.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
