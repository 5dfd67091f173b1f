package cache

import (
	"context"
	"encoding/binary"
	"hash/maphash"
	"sync"

	"github.com/hupe1980/rescache/internal/resource"
)

const numShards = 16

// ShardedLRU spreads keys over independent LRU shards to reduce lock
// contention when many load jobs hit the cache at once.
type ShardedLRU struct {
	shards [numShards]*LRU
	seed   maphash.Seed
}

// NewShardedLRU creates a sharded cache. The capacity is divided evenly
// across all shards.
func NewShardedLRU(capacity int64, rc *resource.Controller) *ShardedLRU {
	shardCapacity := max(capacity/numShards, 1)

	s := &ShardedLRU{seed: maphash.MakeSeed()}
	for i := range numShards {
		s.shards[i] = NewLRU(shardCapacity, rc)
	}
	return s
}

func (s *ShardedLRU) shard(key Key) *LRU {
	var h maphash.Hash
	h.SetSeed(s.seed)

	var buf [17]byte
	buf[0] = byte(key.Kind)
	binary.LittleEndian.PutUint64(buf[1:], uint64(key.Version))
	binary.LittleEndian.PutUint64(buf[9:], key.Offset)
	_, _ = h.Write(buf[:])
	_, _ = h.WriteString(key.Path)

	return s.shards[h.Sum64()%numShards]
}

// Get returns a cached value.
func (s *ShardedLRU) Get(ctx context.Context, key Key) ([]byte, bool) {
	return s.shard(key).Get(ctx, key)
}

// Set caches a value.
func (s *ShardedLRU) Set(ctx context.Context, key Key, b []byte) {
	s.shard(key).Set(ctx, key, b)
}

// Invalidate removes entries matching the predicate from every shard.
func (s *ShardedLRU) Invalidate(predicate func(key Key) bool) {
	var wg sync.WaitGroup
	wg.Add(numShards)
	for i := range numShards {
		go func(shard *LRU) {
			defer wg.Done()
			shard.Invalidate(predicate)
		}(s.shards[i])
	}
	wg.Wait()
}

// Close closes all shards.
func (s *ShardedLRU) Close() error {
	for i := range numShards {
		if err := s.shards[i].Close(); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns aggregated hit and miss counts.
func (s *ShardedLRU) Stats() (hits, misses int64) {
	for i := range numShards {
		h, m := s.shards[i].Stats()
		hits += h
		misses += m
	}
	return hits, misses
}

// Size returns the total size across all shards.
func (s *ShardedLRU) Size() int64 {
	var total int64
	for i := range numShards {
		total += s.shards[i].Size()
	}
	return total
}
