// Package cache provides byte-bounded LRU caches for blob blocks and
// compiled artifacts.
//
// [LRU] is a single-mutex cache; [ShardedLRU] spreads keys over 16 LRU shards
// for concurrent load jobs. Both account cached bytes against a resource
// Controller's memory limit when one is supplied. A value the limit cannot
// admit is not cached; Set never blocks.
//
// Keys carry the source version, so bytes cached for an older file version
// are never returned after the file changes. Stale versions age out through
// normal LRU eviction or are dropped with Invalidate(ForPath(path)).
package cache
