// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package lru provides a sharded, cost-bounded LRU cache.
package lru

import (
	"sync"
	"sync/atomic"
)

const (
	// ShardCount must be a power of 2 for fast shard selection.
	ShardCount = 16
	shardMask  = ShardCount - 1
)

// Hasher computes the shard hash of a key.
type Hasher[K any] func(K) uint64

// Uint64Hasher mixes a uint64 key with a splitmix64 finalizer so that
// keys differing only in high bits still spread across shards.
func Uint64Hasher(u uint64) uint64 {
	u ^= u >> 30
	u *= 0xbf58476d1ce4e5b9
	u ^= u >> 27
	u *= 0x94d049bb133111eb
	u ^= u >> 31
	return u
}

// Cost reports the weight of a value against the cache budget.
type Cost[V any] func(V) int64

// Stats is a snapshot of cache counters.
type Stats struct {
	Len       int
	Cost      int64
	Budget    int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
	HitRate   float64
}

// Cache is a thread-safe LRU cache split into ShardCount shards. Each
// shard holds at most Budget/ShardCount cost units; inserting past that
// evicts the shard's least recently used entries.
type Cache[K comparable, V any] struct {
	shards      [ShardCount]*shard[K, V]
	hasher      Hasher[K]
	cost        Cost[V]
	shardBudget int64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type shard[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[K, V]
	list    list[K]
	cost    int64
}

type entry[K comparable, V any] struct {
	value V
	cost  int64
	node  *node[K]
}

// New creates a cache bounded by budget cost units in total. A nil cost
// function counts every entry as 1.
func New[K comparable, V any](budget int64, hasher Hasher[K], cost Cost[V]) *Cache[K, V] {
	if cost == nil {
		cost = func(V) int64 { return 1 }
	}
	per := budget / ShardCount
	if per < 1 {
		per = 1
	}
	c := &Cache[K, V]{hasher: hasher, cost: cost, shardBudget: per}
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{entries: make(map[K]*entry[K, V])}
	}
	return c
}

func (c *Cache[K, V]) shardFor(key K) *shard[K, V] {
	return c.shards[c.hasher(key)&shardMask]
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		s.list.moveToFront(e.node)
	}
	s.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key. A value whose cost exceeds the shard
// budget is not cached.
func (c *Cache[K, V]) Set(key K, value V) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	c.setLocked(s, key, value)
}

func (c *Cache[K, V]) setLocked(s *shard[K, V], key K, value V) {
	w := c.cost(value)
	if old, ok := s.entries[key]; ok {
		s.cost -= old.cost
		s.list.remove(old.node)
		delete(s.entries, key)
	}
	if w > c.shardBudget {
		return
	}
	for s.cost+w > c.shardBudget {
		oldest, ok := s.list.removeOldest()
		if !ok {
			break
		}
		s.cost -= s.entries[oldest].cost
		delete(s.entries, oldest)
		c.evictions.Add(1)
	}
	s.entries[key] = &entry[K, V]{value: value, cost: w, node: s.list.pushFront(key)}
	s.cost += w
}

// GetOrCreate returns the cached value for key or stores the result of
// create. create runs with the shard locked, so concurrent callers for
// the same key compute it once.
func (c *Cache[K, V]) GetOrCreate(key K, create func() V) V {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		s.list.moveToFront(e.node)
		c.hits.Add(1)
		return e.value
	}
	c.misses.Add(1)
	v := create()
	c.setLocked(s, key, v)
	return v
}

// Delete removes key and reports whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.list.remove(e.node)
	s.cost -= e.cost
	delete(s.entries, key)
	return true
}

// DeleteFunc removes every entry whose key matches pred and returns the
// number removed.
func (c *Cache[K, V]) DeleteFunc(pred func(K) bool) int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if pred(k) {
				s.list.remove(e.node)
				s.cost -= e.cost
				delete(s.entries, k)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Stats returns current counters.
func (c *Cache[K, V]) Stats() Stats {
	st := Stats{
		Budget:    c.shardBudget * ShardCount,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
	for _, s := range c.shards {
		s.mu.Lock()
		st.Len += len(s.entries)
		st.Cost += s.cost
		s.mu.Unlock()
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}
