// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package lru

import (
	"sync"
	"testing"
)

// sameShard sends every key to shard 0 so eviction order is observable.
func sameShard(uint64) uint64 { return 0 }

func TestGetSet(t *testing.T) {
	c := New[uint64, string](64, Uint64Hasher, nil)
	c.Set(1, "one")

	v, ok := c.Get(1)
	if !ok || v != "one" {
		t.Errorf("Get(1) = (%q, %v)", v, ok)
	}
	if _, ok := c.Get(2); ok {
		t.Error("Get(2) found a missing key")
	}
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.HitRate != 0.5 {
		t.Errorf("stats = %+v", st)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	// Shard budget 3 entries.
	c := New[uint64, int](3*ShardCount, sameShard, nil)
	c.Set(1, 1)
	c.Set(2, 2)
	c.Set(3, 3)
	c.Get(1) // 2 is now oldest
	c.Set(4, 4)

	if _, ok := c.Get(2); ok {
		t.Error("key 2 should have been evicted")
	}
	for _, k := range []uint64{1, 3, 4} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("key %d missing", k)
		}
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Errorf("Evictions = %d, want 1", got)
	}
}

func TestCostBudget(t *testing.T) {
	words := func(v []uint32) int64 { return int64(len(v)) }
	c := New[uint64, []uint32](10*ShardCount, sameShard, words)

	c.Set(1, make([]uint32, 6))
	c.Set(2, make([]uint32, 6)) // evicts 1
	if _, ok := c.Get(1); ok {
		t.Error("key 1 should have been evicted by cost")
	}
	if got := c.Stats().Cost; got != 6 {
		t.Errorf("Cost = %d, want 6", got)
	}

	c.Set(3, make([]uint32, 11)) // larger than the shard budget
	if _, ok := c.Get(3); ok {
		t.Error("oversized value was cached")
	}
	if _, ok := c.Get(2); !ok {
		t.Error("oversized insert evicted key 2")
	}
}

func TestReplaceUpdatesCost(t *testing.T) {
	words := func(v []uint32) int64 { return int64(len(v)) }
	c := New[uint64, []uint32](100*ShardCount, sameShard, words)
	c.Set(1, make([]uint32, 40))
	c.Set(1, make([]uint32, 10))
	if st := c.Stats(); st.Cost != 10 || st.Len != 1 {
		t.Errorf("stats after replace = %+v", st)
	}
}

func TestGetOrCreate(t *testing.T) {
	c := New[uint64, int](64, Uint64Hasher, nil)
	calls := 0
	create := func() int { calls++; return 7 }

	if v := c.GetOrCreate(5, create); v != 7 {
		t.Errorf("first GetOrCreate = %d", v)
	}
	if v := c.GetOrCreate(5, create); v != 7 {
		t.Errorf("second GetOrCreate = %d", v)
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}
}

func TestDelete(t *testing.T) {
	c := New[uint64, int](64*ShardCount, Uint64Hasher, nil)
	for k := range uint64(10) {
		c.Set(k, int(k))
	}
	if !c.Delete(3) || c.Delete(3) {
		t.Error("Delete(3) should succeed exactly once")
	}
	n := c.DeleteFunc(func(k uint64) bool { return k%2 == 0 })
	if n != 5 {
		t.Errorf("DeleteFunc removed %d, want 5", n)
	}
	if c.Len() != 4 {
		t.Errorf("Len() = %d, want 4", c.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[uint64, int](1024, Uint64Hasher, nil)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				k := uint64(g*1000 + i%50)
				c.GetOrCreate(k, func() int { return i })
				c.Get(k)
			}
		}()
	}
	wg.Wait()
	if c.Len() == 0 {
		t.Error("cache empty after concurrent use")
	}
}
