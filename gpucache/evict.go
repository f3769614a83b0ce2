// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucache

import (
	"fmt"

	"github.com/gogpu/voxstream/chunk"
)

// EvictionPolicy picks which resident slot to give up when the cache is
// full. The manager never evicts on its own; callers ask for a Victim and
// Release it.
type EvictionPolicy interface {
	// Name identifies the policy in configuration and logs.
	Name() string

	// Choose returns the index in candidates of the slot to evict, or -1
	// to keep everything.
	Choose(candidates []SlotInfo) int
}

// LRU evicts the slot requested least recently.
type LRU struct{}

func (LRU) Name() string { return "lru" }

func (LRU) Choose(c []SlotInfo) int {
	best := -1
	for i := range c {
		if best < 0 || c[i].LastUsed < c[best].LastUsed {
			best = i
		}
	}
	return best
}

// LeastDense evicts the slot whose chunk holds the fewest voxels, using
// recency to break ties. Sparse chunks are cheap to bring back.
type LeastDense struct{}

func (LeastDense) Name() string { return "least_dense" }

func (LeastDense) Choose(c []SlotInfo) int {
	best := -1
	for i := range c {
		if best < 0 || c[i].Leaves < c[best].Leaves ||
			(c[i].Leaves == c[best].Leaves && c[i].LastUsed < c[best].LastUsed) {
			best = i
		}
	}
	return best
}

// PolicyFor returns the policy with the given name. "none" and the empty
// string return a nil policy, which disables eviction.
func PolicyFor(name string) (EvictionPolicy, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "lru":
		return LRU{}, nil
	case "least_dense":
		return LeastDense{}, nil
	default:
		return nil, fmt.Errorf("gpucache: unknown eviction policy %q", name)
	}
}

// Victim asks p for a resident slot to evict. Slots requested during the
// current frame and coordinates for which keep returns true are never
// offered. It reports false when p is nil or nothing qualifies.
func (m *Manager) Victim(p EvictionPolicy, keep func(chunk.Coord) bool) (chunk.Coord, bool) {
	if p == nil {
		return 0, false
	}
	m.mu.Lock()
	var cands []SlotInfo
	for i, s := range m.slots {
		if s.state != SlotResident || s.lastUsed == m.frame {
			continue
		}
		if keep != nil && keep(s.chunk.Coord()) {
			continue
		}
		cands = append(cands, m.info(i))
	}
	m.mu.Unlock()

	i := p.Choose(cands)
	if i < 0 || i >= len(cands) {
		return 0, false
	}
	return cands[i].Coord, true
}
