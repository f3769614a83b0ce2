// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package feedback

import (
	"sync"

	"github.com/gammazero/deque"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/voxstream/chunk"
)

// Queue is a FIFO of chunk coordinates waiting for residency. A
// coordinate is held at most once until it is drained. It is safe for
// concurrent use.
type Queue struct {
	mu      sync.Mutex
	items   deque.Deque[chunk.Coord]
	queued  map[chunk.Coord]struct{}
	dropped uint64
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{queued: make(map[chunk.Coord]struct{})}
}

// Push appends c unless it is already queued and reports whether it was
// added.
func (q *Queue) Push(c chunk.Coord) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushLocked(c, false)
}

// Defer puts c at the front so it is drained first next time. Used for
// requests that could not be served this frame.
func (q *Queue) Defer(c chunk.Coord) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushLocked(c, true)
}

func (q *Queue) pushLocked(c chunk.Coord, front bool) bool {
	if _, dup := q.queued[c]; dup {
		return false
	}
	q.queued[c] = struct{}{}
	if front {
		q.items.PushFront(c)
	} else {
		q.items.PushBack(c)
	}
	return true
}

// PushPositions converts world positions to chunk coordinates and queues
// them. Positions outside the coordinate grid are dropped. It returns the
// number of coordinates added.
func (q *Queue) PushPositions(positions []mgl32.Vec3, chunkSize float32) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	added := 0
	for _, p := range positions {
		c, err := chunk.FromWorld(p, chunkSize)
		if err != nil {
			q.dropped++
			continue
		}
		if q.pushLocked(c, false) {
			added++
		}
	}
	return added
}

// Drain removes and returns up to limit coordinates in FIFO order. A limit of
// zero or less drains everything.
func (q *Queue) Drain(limit int) []chunk.Coord {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.items.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]chunk.Coord, n)
	for i := range out {
		c := q.items.PopFront()
		delete(q.queued, c)
		out[i] = c
	}
	return out
}

// Len returns the number of queued coordinates.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Dropped returns the number of positions that fell outside the grid.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
