// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package stream turns GPU misses into cache residency, one frame at a
// time.
package stream

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/voxstream/chunk"
	"github.com/gogpu/voxstream/feedback"
	"github.com/gogpu/voxstream/gpucache"
	"github.com/gogpu/voxstream/scene"
)

// Cache is the part of gpucache.Manager the streamer drives.
type Cache interface {
	RequestResidency(c *chunk.Chunk) error
	Release(coord chunk.Coord) error
	Prepare() error
	Get(coord chunk.Coord) (gpucache.SlotInfo, bool)
	Victim(p gpucache.EvictionPolicy, keep func(chunk.Coord) bool) (chunk.Coord, bool)
}

// Options configures a Streamer.
type Options struct {
	// ChunkSize is the edge length of one chunk in world units.
	ChunkSize float32

	// RequestsPerFrame bounds the coordinates drained per frame. Zero
	// drains the whole queue.
	RequestsPerFrame int

	// Policy picks slots to evict when the cache is full. Nil disables
	// eviction: requests that do not fit are deferred.
	Policy gpucache.EvictionPolicy
}

// Report summarizes one Frame call.
type Report struct {
	Misses    int `json:"misses"`    // positions reported by the GPU
	Queued    int `json:"queued"`    // new coordinates added to the queue
	Drained   int `json:"drained"`   // coordinates handled this frame
	Requested int `json:"requested"` // new residency requests accepted
	Refreshed int `json:"refreshed"` // coordinates that already had a slot
	Empty     int `json:"empty"`     // coordinates with no voxels
	Evicted   int `json:"evicted"`   // slots released to make room
	Deferred  int `json:"deferred"`  // requests pushed back to the next frame
	Dropped   int `json:"dropped"`   // coordinates outside the cache grid
	Backlog   int `json:"backlog"`   // queue length after the frame
	Rejected  int `json:"rejected"`  // chunks too large for a slot
}

// Streamer connects the feedback queue, the scene and the cache.
// Frame must be called from the thread that owns the cache's device.
type Streamer struct {
	cache Cache
	src   scene.Source
	queue *feedback.Queue
	opts  Options
}

// New returns a streamer. A nil queue gets a fresh one.
func New(cache Cache, src scene.Source, queue *feedback.Queue, opts Options) (*Streamer, error) {
	if cache == nil || src == nil {
		return nil, errors.New("stream: cache and source are required")
	}
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("stream: invalid chunk size %v", opts.ChunkSize)
	}
	if queue == nil {
		queue = feedback.NewQueue()
	}
	return &Streamer{cache: cache, src: src, queue: queue, opts: opts}, nil
}

// Queue returns the request queue.
func (s *Streamer) Queue() *feedback.Queue { return s.queue }

// Frame queues the given miss positions, serves up to RequestsPerFrame
// queued coordinates and calls Prepare. Errors from the scene are joined
// with Prepare's error; the frame always runs to completion.
func (s *Streamer) Frame(misses []mgl32.Vec3) (Report, error) {
	r := Report{Misses: len(misses)}
	r.Queued = s.queue.PushPositions(misses, s.opts.ChunkSize)

	coords := s.queue.Drain(s.opts.RequestsPerFrame)
	r.Drained = len(coords)

	// Coordinates served this frame are never eviction victims.
	served := make(map[chunk.Coord]struct{}, len(coords))
	keep := func(c chunk.Coord) bool {
		_, ok := served[c]
		return ok
	}

	var errs []error
	var deferred []chunk.Coord
	exhausted := false
	for _, coord := range coords {
		if exhausted {
			deferred = append(deferred, coord)
			continue
		}
		served[coord] = struct{}{}

		if _, ok := s.cache.Get(coord); ok {
			if c := s.src.GetChunkAt(coord); c != nil {
				if err := s.cache.RequestResidency(c); err != nil {
					errs = append(errs, fmt.Errorf("stream: refresh %s: %w", coord, err))
					continue
				}
			}
			r.Refreshed++
			continue
		}

		c, err := s.src.CreateChunk(coord)
		switch {
		case errors.Is(err, scene.ErrEmpty):
			r.Empty++
			continue
		case err != nil:
			errs = append(errs, err)
			continue
		}

		err = s.request(c, keep, &r)
		switch {
		case err == nil:
			r.Requested++
		case errors.Is(err, gpucache.ErrCacheExhausted):
			delete(served, coord)
			deferred = append(deferred, coord)
			exhausted = true
		case errors.Is(err, gpucache.ErrOutOfGrid):
			r.Dropped++
		default:
			errs = append(errs, err)
		}
	}

	// Defer pushes to the front, so go backwards to keep the order.
	for _, coord := range slices.Backward(deferred) {
		s.queue.Defer(coord)
	}
	r.Deferred = len(deferred)

	if err := s.cache.Prepare(); err != nil {
		r.Rejected = countTooLarge(err)
		errs = append(errs, err)
	}
	r.Backlog = s.queue.Len()

	slogger().Debug("stream: frame",
		"misses", r.Misses,
		"requested", r.Requested,
		"evicted", r.Evicted,
		"deferred", r.Deferred,
		"backlog", r.Backlog)
	return r, errors.Join(errs...)
}

// request asks for residency, evicting one victim and retrying once when
// the cache is full.
func (s *Streamer) request(c *chunk.Chunk, keep func(chunk.Coord) bool, r *Report) error {
	err := s.cache.RequestResidency(c)
	if !errors.Is(err, gpucache.ErrCacheExhausted) || s.opts.Policy == nil {
		return err
	}
	victim, ok := s.cache.Victim(s.opts.Policy, keep)
	if !ok {
		return err
	}
	if rerr := s.cache.Release(victim); rerr != nil {
		return errors.Join(err, rerr)
	}
	r.Evicted++
	slogger().Debug("stream: evicted", "victim", victim.String(), "for", c.Coord().String())
	return s.cache.RequestResidency(c)
}

func countTooLarge(err error) int {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		n := 0
		for _, e := range j.Unwrap() {
			n += countTooLarge(e)
		}
		return n
	}
	if errors.Is(err, gpucache.ErrChunkTooLarge) {
		return 1
	}
	return 0
}
