// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package scene

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/voxstream/chunk"
	"github.com/gogpu/voxstream/internal/parallel"
)

// DefaultDepth is the chunk depth used when StoreOptions.Depth is zero.
const DefaultDepth = 4

// StoreOptions configures a Store.
type StoreOptions struct {
	// Kind is the payload encoding of generated chunks. Defaults to
	// chunk.KindOctree.
	Kind chunk.PayloadKind

	// Depth is the payload depth of generated chunks. Defaults to
	// DefaultDepth.
	Depth int

	// Workers bounds parallel generation. Zero means GOMAXPROCS.
	Workers int
}

// Store is an in-memory Source. It is safe for concurrent use.
type Store struct {
	gen   Generator
	kind  chunk.PayloadKind
	depth int
	pool  *parallel.Pool

	mu     sync.RWMutex
	chunks map[chunk.Coord]*chunk.Chunk
	empty  map[chunk.Coord]struct{}
}

// NewStore returns a store that creates chunks with gen. A nil gen creates
// nothing; chunks can still be added with Put.
func NewStore(gen Generator, opts StoreOptions) (*Store, error) {
	if opts.Kind == 0 {
		opts.Kind = chunk.KindOctree
	}
	if opts.Depth == 0 {
		opts.Depth = DefaultDepth
	}
	if _, err := chunk.NewPayload(opts.Kind, opts.Depth); err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	return &Store{
		gen:    gen,
		kind:   opts.Kind,
		depth:  opts.Depth,
		pool:   parallel.NewPool(opts.Workers),
		chunks: make(map[chunk.Coord]*chunk.Chunk),
		empty:  make(map[chunk.Coord]struct{}),
	}, nil
}

// Depth returns the depth of generated chunks.
func (s *Store) Depth() int { return s.depth }

// Kind returns the payload kind of generated chunks.
func (s *Store) Kind() chunk.PayloadKind { return s.kind }

// GetChunkAt implements Source.
func (s *Store) GetChunkAt(c chunk.Coord) *chunk.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunks[c]
}

// CreateChunk implements Source. Concurrent calls for the same coordinate
// may both generate, but only the first result is kept and returned.
func (s *Store) CreateChunk(c chunk.Coord) (*chunk.Chunk, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("scene: %w: %#x", chunk.ErrCoordRange, uint32(c))
	}
	s.mu.RLock()
	existing, ok := s.chunks[c]
	_, empty := s.empty[c]
	s.mu.RUnlock()
	switch {
	case ok:
		return existing, nil
	case empty:
		return nil, ErrEmpty
	}

	p, err := chunk.NewPayload(s.kind, s.depth)
	if err != nil {
		return nil, err
	}
	ch := chunk.New(c, p)
	if s.gen != nil {
		if err := s.gen.Generate(ch); err != nil {
			return nil, fmt.Errorf("scene: generate %s: %w", c, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.chunks[c]; ok {
		return prev, nil
	}
	if ch.Empty() {
		s.empty[c] = struct{}{}
		return nil, ErrEmpty
	}
	s.chunks[c] = ch
	slogger().Debug("scene: chunk created", "coord", c.String(), "leaves", p.Leaves())
	return ch, nil
}

// Put stores c, replacing any chunk at its coordinate.
func (s *Store) Put(c *chunk.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[c.Coord()] = c
	delete(s.empty, c.Coord())
}

// Delete removes the chunk at c and forgets whether c was empty.
func (s *Store) Delete(c chunk.Coord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, c)
	delete(s.empty, c)
}

// Len returns the number of stored chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Coords returns the coordinates of all stored chunks in no particular
// order.
func (s *Store) Coords() []chunk.Coord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chunk.Coord, 0, len(s.chunks))
	for c := range s.chunks {
		out = append(out, c)
	}
	return out
}

// GenerateAll creates the chunks at coords in parallel. The result is
// index-aligned with coords; empty coordinates yield nil without an
// error.
func (s *Store) GenerateAll(ctx context.Context, coords []chunk.Coord) ([]*chunk.Chunk, error) {
	out := make([]*chunk.Chunk, len(coords))
	err := s.pool.Run(ctx, len(coords), func(_ context.Context, i int) error {
		c, err := s.CreateChunk(coords[i])
		if errors.Is(err, ErrEmpty) {
			return nil
		}
		out[i] = c
		return err
	})
	slogger().Debug("scene: batch generated", "coords", len(coords), "stored", s.Len())
	return out, err
}

// Close stops the generation workers.
func (s *Store) Close() { s.pool.Close() }
