// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package chunk

import (
	"errors"
	"sync/atomic"

	"github.com/gogpu/voxstream/octree"
)

// Chunk errors.
var (
	// ErrCoordRange is returned when a grid or world position falls outside
	// the addressable chunk grid.
	ErrCoordRange = errors.New("chunk: coordinate out of range")

	// ErrCorrupt is returned when an encoded chunk cannot be decoded.
	ErrCorrupt = errors.New("chunk: corrupt encoding")
)

// NoSlot marks a descriptor that is not placed in the GPU cache.
const NoSlot = -1

// Descriptor mirrors a chunk's placement in the GPU cache. The renderer
// reads it to build per-instance attributes for chunk bounding volumes.
type Descriptor struct {
	Slot     int32  // cache slot, or NoSlot
	Offset   uint32 // byte offset of the slot in the data buffer
	Words    uint32 // uploaded word count, 0 until resident
	Resident bool   // data is valid for GPU reads
}

// Chunk is one fixed-size cube of world space.
//
// The payload is owned by the chunk and mutated in place. Mutation must
// not overlap with linearization; the world-generation step owns a chunk
// until it publishes it to the scene.
type Chunk struct {
	id      uint64
	coord   Coord
	payload Payload
	version atomic.Uint64
	desc    atomic.Pointer[Descriptor]
}

var (
	unplaced = &Descriptor{Slot: NoSlot}
	nextID   atomic.Uint64
)

// New creates a chunk that owns payload.
func New(coord Coord, payload Payload) *Chunk {
	c := &Chunk{id: nextID.Add(1), coord: coord, payload: payload}
	c.desc.Store(unplaced)
	return c
}

// NewOctree creates a chunk with an empty octree payload of the given depth.
func NewOctree(coord Coord, depth int) (*Chunk, error) {
	t, err := octree.New(depth)
	if err != nil {
		return nil, err
	}
	return New(coord, OctreePayload{t}), nil
}

// ID is unique per chunk object in the process. Two chunks at the same
// coordinate never share an ID.
func (c *Chunk) ID() uint64 { return c.id }

// Coord returns the chunk's grid coordinate.
func (c *Chunk) Coord() Coord { return c.coord }

// Payload returns the chunk's voxel data.
func (c *Chunk) Payload() Payload { return c.payload }

// Octree returns the octree payload, or nil for other payload kinds.
// The tree is for reading. Edits made through it bypass the version
// counter and are never re-uploaded; use Set instead.
func (c *Chunk) Octree() *octree.Octree {
	if p, ok := c.payload.(OctreePayload); ok {
		return p.Octree
	}
	return nil
}

// Set writes one voxel and bumps the version.
func (c *Chunk) Set(x, y, z uint32, color uint8) error {
	if err := c.payload.Set(x, y, z, color); err != nil {
		return err
	}
	c.version.Add(1)
	return nil
}

// Version changes every time the payload is modified through Set.
func (c *Chunk) Version() uint64 { return c.version.Load() }

// Empty reports whether the chunk holds no voxels.
func (c *Chunk) Empty() bool { return c.payload.Leaves() == 0 }

// Descriptor returns the chunk's current cache placement.
func (c *Chunk) Descriptor() Descriptor { return *c.desc.Load() }

// SetDescriptor records the chunk's cache placement. Only the cache
// manager calls this.
func (c *Chunk) SetDescriptor(d Descriptor) { c.desc.Store(&d) }

// ClearDescriptor marks the chunk as not placed in the cache.
func (c *Chunk) ClearDescriptor() { c.desc.Store(unplaced) }
