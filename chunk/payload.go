// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package chunk

import (
	"fmt"
	"math/bits"

	"github.com/gogpu/voxstream/octree"
)

// PayloadKind tags the encoding of a chunk's voxel data. The GPU reads
// it from the slot descriptor to pick a decoder.
type PayloadKind uint8

const (
	// KindOctree is the sparse octree encoding. It is the default.
	KindOctree PayloadKind = 1

	// KindColumns is a flat occupancy bitset, one word per (x, z)
	// column with bit y set for an occupied voxel. Colors are not stored.
	KindColumns PayloadKind = 2
)

// MaxColumnDepth bounds KindColumns chunks to 32 voxels per axis, one
// bit per voxel in a uint32 column.
const MaxColumnDepth = 5

func (k PayloadKind) String() string {
	switch k {
	case KindOctree:
		return "octree"
	case KindColumns:
		return "columns"
	default:
		return fmt.Sprintf("PayloadKind(%d)", uint8(k))
	}
}

// ParseKind maps a configuration name to a PayloadKind.
func ParseKind(name string) (PayloadKind, error) {
	switch name {
	case "", "octree":
		return KindOctree, nil
	case "columns":
		return KindColumns, nil
	default:
		return 0, fmt.Errorf("chunk: unknown payload kind %q", name)
	}
}

// Payload is the voxel data owned by a chunk.
type Payload interface {
	// Kind reports the encoding.
	Kind() PayloadKind

	// Depth is log2 of the number of voxels along each axis.
	Depth() int

	// Set marks (x, y, z) occupied with the given color.
	Set(x, y, z uint32, color uint8) error

	// Get returns the color at (x, y, z) and whether it is occupied.
	Get(x, y, z uint32) (uint8, bool)

	// Linearize returns the words uploaded to a cache slot.
	Linearize() []uint32

	// Leaves returns the number of occupied voxels.
	Leaves() int

	// Density returns the occupied fraction of the volume.
	Density() float64
}

// NewPayload creates an empty payload of the given kind.
func NewPayload(kind PayloadKind, depth int) (Payload, error) {
	switch kind {
	case KindOctree:
		t, err := octree.New(depth)
		if err != nil {
			return nil, err
		}
		return OctreePayload{t}, nil
	case KindColumns:
		return NewColumns(depth)
	default:
		return nil, fmt.Errorf("chunk: unknown payload kind %d", kind)
	}
}

// OctreePayload stores voxels in a sparse octree.
type OctreePayload struct {
	*octree.Octree
}

func (OctreePayload) Kind() PayloadKind { return KindOctree }

func (p OctreePayload) Set(x, y, z uint32, color uint8) error { return p.Insert(x, y, z, color) }

func (p OctreePayload) Get(x, y, z uint32) (uint8, bool) { return p.Lookup(x, y, z) }

// ColumnPayload stores occupancy as one bitset word per column.
type ColumnPayload struct {
	depth  int
	cols   []uint32
	leaves int
}

// NewColumns creates an empty column payload. depth must be in
// [1, MaxColumnDepth].
func NewColumns(depth int) (*ColumnPayload, error) {
	if depth < 1 || depth > MaxColumnDepth {
		return nil, fmt.Errorf("%w: column payload depth %d", octree.ErrDepth, depth)
	}
	side := 1 << uint(depth)
	return &ColumnPayload{depth: depth, cols: make([]uint32, side*side)}, nil
}

func (*ColumnPayload) Kind() PayloadKind { return KindColumns }

func (p *ColumnPayload) Depth() int { return p.depth }

func (p *ColumnPayload) side() uint32 { return 1 << uint(p.depth) }

func (p *ColumnPayload) Set(x, y, z uint32, _ uint8) error {
	s := p.side()
	if x >= s || y >= s || z >= s {
		return fmt.Errorf("%w: (%d,%d,%d) outside [0,%d)", octree.ErrOutOfRange, x, y, z, s)
	}
	i := x + z*s
	bit := uint32(1) << y
	if p.cols[i]&bit == 0 {
		p.cols[i] |= bit
		p.leaves++
	}
	return nil
}

// Get reports occupancy. The color is always zero.
func (p *ColumnPayload) Get(x, y, z uint32) (uint8, bool) {
	s := p.side()
	if x >= s || y >= s || z >= s {
		return 0, false
	}
	return 0, p.cols[x+z*s]&(1<<y) != 0
}

func (p *ColumnPayload) Linearize() []uint32 { return append([]uint32(nil), p.cols...) }

func (p *ColumnPayload) Leaves() int { return p.leaves }

func (p *ColumnPayload) Density() float64 {
	s := float64(p.side())
	return float64(p.leaves) / (s * s * s)
}

// decodePayload rebuilds a payload from its linearized words.
func decodePayload(kind PayloadKind, depth int, words []uint32) (Payload, error) {
	switch kind {
	case KindOctree:
		t, err := octree.Reconstruct(words, depth)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		return OctreePayload{t}, nil
	case KindColumns:
		p, err := NewColumns(depth)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if len(words) != len(p.cols) {
			return nil, fmt.Errorf("%w: %d column words, want %d", ErrCorrupt, len(words), len(p.cols))
		}
		mask := uint32(1)<<p.side() - 1 // wraps to all ones when side is 32
		for i, w := range words {
			if w&^mask != 0 {
				return nil, fmt.Errorf("%w: column %d has bits above the volume", ErrCorrupt, i)
			}
			p.cols[i] = w
			p.leaves += bits.OnesCount32(w)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown payload kind %d", ErrCorrupt, kind)
	}
}
