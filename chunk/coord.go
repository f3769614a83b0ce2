// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package chunk

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Coordinate packing: 10 bits per axis, x in the low bits.
const (
	AxisBits = 10
	AxisMask = 1<<AxisBits - 1

	// GridSide is the number of chunks addressable along each axis.
	GridSide = 1 << AxisBits
)

// Coord is a chunk-grid position packed into one word as
// x | y<<10 | z<<20. Packing is plain bit arithmetic, not a hash,
// so every Coord maps to exactly one grid cell.
type Coord uint32

// Pack builds a Coord from grid coordinates in [0, GridSide).
func Pack(x, y, z int) (Coord, error) {
	if x < 0 || y < 0 || z < 0 || x >= GridSide || y >= GridSide || z >= GridSide {
		return 0, fmt.Errorf("%w: (%d,%d,%d)", ErrCoordRange, x, y, z)
	}
	return Coord(uint32(x) | uint32(y)<<AxisBits | uint32(z)<<(2*AxisBits)), nil
}

// MustPack is like Pack but panics on out-of-range input.
// Intended for constants and tests.
func MustPack(x, y, z int) Coord {
	c, err := Pack(x, y, z)
	if err != nil {
		panic(err)
	}
	return c
}

// Unpack returns the grid coordinates of c.
func (c Coord) Unpack() (x, y, z int) {
	return int(c & AxisMask), int(c >> AxisBits & AxisMask), int(c >> (2 * AxisBits) & AxisMask)
}

// X returns the grid x coordinate.
func (c Coord) X() int { return int(c & AxisMask) }

// Y returns the grid y coordinate.
func (c Coord) Y() int { return int(c >> AxisBits & AxisMask) }

// Z returns the grid z coordinate.
func (c Coord) Z() int { return int(c >> (2 * AxisBits) & AxisMask) }

// Valid reports whether c uses only the 30 coordinate bits.
func (c Coord) Valid() bool { return c>>(3*AxisBits) == 0 }

func (c Coord) String() string {
	x, y, z := c.Unpack()
	return fmt.Sprintf("(%d,%d,%d)", x, y, z)
}

// FromWorld converts a world-space position into the coordinate of the
// chunk containing it, by floor division with the chunk size in world
// units. Positions outside the addressable grid report ErrCoordRange.
func FromWorld(pos mgl32.Vec3, chunkSize float32) (Coord, error) {
	if chunkSize <= 0 {
		return 0, fmt.Errorf("chunk: invalid chunk size %v", chunkSize)
	}
	var cell [3]int
	for i, v := range pos {
		f := math.Floor(float64(v / chunkSize))
		if math.IsNaN(f) || f < 0 || f >= GridSide {
			return 0, fmt.Errorf("%w: world position %v", ErrCoordRange, pos)
		}
		cell[i] = int(f)
	}
	return Pack(cell[0], cell[1], cell[2])
}

// Center returns the world-space center of the chunk.
func (c Coord) Center(chunkSize float32) mgl32.Vec3 {
	x, y, z := c.Unpack()
	return mgl32.Vec3{
		(float32(x) + 0.5) * chunkSize,
		(float32(y) + 0.5) * chunkSize,
		(float32(z) + 0.5) * chunkSize,
	}
}
