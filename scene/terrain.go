// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package scene

import (
	"math"

	"github.com/gogpu/voxstream/chunk"
)

// Voxel colors written by Terrain.
const (
	ColorStone uint8 = 1
	ColorDirt  uint8 = 2
	ColorGrass uint8 = 3
	ColorSand  uint8 = 4
	ColorSnow  uint8 = 5
)

// Terrain is a heightmap generator built from two octaves of seeded value
// noise. Heights and coordinates are in voxels; chunk c covers voxels
// [c*side, (c+1)*side) on each axis where side is the chunk's side.
// The output depends only on the parameters and the voxel position.
type Terrain struct {
	Seed uint32

	// Base is the lowest surface height.
	Base int

	// Amplitude is the height range above Base.
	Amplitude int

	// Wavelength is the lattice spacing of the first noise octave.
	Wavelength int

	// SandLine and SnowLine select the surface color by height.
	SandLine int
	SnowLine int
}

// DefaultTerrain returns rolling hills a few chunks tall.
func DefaultTerrain(seed uint32) Terrain {
	return Terrain{
		Seed:       seed,
		Base:       8,
		Amplitude:  40,
		Wavelength: 48,
		SandLine:   14,
		SnowLine:   40,
	}
}

// Generate implements Generator.
func (t Terrain) Generate(c *chunk.Chunk) error {
	side := 1 << c.Payload().Depth()
	cx, cy, cz := c.Coord().Unpack()
	x0, y0, z0 := cx*side, cy*side, cz*side

	for lz := range side {
		for lx := range side {
			h := t.Height(x0+lx, z0+lz)
			top := min(h-y0, side)
			for ly := 0; ly < top; ly++ {
				if err := c.Set(uint32(lx), uint32(ly), uint32(lz), t.colorAt(y0+ly, h)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Height returns the surface height of the column at world voxel (x, z).
// Voxels with y < Height are solid.
func (t Terrain) Height(x, z int) int {
	wl := max(t.Wavelength, 2)
	n := 0.75*t.noise(t.Seed, x, z, wl) + 0.25*t.noise(t.Seed+1, x, z, wl/2)
	return t.Base + int(n*float64(t.Amplitude))
}

func (t Terrain) colorAt(y, height int) uint8 {
	switch {
	case y == height-1 && height >= t.SnowLine:
		return ColorSnow
	case height <= t.SandLine && y >= height-3:
		return ColorSand
	case y == height-1:
		return ColorGrass
	case y >= height-4:
		return ColorDirt
	default:
		return ColorStone
	}
}

// noise samples smoothed value noise in [0,1] on a lattice with spacing
// wl.
func (Terrain) noise(seed uint32, x, z, wl int) float64 {
	fx := float64(x) / float64(wl)
	fz := float64(z) / float64(wl)
	ix, iz := math.Floor(fx), math.Floor(fz)
	tx, tz := smooth(fx-ix), smooth(fz-iz)
	gx, gz := int32(ix), int32(iz)

	v00 := unit(hash2(seed, gx, gz))
	v10 := unit(hash2(seed, gx+1, gz))
	v01 := unit(hash2(seed, gx, gz+1))
	v11 := unit(hash2(seed, gx+1, gz+1))
	return lerp(lerp(v00, v10, tx), lerp(v01, v11, tx), tz)
}

func smooth(t float64) float64 { return t * t * (3 - 2*t) }

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func unit(h uint32) float64 { return float64(h) / math.MaxUint32 }

// hash32 is a murmur-style finalizer.
func hash32(x uint32) uint32 {
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}

func hash2(seed uint32, x, z int32) uint32 {
	h := seed
	h ^= uint32(x) * 0x9e3779b1
	h ^= uint32(z) * 0x85ebca6b
	return hash32(h)
}
