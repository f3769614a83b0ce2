// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package debugview renders chunks and cache state to images for
// debugging. Images are small and exact: one pixel per voxel or slot,
// scaled up with nearest-neighbor sampling.
package debugview

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	"golang.org/x/image/colornames"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/voxstream/chunk"
	"github.com/gogpu/voxstream/gpucache"
	"github.com/gogpu/voxstream/scene"
)

// Axis selects the slicing direction.
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return fmt.Sprintf("Axis(%d)", uint8(a))
	}
}

// ErrLayer is returned for a slice index outside the chunk.
var ErrLayer = errors.New("debugview: layer out of range")

// Background fills empty voxels.
var Background = color.RGBA{A: 0xFF}

// Palette maps a voxel color to a display color. Color 0 is used by
// payloads that store occupancy only.
func Palette(c uint8) color.RGBA {
	switch c {
	case 0:
		return colornames.White
	case scene.ColorStone:
		return colornames.Slategray
	case scene.ColorDirt:
		return colornames.Sienna
	case scene.ColorGrass:
		return colornames.Forestgreen
	case scene.ColorSand:
		return colornames.Khaki
	case scene.ColorSnow:
		return colornames.Snow
	default:
		return colornames.Magenta
	}
}

// Slice renders layer of p perpendicular to axis. For AxisY the image x
// axis is voxel x and the image y axis is voxel z; for AxisX it is z and
// y; for AxisZ it is x and y, with y growing upwards.
func Slice(p chunk.Payload, axis Axis, layer, scale int) (*image.RGBA, error) {
	side := 1 << p.Depth()
	if layer < 0 || layer >= side {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrLayer, layer, side)
	}
	src := image.NewRGBA(image.Rect(0, 0, side, side))
	for v := range side {
		for u := range side {
			var x, y, z int
			switch axis {
			case AxisX:
				x, y, z = layer, side-1-v, u
			case AxisY:
				x, y, z = u, layer, v
			case AxisZ:
				x, y, z = u, side-1-v, layer
			default:
				return nil, fmt.Errorf("debugview: unknown axis %v", axis)
			}
			src.SetRGBA(u, v, voxelColor(p, x, y, z))
		}
	}
	return upscale(src, scale), nil
}

// Heightmap renders the topmost voxel of every (x, z) column.
func Heightmap(p chunk.Payload, scale int) *image.RGBA {
	side := 1 << p.Depth()
	src := image.NewRGBA(image.Rect(0, 0, side, side))
	for z := range side {
		for x := range side {
			c := Background
			for y := side - 1; y >= 0; y-- {
				if col, ok := p.Get(uint32(x), uint32(y), uint32(z)); ok {
					c = Palette(col)
					break
				}
			}
			src.SetRGBA(x, z, c)
		}
	}
	return upscale(src, scale)
}

func voxelColor(p chunk.Payload, x, y, z int) color.RGBA {
	col, ok := p.Get(uint32(x), uint32(y), uint32(z))
	if !ok {
		return Background
	}
	return Palette(col)
}

// Slot state colors.
var (
	SlotFreeColor     = colornames.Dimgray
	SlotPendingColor  = colornames.Orange
	SlotResidentColor = colornames.Limegreen
)

const captionHeight = 16

// Slots renders one cell per slot, in rows of perRow, colored by state.
// A non-empty caption is drawn in a strip above the cells.
func Slots(slots []gpucache.SlotInfo, perRow, cell int, caption string) *image.RGBA {
	perRow = max(perRow, 1)
	cell = max(cell, 1)
	rows := max((len(slots)+perRow-1)/perRow, 1)
	top := 0
	if caption != "" {
		top = captionHeight
	}
	img := image.NewRGBA(image.Rect(0, 0, perRow*cell, top+rows*cell))
	xdraw.Draw(img, img.Bounds(), image.NewUniform(Background), image.Point{}, xdraw.Src)

	for i, s := range slots {
		c := SlotFreeColor
		switch s.State {
		case gpucache.SlotPending:
			c = SlotPendingColor
		case gpucache.SlotResident:
			c = SlotResidentColor
		}
		x, y := (i%perRow)*cell, top+(i/perRow)*cell
		// One pixel gap so neighboring cells stay distinguishable.
		r := image.Rect(x, y, x+max(cell-1, 1), y+max(cell-1, 1))
		xdraw.Draw(img, r, image.NewUniform(c), image.Point{}, xdraw.Src)
	}

	if caption != "" {
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(colornames.White),
			Face: basicfont.Face7x13,
			Dot:  fixed.P(2, captionHeight-4),
		}
		d.DrawString(caption)
	}
	return img
}

func upscale(src *image.RGBA, scale int) *image.RGBA {
	if scale <= 1 {
		return src
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst
}

// WritePNG encodes img as PNG.
func WritePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// SavePNG writes img to path as PNG.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
