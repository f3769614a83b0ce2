// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package debugview

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/gogpu/voxstream/chunk"
	"github.com/gogpu/voxstream/gpucache"
	"github.com/gogpu/voxstream/scene"
)

func testPayload(t *testing.T) chunk.Payload {
	t.Helper()
	p, err := chunk.NewPayload(chunk.KindOctree, 2)
	if err != nil {
		t.Fatal(err)
	}
	_ = p.Set(0, 0, 0, scene.ColorStone)
	_ = p.Set(3, 0, 1, scene.ColorGrass)
	_ = p.Set(1, 2, 3, scene.ColorSnow)
	return p
}

func TestSliceY(t *testing.T) {
	p := testPayload(t)
	img, err := Slice(p, AxisY, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds() != image.Rect(0, 0, 4, 4) {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	tests := []struct {
		x, y int
		want color.RGBA
	}{
		{0, 0, Palette(scene.ColorStone)},
		{3, 1, Palette(scene.ColorGrass)},
		{1, 3, Background},
		{2, 2, Background},
	}
	for _, tt := range tests {
		if got := img.RGBAAt(tt.x, tt.y); got != tt.want {
			t.Errorf("pixel (%d,%d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestSliceZFlipsY(t *testing.T) {
	p := testPayload(t)
	img, err := Slice(p, AxisZ, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	// Voxel (1,2,3): image row is side-1-y = 1.
	if got := img.RGBAAt(1, 1); got != Palette(scene.ColorSnow) {
		t.Errorf("pixel = %v, want snow", got)
	}
}

func TestSliceScaled(t *testing.T) {
	p := testPayload(t)
	img, err := Slice(p, AxisX, 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 16 {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	// Voxel (3,0,1) maps to u = z = 1, v = 3; every pixel of the 4x4
	// block must carry its color.
	for dy := range 4 {
		for dx := range 4 {
			if got := img.RGBAAt(4+dx, 12+dy); got != Palette(scene.ColorGrass) {
				t.Fatalf("pixel (%d,%d) = %v", 4+dx, 12+dy, got)
			}
		}
	}
}

func TestSliceErrors(t *testing.T) {
	p := testPayload(t)
	if _, err := Slice(p, AxisY, 4, 1); !errors.Is(err, ErrLayer) {
		t.Errorf("err = %v, want ErrLayer", err)
	}
	if _, err := Slice(p, Axis(9), 0, 1); err == nil {
		t.Error("unknown axis accepted")
	}
}

func TestHeightmap(t *testing.T) {
	p := testPayload(t)
	img := Heightmap(p, 1)
	if got := img.RGBAAt(1, 3); got != Palette(scene.ColorSnow) {
		t.Errorf("column (1,3) = %v, want snow", got)
	}
	if got := img.RGBAAt(2, 2); got != Background {
		t.Errorf("empty column = %v", got)
	}
}

func TestColumnsPayload(t *testing.T) {
	p, err := chunk.NewPayload(chunk.KindColumns, 2)
	if err != nil {
		t.Fatal(err)
	}
	_ = p.Set(2, 1, 0, 9)
	img, err := Slice(p, AxisY, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.RGBAAt(2, 0); got != Palette(0) {
		t.Errorf("occupied column voxel = %v, want occupancy color", got)
	}
}

func TestSlots(t *testing.T) {
	slots := []gpucache.SlotInfo{
		{Index: 0, State: gpucache.SlotResident},
		{Index: 1, State: gpucache.SlotPending},
		{Index: 2, State: gpucache.SlotFree},
	}
	img := Slots(slots, 2, 8, "")
	if img.Bounds() != image.Rect(0, 0, 16, 16) {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	if got := img.RGBAAt(0, 0); got != SlotResidentColor {
		t.Errorf("slot 0 = %v", got)
	}
	if got := img.RGBAAt(8, 0); got != SlotPendingColor {
		t.Errorf("slot 1 = %v", got)
	}
	if got := img.RGBAAt(0, 8); got != SlotFreeColor {
		t.Errorf("slot 2 = %v", got)
	}
	if got := img.RGBAAt(7, 7); got != Background {
		t.Errorf("gap pixel = %v", got)
	}

	captioned := Slots(slots, 2, 8, "frame 3")
	if captioned.Bounds().Dy() != 16+captionHeight {
		t.Errorf("captioned height = %d", captioned.Bounds().Dy())
	}
	lit := false
	for y := range captionHeight {
		for x := range captioned.Bounds().Dx() {
			if captioned.RGBAAt(x, y) != Background {
				lit = true
			}
		}
	}
	if !lit {
		t.Error("caption not drawn")
	}
}

func TestWritePNG(t *testing.T) {
	img := Heightmap(testPayload(t), 2)
	var buf bytes.Buffer
	if err := WritePNG(&buf, img); err != nil {
		t.Fatal(err)
	}
	decoded, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("decoded bounds = %v", decoded.Bounds())
	}

	path := filepath.Join(t.TempDir(), "slots.png")
	if err := SavePNG(path, Slots(nil, 4, 4, "")); err != nil {
		t.Fatal(err)
	}
}
