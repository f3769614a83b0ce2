// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package scene

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/gogpu/voxstream/chunk"
)

func TestTerrainDeterministic(t *testing.T) {
	a, b := DefaultTerrain(7), DefaultTerrain(7)
	other := DefaultTerrain(8)
	differs := false
	for x := range 64 {
		for z := range 64 {
			h := a.Height(x, z)
			if h != b.Height(x, z) {
				t.Fatalf("Height(%d,%d) not deterministic", x, z)
			}
			if h < a.Base || h > a.Base+a.Amplitude {
				t.Fatalf("Height(%d,%d) = %d outside [%d,%d]", x, z, h, a.Base, a.Base+a.Amplitude)
			}
			if h != other.Height(x, z) {
				differs = true
			}
		}
	}
	if !differs {
		t.Error("different seeds produced identical terrain")
	}
}

func TestTerrainGenerate(t *testing.T) {
	tr := DefaultTerrain(3)
	c, err := chunk.NewOctree(chunk.MustPack(1, 0, 2), 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Generate(c); err != nil {
		t.Fatal(err)
	}
	for z := range 16 {
		for x := range 16 {
			h := tr.Height(16+x, 32+z)
			for y := range 16 {
				color, ok := c.Payload().Get(uint32(x), uint32(y), uint32(z))
				if ok != (y < h) {
					t.Fatalf("voxel (%d,%d,%d) solid=%v, surface %d", x, y, z, ok, h)
				}
				if ok && y == h-1 && color == ColorStone {
					t.Fatalf("surface voxel (%d,%d,%d) is stone", x, y, z)
				}
			}
		}
	}
}

func TestColorBands(t *testing.T) {
	tr := Terrain{SandLine: 10, SnowLine: 30}
	tests := []struct {
		y, h int
		want uint8
	}{
		{29, 30, ColorSnow},
		{19, 20, ColorGrass},
		{17, 20, ColorDirt},
		{2, 20, ColorStone},
		{9, 10, ColorSand},
		{7, 10, ColorSand},
		{6, 10, ColorDirt},
		{5, 10, ColorStone},
	}
	for _, tt := range tests {
		if got := tr.colorAt(tt.y, tt.h); got != tt.want {
			t.Errorf("colorAt(%d, %d) = %d, want %d", tt.y, tt.h, got, tt.want)
		}
	}
}

func newTestStore(t *testing.T, gen Generator, opts StoreOptions) *Store {
	t.Helper()
	s, err := NewStore(gen, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStoreCreate(t *testing.T) {
	s := newTestStore(t, DefaultTerrain(1), StoreOptions{})
	at := chunk.MustPack(0, 0, 0)
	if s.GetChunkAt(at) != nil {
		t.Fatal("chunk present before creation")
	}
	c, err := s.CreateChunk(at)
	if err != nil {
		t.Fatal(err)
	}
	if c.Payload().Kind() != chunk.KindOctree || c.Payload().Depth() != DefaultDepth {
		t.Errorf("payload = %v depth %d", c.Payload().Kind(), c.Payload().Depth())
	}
	again, err := s.CreateChunk(at)
	if err != nil || again != c {
		t.Errorf("second CreateChunk = %p, %v; want %p", again, err, c)
	}
	if s.GetChunkAt(at) != c || s.Len() != 1 {
		t.Error("created chunk not stored")
	}
	if got := s.Coords(); len(got) != 1 || got[0] != at {
		t.Errorf("Coords = %v", got)
	}
}

func TestStoreRemembersEmpty(t *testing.T) {
	var calls atomic.Int64
	gen := GeneratorFunc(func(*chunk.Chunk) error {
		calls.Add(1)
		return nil
	})
	s := newTestStore(t, gen, StoreOptions{})
	at := chunk.MustPack(5, 5, 5)
	for range 3 {
		if _, err := s.CreateChunk(at); !errors.Is(err, ErrEmpty) {
			t.Fatalf("err = %v, want ErrEmpty", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("generator called %d times, want 1", calls.Load())
	}

	// Put overrides a remembered empty coordinate.
	c, _ := chunk.NewOctree(at, DefaultDepth)
	_ = c.Set(0, 0, 0, 1)
	s.Put(c)
	if got, err := s.CreateChunk(at); err != nil || got != c {
		t.Errorf("CreateChunk after Put = %p, %v", got, err)
	}
	s.Delete(at)
	if s.GetChunkAt(at) != nil {
		t.Error("chunk present after Delete")
	}
}

func TestStoreGeneratorError(t *testing.T) {
	boom := errors.New("boom")
	s := newTestStore(t, GeneratorFunc(func(*chunk.Chunk) error { return boom }), StoreOptions{})
	if _, err := s.CreateChunk(chunk.MustPack(0, 0, 0)); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if s.Len() != 0 {
		t.Error("failed chunk stored")
	}
}

func TestStoreOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    StoreOptions
		wantErr bool
	}{
		{"defaults", StoreOptions{}, false},
		{"columns", StoreOptions{Kind: chunk.KindColumns, Depth: 5}, false},
		{"columns too deep", StoreOptions{Kind: chunk.KindColumns, Depth: 6}, true},
		{"octree too deep", StoreOptions{Depth: 11}, true},
		{"unknown kind", StoreOptions{Kind: 9}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(nil, tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if s != nil {
				s.Close()
			}
		})
	}
}

func TestStoreColumns(t *testing.T) {
	s := newTestStore(t, DefaultTerrain(2), StoreOptions{Kind: chunk.KindColumns, Depth: 4})
	c, err := s.CreateChunk(chunk.MustPack(0, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if c.Payload().Kind() != chunk.KindColumns || c.Empty() {
		t.Errorf("column chunk kind %v empty %v", c.Payload().Kind(), c.Empty())
	}
}

func TestGenerateAll(t *testing.T) {
	tr := DefaultTerrain(11)
	s := newTestStore(t, tr, StoreOptions{Workers: 4})
	var coords []chunk.Coord
	for y := range 5 {
		for z := range 3 {
			for x := range 3 {
				coords = append(coords, chunk.MustPack(x, y, z))
			}
		}
	}

	got, err := s.GenerateAll(context.Background(), coords)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(coords) {
		t.Fatalf("len = %d, want %d", len(got), len(coords))
	}

	// Compare against serial generation with a fresh store.
	serial := newTestStore(t, tr, StoreOptions{Workers: 1})
	stored := 0
	for i, at := range coords {
		want, err := serial.CreateChunk(at)
		if errors.Is(err, ErrEmpty) {
			if got[i] != nil {
				t.Errorf("%v: got chunk, want empty", at)
			}
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		stored++
		if got[i] == nil || got[i].Payload().Leaves() != want.Payload().Leaves() {
			t.Errorf("%v: parallel result differs from serial", at)
		}
		if s.GetChunkAt(at) != got[i] {
			t.Errorf("%v: result not published", at)
		}
	}
	if stored == 0 || stored == len(coords) {
		t.Errorf("%d of %d chunks non-empty; terrain should leave some empty", stored, len(coords))
	}
}

func TestGenerateAllCancelled(t *testing.T) {
	s := newTestStore(t, DefaultTerrain(1), StoreOptions{Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.GenerateAll(ctx, []chunk.Coord{chunk.MustPack(0, 0, 0), chunk.MustPack(1, 0, 0)})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if s.Len() != 0 {
		t.Errorf("%d chunks created after cancel", s.Len())
	}
}
