// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucache

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/voxstream/chunk"
)

// newTestDevice opens a device on the in-memory noop backend. Its
// buffers keep real contents, so tests can read back what was written.
func newTestDevice(t *testing.T) (hal.Device, hal.Queue) {
	t.Helper()
	inst, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	adapters := inst.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		t.Fatal("noop backend exposes no adapters")
	}
	open, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		open.Device.Destroy()
		inst.Destroy()
	})
	return open.Device, open.Queue
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	dev, q := newTestDevice(t)
	m, err := New(dev, q, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

// readBytes copies n bytes at offset out of buf.
func readBytes(t *testing.T, m *Manager, buf hal.Buffer, offset, n uint64) []byte {
	t.Helper()
	mapping, err := m.device.MapBuffer(buf, offset, n)
	if err != nil {
		t.Fatalf("MapBuffer: %v", err)
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice((*byte)(mapping.Ptr), n))
	if err := m.device.UnmapBuffer(buf); err != nil {
		t.Fatalf("UnmapBuffer: %v", err)
	}
	return out
}

func readWords(t *testing.T, m *Manager, buf hal.Buffer, offsetWords, n int) []uint32 {
	t.Helper()
	raw := readBytes(t, m, buf, uint64(offsetWords)*4, uint64(n)*4)
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return out
}

// gpuLookup returns the lookup entry the GPU currently holds for c.
func gpuLookup(t *testing.T, m *Manager, c chunk.Coord) uint32 {
	t.Helper()
	idx, err := m.LookupIndex(c)
	if err != nil {
		t.Fatal(err)
	}
	return readWords(t, m, m.lookupBuf, int(idx), 1)[0]
}

// testChunk builds a depth-3 octree chunk with one voxel per color.
func testChunk(t *testing.T, x, y, z int, colors ...uint8) *chunk.Chunk {
	t.Helper()
	c, err := chunk.NewOctree(chunk.MustPack(x, y, z), 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, col := range colors {
		if err := c.Set(uint32(i%8), uint32(i/8%8), uint32(i/64%8), col); err != nil {
			t.Fatal(err)
		}
	}
	return c
}
