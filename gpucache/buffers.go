// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucache

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/voxstream/chunk"
)

// Binding indices of the traversal bind group. They are shared with
// ShaderSource and versioned with octree.LayoutVersion.
const (
	BindingLookup      = 0
	BindingDescriptors = 1
	BindingData        = 2
	BindingFeedback    = 3
)

// Lookup table entry values. Any other value is a slot index plus one.
const (
	LookupAbsent  uint32 = 0
	LookupPending uint32 = 0xFFFFFFFF
)

// Slot descriptor layout: four u32 per slot.
//
//	word 0  offset of the slot in the data buffer, in words
//	word 1  uploaded word count
//	word 2  packed chunk coordinate
//	word 3  flags: bit 0 resident, bits 8..15 payload kind
const (
	DescriptorWords = 4
	DescriptorBytes = DescriptorWords * 4

	FlagResident uint32 = 1
	kindShift           = 8
)

// FeedbackMinBytes is the smallest feedback buffer the layout accepts:
// the 16-byte header plus one vec4<f32> entry.
const FeedbackMinBytes = 32

// createBuffer creates a GPU buffer, rounding tiny sizes up to the
// 4-byte minimum binding size.
func (m *Manager) createBuffer(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
	const minBufSize = 4
	if size < minBufSize {
		size = minBufSize
	}
	return m.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
}

// allocate creates the lookup, descriptor and data buffers. Failure is
// fatal: the cache cannot run without them.
func (m *Manager) allocate() error {
	storage := gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc

	type bufSpec struct {
		target   *hal.Buffer
		label    string
		size     uint64
		zeroInit bool
	}
	specs := []bufSpec{
		{&m.lookupBuf, m.cfg.Label + "_lookup", m.cfg.lookupBytes(), true},
		{&m.descBuf, m.cfg.Label + "_descriptors", m.cfg.descriptorBytes(), true},
		{&m.dataBuf, m.cfg.Label + "_data", m.cfg.dataBytes(), false},
	}

	for _, s := range specs {
		buf, err := m.createBuffer(s.label, s.size, storage)
		if err != nil {
			m.destroyBuffers()
			return fmt.Errorf("%w: create %s buffer (%d bytes): %w", ErrAllocation, s.label, s.size, err)
		}
		*s.target = buf

		// Absent lookup entries and non-resident descriptors are all zero.
		if s.zeroInit {
			if err := m.queue.WriteBuffer(buf, 0, make([]byte, s.size)); err != nil {
				m.destroyBuffers()
				return fmt.Errorf("%w: clear %s buffer: %w", ErrAllocation, s.label, err)
			}
		}
	}

	slogger().Debug("gpucache: buffers allocated",
		"slots", m.cfg.Slots,
		"slot_words", m.cfg.SlotWords,
		"grid_extent", m.cfg.GridExtent,
		"lookup_bytes", m.cfg.lookupBytes(),
		"data_bytes", m.cfg.dataBytes())
	return nil
}

func (m *Manager) destroyBuffers() {
	for _, b := range []*hal.Buffer{&m.lookupBuf, &m.descBuf, &m.dataBuf} {
		if *b != nil {
			m.device.DestroyBuffer(*b)
			*b = nil
		}
	}
}

// encodeDescriptor serializes one slot descriptor in little-endian order.
func encodeDescriptor(offsetWords, words uint32, coord chunk.Coord, kind chunk.PayloadKind, resident bool) []byte {
	flags := uint32(kind) << kindShift
	if resident {
		flags |= FlagResident
	}
	buf := make([]byte, DescriptorBytes)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], offsetWords)
	le.PutUint32(buf[4:8], words)
	le.PutUint32(buf[8:12], uint32(coord))
	le.PutUint32(buf[12:16], flags)
	return buf
}

// DecodeDescriptor parses one slot descriptor as written to the GPU.
func DecodeDescriptor(b []byte) (offsetWords, words uint32, coord chunk.Coord, kind chunk.PayloadKind, resident bool) {
	le := binary.LittleEndian
	flags := le.Uint32(b[12:16])
	return le.Uint32(b[0:4]), le.Uint32(b[4:8]), chunk.Coord(le.Uint32(b[8:12])),
		chunk.PayloadKind(flags >> kindShift & 0xFF), flags&FlagResident != 0
}

// wordBytes serializes words in little-endian order.
func wordBytes(words []uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

func uint32Bytes(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

// BindGroupLayoutEntries describes the traversal bind group: lookup,
// descriptors and data are read-only storage, feedback is read-write.
func BindGroupLayoutEntries() []gputypes.BindGroupLayoutEntry {
	entry := func(binding uint32, typ gputypes.BufferBindingType, minSize uint64) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer: &gputypes.BufferBindingLayout{
				Type:           typ,
				MinBindingSize: minSize,
			},
		}
	}
	return []gputypes.BindGroupLayoutEntry{
		entry(BindingLookup, gputypes.BufferBindingTypeReadOnlyStorage, 4),
		entry(BindingDescriptors, gputypes.BufferBindingTypeReadOnlyStorage, DescriptorBytes),
		entry(BindingData, gputypes.BufferBindingTypeReadOnlyStorage, 4),
		entry(BindingFeedback, gputypes.BufferBindingTypeStorage, FeedbackMinBytes),
	}
}

// BindGroupEntries binds the cache buffers, plus feedback when non-nil.
func (m *Manager) BindGroupEntries(feedback hal.Buffer) []gputypes.BindGroupEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := func(binding uint32, buf hal.Buffer) gputypes.BindGroupEntry {
		return gputypes.BindGroupEntry{
			Binding: binding,
			Resource: gputypes.BufferBinding{
				Buffer: buf.NativeHandle(),
				Offset: 0,
				Size:   0, // 0 = entire buffer
			},
		}
	}
	entries := []gputypes.BindGroupEntry{
		entry(BindingLookup, m.lookupBuf),
		entry(BindingDescriptors, m.descBuf),
		entry(BindingData, m.dataBuf),
	}
	if feedback != nil {
		entries = append(entries, entry(BindingFeedback, feedback))
	}
	return entries
}
