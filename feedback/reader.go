// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package feedback

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Reader errors.
var (
	ErrNoDevice        = errors.New("feedback: no device")
	ErrInvalidCapacity = errors.New("feedback: capacity must be positive")
	ErrAllocation      = errors.New("feedback: buffer allocation failed")
	ErrClosed          = errors.New("feedback: reader closed")
)

// Reader owns the feedback storage buffer and its readback copy.
//
// Per frame: Reset before the traversal dispatch, RecordCopy after it in
// the same encoder, then Read once the submission has completed.
type Reader struct {
	device   hal.Device
	queue    hal.Queue
	capacity int

	storage  hal.Buffer
	readback hal.Buffer
}

// NewReader allocates buffers for capacity entries.
func NewReader(device hal.Device, queue hal.Queue, label string, capacity int) (*Reader, error) {
	if device == nil || queue == nil {
		return nil, ErrNoDevice
	}
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if label == "" {
		label = "voxstream"
	}
	r := &Reader{device: device, queue: queue, capacity: capacity}
	size := Size(capacity)

	var err error
	r.storage, err = device.CreateBuffer(&hal.BufferDescriptor{
		Label: label + "_feedback",
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: storage: %w", ErrAllocation, err)
	}
	r.readback, err = device.CreateBuffer(&hal.BufferDescriptor{
		Label: label + "_feedback_readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		device.DestroyBuffer(r.storage)
		return nil, fmt.Errorf("%w: readback: %w", ErrAllocation, err)
	}
	if err := r.Reset(); err != nil {
		r.Close()
		return nil, err
	}
	slogger().Debug("feedback: reader created", "capacity", capacity, "bytes", size)
	return r, nil
}

// Capacity returns the number of entries the buffer can hold.
func (r *Reader) Capacity() int { return r.capacity }

// Buffer returns the storage buffer to bind at gpucache.BindingFeedback.
func (r *Reader) Buffer() hal.Buffer { return r.storage }

// Readback returns the mappable copy of the storage buffer.
func (r *Reader) Readback() hal.Buffer { return r.readback }

// Reset zeroes the counter and writes the capacity into the header.
func (r *Reader) Reset() error {
	if r.storage == nil {
		return ErrClosed
	}
	var hdr [HeaderBytes]byte
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(r.capacity))
	if err := r.queue.WriteBuffer(r.storage, 0, hdr[:]); err != nil {
		return fmt.Errorf("feedback: reset: %w", err)
	}
	return nil
}

// RecordCopy records the storage to readback copy into enc.
func (r *Reader) RecordCopy(enc hal.CommandEncoder) {
	enc.CopyBufferToBuffer(r.storage, r.readback, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: Size(r.capacity)},
	})
}

// Read maps the readback buffer and decodes it. The submission that
// recorded the copy must have completed.
func (r *Reader) Read() (Result, error) {
	if r.readback == nil {
		return Result{}, ErrClosed
	}
	size := Size(r.capacity)
	mapping, err := r.device.MapBuffer(r.readback, 0, size)
	if err != nil {
		return Result{}, fmt.Errorf("feedback: map readback: %w", err)
	}
	raw := make([]byte, size)
	copy(raw, unsafe.Slice((*byte)(mapping.Ptr), size))
	if err := r.device.UnmapBuffer(r.readback); err != nil {
		return Result{}, fmt.Errorf("feedback: unmap readback: %w", err)
	}

	res, err := Decode(raw)
	if err != nil {
		return Result{}, err
	}
	if res.Overflowed {
		slogger().Warn("feedback: buffer overflowed",
			"reported", res.Reported, "capacity", r.capacity)
	}
	return res, nil
}

// Close destroys both buffers.
func (r *Reader) Close() {
	for _, b := range []*hal.Buffer{&r.storage, &r.readback} {
		if *b != nil {
			r.device.DestroyBuffer(*b)
			*b = nil
		}
	}
}
