// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucache

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/voxstream/chunk"
)

// Default configuration values.
const (
	DefaultSlots      = 20
	DefaultSlotWords  = 8192
	DefaultGridExtent = 64
)

// Config sizes the cache buffers.
type Config struct {
	// Label prefixes GPU buffer labels. Defaults to "voxstream".
	Label string

	// Slots is the number of chunks that can be resident at once.
	Slots int

	// SlotWords is the capacity of one slot in 32-bit words. Chunks that
	// linearize to more words are rejected with ErrChunkTooLarge.
	SlotWords int

	// GridExtent is the number of chunk coordinates covered by the GPU
	// lookup table along each axis, starting at the grid origin. It must
	// not exceed chunk.GridSide.
	GridExtent int

	// UploadsPerPrepare bounds the slots uploaded by one Prepare call.
	// Zero means no bound.
	UploadsPerPrepare int

	// LinearCacheWords is the word budget for cached linearizations.
	// Zero means four times the data buffer capacity.
	LinearCacheWords int64

	// Limits are checked against the buffer sizes. Zero value means
	// gputypes.DefaultLimits().
	Limits gputypes.Limits
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Label == "" {
		c.Label = "voxstream"
	}
	if c.Slots == 0 {
		c.Slots = DefaultSlots
	}
	if c.SlotWords == 0 {
		c.SlotWords = DefaultSlotWords
	}
	if c.GridExtent == 0 {
		c.GridExtent = DefaultGridExtent
	}
	if c.LinearCacheWords == 0 {
		c.LinearCacheWords = 4 * int64(c.Slots) * int64(c.SlotWords)
	}
	if c.Limits.MaxStorageBufferBindingSize == 0 {
		c.Limits = gputypes.DefaultLimits()
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.Slots < 1:
		return fmt.Errorf("%w: slots %d", ErrInvalidConfig, c.Slots)
	case c.SlotWords < 1:
		return fmt.Errorf("%w: slot words %d", ErrInvalidConfig, c.SlotWords)
	case c.GridExtent < 1 || c.GridExtent > chunk.GridSide:
		return fmt.Errorf("%w: grid extent %d outside [1,%d]", ErrInvalidConfig, c.GridExtent, chunk.GridSide)
	case c.UploadsPerPrepare < 0:
		return fmt.Errorf("%w: uploads per prepare %d", ErrInvalidConfig, c.UploadsPerPrepare)
	}
	limit := c.Limits.MaxStorageBufferBindingSize
	if c.Limits.MaxBufferSize != 0 && c.Limits.MaxBufferSize < limit {
		limit = c.Limits.MaxBufferSize
	}
	for _, b := range []struct {
		name string
		size uint64
	}{
		{"lookup", c.lookupBytes()},
		{"descriptor", c.descriptorBytes()},
		{"data", c.dataBytes()},
	} {
		if b.size > limit {
			return fmt.Errorf("%w: %s buffer needs %d bytes, limit %d", ErrInvalidConfig, b.name, b.size, limit)
		}
	}
	return nil
}

func (c Config) lookupBytes() uint64 {
	e := uint64(c.GridExtent)
	return e * e * e * 4
}

func (c Config) descriptorBytes() uint64 { return uint64(c.Slots) * DescriptorBytes }

func (c Config) dataBytes() uint64 { return uint64(c.Slots) * uint64(c.SlotWords) * 4 }
