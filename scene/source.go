// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package scene

import (
	"errors"

	"github.com/gogpu/voxstream/chunk"
)

// ErrEmpty is returned by CreateChunk when the coordinate holds no voxels.
// Empty coordinates are remembered and never generated twice.
var ErrEmpty = errors.New("scene: chunk is empty")

// Source resolves chunk coordinates to chunks.
type Source interface {
	// GetChunkAt returns the chunk at c, or nil when it has not been
	// created.
	GetChunkAt(c chunk.Coord) *chunk.Chunk

	// CreateChunk returns the chunk at c, generating it first if needed.
	// It returns ErrEmpty when the coordinate holds nothing.
	CreateChunk(c chunk.Coord) (*chunk.Chunk, error)
}

// Generator fills a freshly allocated chunk. The chunk is not yet visible
// to anyone else while Generate runs.
type Generator interface {
	Generate(c *chunk.Chunk) error
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(c *chunk.Chunk) error

func (f GeneratorFunc) Generate(c *chunk.Chunk) error { return f(c) }
