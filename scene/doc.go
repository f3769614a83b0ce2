// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package scene owns the CPU side of the voxel world: the set of chunks
// that exist and the generator that produces new ones on demand.
//
// The streamer only sees the Source interface. Store is the in-memory
// implementation; it creates chunks through a Generator, remembers
// coordinates that generated nothing, and can fill a batch of coordinates
// in parallel.
package scene
