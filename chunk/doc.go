// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package chunk defines the unit of streaming: a fixed-size cube of world
// space addressed by a packed grid coordinate, owning one voxel payload and
// a descriptor that mirrors its placement in the GPU cache.
package chunk
