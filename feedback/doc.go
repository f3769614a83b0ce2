// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package feedback carries ray-march misses from the GPU back to the host.
//
// The traversal pass appends every query position that landed in an absent
// or pending chunk to a storage buffer bound at gpucache.BindingFeedback.
// After the frame the host copies that buffer into a mappable readback
// buffer, decodes it with Decode and pushes the positions into a Queue,
// which turns them into de-duplicated chunk coordinates for the streamer.
//
// Buffer layout (little-endian):
//
//	offset 0   u32 count     atomically incremented by the shader
//	offset 4   u32 capacity  entries the buffer can hold
//	offset 8   u32 pad[2]
//	offset 16  vec4<f32> entries[capacity]  xyz world position, w = 1
package feedback
