// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpucache keeps a bounded set of chunks resident in GPU memory.
//
// A Manager owns three storage buffers: a lookup table indexed by chunk
// coordinate, a per-slot descriptor buffer, and a shared data buffer split
// into fixed-size slots. Each slot moves through Free, Pending and
// Resident. RequestResidency and Release only change host state; Prepare
// applies every buffer write in an order that never lets the GPU follow a
// lookup entry into a slot whose data is not (or no longer) valid.
//
// The buffer layout is described by BindGroupLayoutEntries and consumed
// by ShaderSource.
package gpucache
