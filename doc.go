// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package voxstream streams a sparse voxel world through a bounded pool of
// GPU memory.
//
// The world is split into chunks, each a sparse octree of colored voxels
// (package octree, package chunk). Chunks are linearized into flat word
// buffers and uploaded into a fixed number of GPU slots (package gpucache).
// A compute pass that traverses those buffers reports positions it could
// not resolve; the host reads them back (package feedback) and the
// streamer (package stream) turns them into residency requests against
// the scene (package scene) before the next frame.
//
// Engine wires these together:
//
//	cfg, err := config.Load("voxstream.yaml")
//	...
//	eng, err := voxstream.New(device, queue, cfg)
//	...
//	defer eng.Close()
//	for {
//	    // dispatch the traversal pass with eng.BindGroupEntries(),
//	    // record eng.RecordFeedbackCopy(encoder), submit and wait
//	    report, err := eng.Frame()
//	    ...
//	}
//
// Packages overlay and debugview expose the cache state for tooling.
package voxstream
