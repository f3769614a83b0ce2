// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package octree encodes the voxels of one chunk as a sparse octree of
// fixed depth and flattens it into the word sequence read by the GPU
// traversal shader.
//
// Each node is a single uint32 (see LeafBit and friends). Internal nodes
// carry an 8-bit child-existence mask and a saturating count of leaf
// descendants; leaves carry an 8-bit color. Linearize emits nodes in
// pre-order with siblings in ascending octant order, and Reconstruct and
// LookupLinear decode that order on the CPU.
package octree
