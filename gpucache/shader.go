// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucache

import (
	_ "embed"
	"encoding/binary"
	"math"

	"github.com/gogpu/gputypes"
)

// ShaderSource is the WGSL traversal pass that consumes the cache
// buffers. It resolves voxels at query positions and reports positions in
// non-resident chunks to the feedback buffer.
//
//go:embed shaders/traverse.wgsl
var ShaderSource string

// Extra bindings used by the traversal probe pass on top of the cache
// bindings.
const (
	BindingParams  = 4
	BindingQueries = 5
	BindingResults = 6

	// ProbeWorkgroupSize matches @workgroup_size in ShaderSource.
	ProbeWorkgroupSize = 64

	probeParamsBytes = 16
)

// ProbeParams is the uniform block of the traversal pass.
type ProbeParams struct {
	ChunkSize  float32
	GridExtent uint32
	Depth      uint32
	QueryCount uint32
}

// Bytes serializes the params to match the WGSL Params struct.
func (p ProbeParams) Bytes() []byte {
	buf := make([]byte, probeParamsBytes)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], math.Float32bits(p.ChunkSize))
	le.PutUint32(buf[4:8], p.GridExtent)
	le.PutUint32(buf[8:12], p.Depth)
	le.PutUint32(buf[12:16], p.QueryCount)
	return buf
}

// Workgroups returns the dispatch size for the params' query count.
func (p ProbeParams) Workgroups() uint32 {
	return (p.QueryCount + ProbeWorkgroupSize - 1) / ProbeWorkgroupSize
}

// ProbeBindGroupLayoutEntries extends BindGroupLayoutEntries with the
// params, queries and results bindings of the traversal pass.
func ProbeBindGroupLayoutEntries() []gputypes.BindGroupLayoutEntry {
	entry := func(binding uint32, typ gputypes.BufferBindingType, minSize uint64) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: typ, MinBindingSize: minSize},
		}
	}
	return append(BindGroupLayoutEntries(),
		entry(BindingParams, gputypes.BufferBindingTypeUniform, probeParamsBytes),
		entry(BindingQueries, gputypes.BufferBindingTypeReadOnlyStorage, 16),
		entry(BindingResults, gputypes.BufferBindingTypeStorage, 4),
	)
}
