// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package feedback

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Layout sizes in bytes.
const (
	HeaderBytes = 16
	EntryBytes  = 16
)

// ErrShortBuffer is returned by Decode for data smaller than its header
// claims.
var ErrShortBuffer = errors.New("feedback: buffer too short")

// Result is one frame of decoded feedback.
type Result struct {
	// Positions are the world positions reported by the shader, in the
	// order they were appended.
	Positions []mgl32.Vec3

	// Reported is the raw count written by the shader. It exceeds
	// len(Positions) when the buffer overflowed.
	Reported uint32

	// Overflowed is set when the shader counted more misses than the
	// buffer could store. The stored entries are still valid.
	Overflowed bool
}

// Size returns the buffer size in bytes for capacity entries.
func Size(capacity int) uint64 {
	return HeaderBytes + uint64(capacity)*EntryBytes
}

// Decode parses a feedback buffer.
func Decode(raw []byte) (Result, error) {
	if len(raw) < HeaderBytes {
		return Result{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrShortBuffer, len(raw), HeaderBytes)
	}
	le := binary.LittleEndian
	count := le.Uint32(raw[0:4])
	capacity := le.Uint32(raw[4:8])

	n := min(count, capacity)
	if need := Size(int(n)); uint64(len(raw)) < need {
		return Result{}, fmt.Errorf("%w: %d entries need %d bytes, have %d", ErrShortBuffer, n, need, len(raw))
	}

	res := Result{
		Positions:  make([]mgl32.Vec3, n),
		Reported:   count,
		Overflowed: count > capacity,
	}
	for i := range res.Positions {
		e := raw[HeaderBytes+i*EntryBytes:]
		res.Positions[i] = mgl32.Vec3{
			math.Float32frombits(le.Uint32(e[0:4])),
			math.Float32frombits(le.Uint32(e[4:8])),
			math.Float32frombits(le.Uint32(e[8:12])),
		}
	}
	return res, nil
}

// Encode builds a feedback buffer holding positions, the way the shader
// would leave it. reported is written as the count; values above
// len(positions) simulate an overflow. It is used by tests and by the
// headless demo to stand in for a GPU pass.
func Encode(capacity int, reported uint32, positions []mgl32.Vec3) []byte {
	buf := make([]byte, Size(capacity))
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], reported)
	le.PutUint32(buf[4:8], uint32(capacity))
	for i, p := range positions[:min(len(positions), capacity)] {
		e := buf[HeaderBytes+i*EntryBytes:]
		le.PutUint32(e[0:4], math.Float32bits(p[0]))
		le.PutUint32(e[4:8], math.Float32bits(p[1]))
		le.PutUint32(e[8:12], math.Float32bits(p[2]))
		le.PutUint32(e[12:16], math.Float32bits(1))
	}
	return buf
}
