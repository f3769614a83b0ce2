// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package chunk

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Transfer format: a zstd stream wrapping a fixed little-endian header
// followed by the payload's linearized words.
//
//	magic   [4]byte "VXCK"
//	format  uint16
//	kind    uint8
//	depth   uint8
//	coord   uint32
//	version uint64
//	words   uint32
//	data    [words]uint32
const (
	formatVersion = 1
	headerSize    = 4 + 2 + 1 + 1 + 4 + 8 + 4

	// maxWords bounds the allocation made for a decoded payload (64 MiB).
	maxWords = 1 << 24
)

var magic = [4]byte{'V', 'X', 'C', 'K'}

// Encode writes c to w in the compressed transfer format.
func Encode(w io.Writer, c *Chunk) error {
	words := c.payload.Linearize()

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	var hdr [headerSize]byte
	copy(hdr[0:4], magic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], formatVersion)
	hdr[6] = byte(c.payload.Kind())
	hdr[7] = byte(c.payload.Depth())
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(c.coord))
	binary.LittleEndian.PutUint64(hdr[12:20], c.Version())
	binary.LittleEndian.PutUint32(hdr[20:24], uint32(len(words)))
	if _, err := bw.Write(hdr[:]); err != nil {
		enc.Close()
		return fmt.Errorf("chunk %s: write header: %w", c.coord, err)
	}
	if err := binary.Write(bw, binary.LittleEndian, words); err != nil {
		enc.Close()
		return fmt.Errorf("chunk %s: write words: %w", c.coord, err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Decode reads one chunk in the transfer format from r.
func Decode(r io.Reader) (*Chunk, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	br := bufio.NewReaderSize(dec, 64*1024)

	var hdr [headerSize]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorrupt, err)
	}
	if !bytes.Equal(hdr[0:4], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, hdr[0:4])
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, v)
	}
	kind := PayloadKind(hdr[6])
	depth := int(hdr[7])
	coord := Coord(binary.LittleEndian.Uint32(hdr[8:12]))
	version := binary.LittleEndian.Uint64(hdr[12:20])
	n := binary.LittleEndian.Uint32(hdr[20:24])
	if !coord.Valid() {
		return nil, fmt.Errorf("%w: coordinate %#x", ErrCorrupt, uint32(coord))
	}
	if n > maxWords {
		return nil, fmt.Errorf("%w: %d words", ErrCorrupt, n)
	}

	words := make([]uint32, n)
	if err := binary.Read(br, binary.LittleEndian, words); err != nil {
		return nil, fmt.Errorf("%w: words: %w", ErrCorrupt, err)
	}
	payload, err := decodePayload(kind, depth, words)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", coord, err)
	}

	c := New(coord, payload)
	c.version.Store(version)
	return c, nil
}

// Marshal encodes c into a byte slice.
func Marshal(c *Chunk) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a chunk from data.
func Unmarshal(data []byte) (*Chunk, error) {
	return Decode(bytes.NewReader(data))
}
