// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package octree

import (
	"fmt"
	"math/bits"
)

// LayoutVersion identifies the node word layout and traversal order.
// The traversal shader checks the same number; bump both together.
const LayoutVersion = 1

// initialWords is the starting capacity of the emission buffer.
const initialWords = 256

// Linearize flattens the tree rooted at root into GPU words.
//
// The traversal is an explicit-stack depth-first walk. A popped node's
// word is emitted, then its existing children are pushed from octant 7
// down to octant 0, so octant 0 is emitted next. The result is a
// pre-order sequence with siblings in ascending octant order, which a
// consumer can decode using only each internal node's existence mask.
func Linearize(root *Node) []uint32 {
	if root == nil {
		return nil
	}
	out := make([]uint32, 0, initialWords)
	stack := make([]*Node, 1, 8*MaxDepth)
	stack[0] = root

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if len(out) == cap(out) {
			out = grow(out)
		}
		out = append(out, n.word)

		if n.children == nil {
			continue
		}
		for i := 7; i >= 0; i-- {
			if c := n.children[i]; c != nil {
				stack = append(stack, c)
			}
		}
	}
	return out
}

// Linearize flattens the tree. See the package-level Linearize.
func (t *Octree) Linearize() []uint32 { return Linearize(t.root) }

// grow doubles the capacity of the emission buffer.
func grow(s []uint32) []uint32 {
	g := make([]uint32, len(s), 2*cap(s))
	copy(g, s)
	return g
}

// scanFrame is one internal node on the decoder stack.
type scanFrame struct {
	level      int
	ox, oy, oz uint32
	pending    uint8 // children not yet consumed
}

// scan decodes linear words and calls visit for every leaf until visit
// returns false. It rejects truncated input, trailing words, leaves above
// the final level, internal nodes at the final level and empty non-root
// internal nodes.
func scan(words []uint32, depth int, visit func(x, y, z uint32, color uint8) bool) error {
	if depth < 1 || depth > MaxDepth {
		return fmt.Errorf("%w: %d", ErrDepth, depth)
	}
	if len(words) == 0 {
		return fmt.Errorf("%w: empty buffer", ErrMalformed)
	}
	root := words[0]
	if root&LeafBit != 0 {
		return fmt.Errorf("%w: root is a leaf", ErrMalformed)
	}

	side := uint32(1) << uint(depth)
	stack := make([]scanFrame, 1, MaxDepth+1)
	stack[0] = scanFrame{pending: WordMask(root)}
	pos := 1

	for len(stack) > 0 {
		top := len(stack) - 1
		f := stack[top]
		if f.pending == 0 {
			stack = stack[:top]
			continue
		}
		i := bits.TrailingZeros8(f.pending)
		stack[top].pending &^= 1 << uint(i)

		if pos >= len(words) {
			return fmt.Errorf("%w: truncated at word %d", ErrMalformed, pos)
		}
		w := words[pos]
		pos++

		half := side >> uint(f.level+1)
		x, y, z := childOrigin(i, f.ox, f.oy, f.oz, half)
		level := f.level + 1

		if w&LeafBit != 0 {
			if level != depth {
				return fmt.Errorf("%w: leaf at level %d of %d (word %d)", ErrMalformed, level, depth, pos-1)
			}
			if !visit(x, y, z, WordColor(w)) {
				return nil
			}
			continue
		}
		if level == depth {
			return fmt.Errorf("%w: internal node at final level (word %d)", ErrMalformed, pos-1)
		}
		m := WordMask(w)
		if m == 0 {
			return fmt.Errorf("%w: empty internal node (word %d)", ErrMalformed, pos-1)
		}
		stack = append(stack, scanFrame{level: level, ox: x, oy: y, oz: z, pending: m})
	}

	if pos != len(words) {
		return fmt.Errorf("%w: %d trailing words", ErrMalformed, len(words)-pos)
	}
	return nil
}

// Reconstruct rebuilds an octree from words produced by Linearize.
func Reconstruct(words []uint32, depth int) (*Octree, error) {
	t, err := New(depth)
	if err != nil {
		return nil, err
	}
	var insertErr error
	err = scan(words, depth, func(x, y, z uint32, color uint8) bool {
		insertErr = t.Insert(x, y, z, color)
		return insertErr == nil
	})
	if err != nil {
		return nil, err
	}
	if insertErr != nil {
		return nil, insertErr
	}
	return t, nil
}

// LookupLinear answers a point query directly against linear words,
// walking them sequentially the way the traversal shader does.
func LookupLinear(words []uint32, depth int, x, y, z uint32) (uint8, bool, error) {
	var (
		color uint8
		found bool
	)
	err := scan(words, depth, func(lx, ly, lz uint32, c uint8) bool {
		if lx == x && ly == y && lz == z {
			color, found = c, true
			return false
		}
		return true
	})
	return color, found, err
}
