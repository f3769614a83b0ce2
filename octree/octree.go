// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package octree

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxDepth is the deepest tree supported. A depth-10 tree covers 1024
// voxels per axis and keeps the traversal stack of the GPU shader bounded.
const MaxDepth = 10

// Octree errors.
var (
	// ErrOutOfRange is returned when a coordinate lies outside the tree cube.
	ErrOutOfRange = errors.New("octree: coordinate out of range")

	// ErrDepth is returned for a depth outside [1, MaxDepth].
	ErrDepth = errors.New("octree: invalid depth")

	// ErrMalformed is returned when linear data cannot be decoded.
	ErrMalformed = errors.New("octree: malformed linear data")
)

// Octree is a sparse voxel tree of fixed depth covering a cube of side
// 2^depth. It is not safe for concurrent mutation, and must not be
// mutated while it is being linearized.
type Octree struct {
	root  *Node
	depth int
}

// New creates an empty octree of the given depth.
func New(depth int) (*Octree, error) {
	if depth < 1 || depth > MaxDepth {
		return nil, fmt.Errorf("%w: %d", ErrDepth, depth)
	}
	return &Octree{root: &Node{}, depth: depth}, nil
}

// Depth returns the fixed tree depth.
func (t *Octree) Depth() int { return t.depth }

// Side returns the number of voxels along each axis.
func (t *Octree) Side() uint32 { return 1 << uint(t.depth) }

// Root returns the root node.
func (t *Octree) Root() *Node { return t.root }

// octant selects the child index for coordinates relative to the midpoint.
func octant(x, y, z, mid uint32) int {
	i := 0
	if x >= mid {
		i |= 1
	}
	if y >= mid {
		i |= 2
	}
	if z >= mid {
		i |= 4
	}
	return i
}

// Insert sets the voxel at (x, y, z) to color. Inserting an existing
// voxel overwrites its color. Every ancestor's descendant count is
// recomputed afterwards, which costs O(depth*8).
func (t *Octree) Insert(x, y, z uint32, color uint8) error {
	side := t.Side()
	if x >= side || y >= side || z >= side {
		return fmt.Errorf("%w: (%d,%d,%d) outside [0,%d)", ErrOutOfRange, x, y, z, side)
	}

	var path [MaxDepth]*Node
	n := t.root
	for level := 0; level < t.depth; level++ {
		mid := side >> uint(level+1)
		i := octant(x, y, z, mid)
		x, y, z = x%mid, y%mid, z%mid
		path[level] = n
		n = n.child(i)
	}
	n.setLeaf(color)

	for level := t.depth - 1; level >= 0; level-- {
		path[level].recount()
	}
	return nil
}

// Lookup returns the color of the voxel at (x, y, z) and whether it is set.
// Coordinates outside the cube report false.
func (t *Octree) Lookup(x, y, z uint32) (uint8, bool) {
	side := t.Side()
	if x >= side || y >= side || z >= side {
		return 0, false
	}
	n := t.root
	for level := 0; level < t.depth; level++ {
		mid := side >> uint(level+1)
		n = n.Child(octant(x, y, z, mid))
		if n == nil {
			return 0, false
		}
		x, y, z = x%mid, y%mid, z%mid
	}
	return n.Color(), n.IsLeaf()
}

// Leaves returns the number of set voxels.
func (t *Octree) Leaves() int { return int(t.root.leaves) }

// Density returns the fraction of the cube that is occupied.
func (t *Octree) Density() float64 {
	side := float64(t.Side())
	return float64(t.root.leaves) / (side * side * side)
}

// Walk calls fn for every leaf in linearization order.
func (t *Octree) Walk(fn func(x, y, z uint32, color uint8)) {
	t.walk(t.root, 0, 0, 0, 0, fn)
}

func (t *Octree) walk(n *Node, level int, ox, oy, oz uint32, fn func(x, y, z uint32, color uint8)) {
	if n.IsLeaf() {
		fn(ox, oy, oz, n.Color())
		return
	}
	if n.children == nil {
		return
	}
	half := t.Side() >> uint(level+1)
	for i, c := range n.children {
		if c == nil {
			continue
		}
		x, y, z := childOrigin(i, ox, oy, oz, half)
		t.walk(c, level+1, x, y, z, fn)
	}
}

// childOrigin returns the minimum corner of child octant i.
func childOrigin(i int, ox, oy, oz, half uint32) (uint32, uint32, uint32) {
	if i&1 != 0 {
		ox += half
	}
	if i&2 != 0 {
		oy += half
	}
	if i&4 != 0 {
		oz += half
	}
	return ox, oy, oz
}

// Dump writes an indented description of the tree to w, one node per line.
func (t *Octree) Dump(w io.Writer) error {
	return dumpNode(w, t.root, -1, 0)
}

func dumpNode(w io.Writer, n *Node, index, level int) error {
	indent := strings.Repeat("  ", level)
	var err error
	switch {
	case n.IsLeaf():
		_, err = fmt.Fprintf(w, "%s[%d] leaf color=%d\n", indent, index, n.Color())
	case index < 0:
		_, err = fmt.Fprintf(w, "%sroot mask=%08b leaves=%d\n", indent, n.Mask(), n.leaves)
	default:
		_, err = fmt.Fprintf(w, "%s[%d] node mask=%08b leaves=%d\n", indent, index, n.Mask(), n.leaves)
	}
	if err != nil || n.children == nil {
		return err
	}
	for i, c := range n.children {
		if c == nil {
			continue
		}
		if err := dumpNode(w, c, i, level+1); err != nil {
			return err
		}
	}
	return nil
}
