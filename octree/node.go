// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package octree

// Node word layout. A node is encoded in a single uint32 that the GPU
// traversal shader reads directly, so these constants are part of the
// buffer contract and change together with LayoutVersion.
//
//	bit 31      leaf flag
//	bit 30      reserved (has-vertex)
//	bits 22..29 leaf color
//	bits 8..23  internal: leaf-descendant count (saturating)
//	bits 0..7   internal: child-existence mask
const (
	LeafBit    uint32 = 1 << 31
	VertexBit  uint32 = 1 << 30
	ColorShift        = 22
	ColorMask  uint32 = 0xFF << ColorShift
	CountShift        = 8
	CountMask  uint32 = 0xFFFF << CountShift
	MaskBits   uint32 = 0xFF

	// MaxCount is the largest descendant count the encoded word can carry.
	MaxCount = 0xFFFF
)

// Node is one octree node at one depth level.
//
// A leaf has LeafBit set and a nil children array. An internal node has
// existence-mask bit i set if and only if children[i] is non-nil.
type Node struct {
	word     uint32
	leaves   uint32    // exact leaf-descendant count, internal nodes only
	children *[8]*Node // allocated on first child insert
}

// Word returns the node's encoded GPU word.
func (n *Node) Word() uint32 { return n.word }

// IsLeaf reports whether the node is a leaf.
func (n *Node) IsLeaf() bool { return n.word&LeafBit != 0 }

// Color returns the leaf color. It is zero for internal nodes.
func (n *Node) Color() uint8 {
	if !n.IsLeaf() {
		return 0
	}
	return uint8((n.word & ColorMask) >> ColorShift)
}

// Mask returns the child-existence mask of an internal node.
func (n *Node) Mask() uint8 {
	if n.IsLeaf() {
		return 0
	}
	return uint8(n.word & MaskBits)
}

// Leaves returns the number of leaf descendants of an internal node,
// or 1 for a leaf.
func (n *Node) Leaves() int {
	if n.IsLeaf() {
		return 1
	}
	return int(n.leaves)
}

// Child returns child i, or nil if it does not exist.
func (n *Node) Child(i int) *Node {
	if n.children == nil || i < 0 || i > 7 {
		return nil
	}
	return n.children[i]
}

// child returns child i, creating it if needed, and sets mask bit i.
func (n *Node) child(i int) *Node {
	if n.children == nil {
		n.children = new([8]*Node)
	}
	c := n.children[i]
	if c == nil {
		c = &Node{}
		n.children[i] = c
		n.word |= 1 << uint(i)
	}
	return c
}

// setLeaf converts the node into a leaf carrying color.
func (n *Node) setLeaf(color uint8) {
	n.children = nil
	n.leaves = 0
	n.word = LeafBit | uint32(color)<<ColorShift
}

// recount recomputes the descendant count from the children:
// one per leaf child plus the count of every internal child.
func (n *Node) recount() {
	var total uint32
	if n.children != nil {
		for _, c := range n.children {
			if c == nil {
				continue
			}
			if c.IsLeaf() {
				total++
			} else {
				total += c.leaves
			}
		}
	}
	n.leaves = total
	enc := total
	if enc > MaxCount {
		enc = MaxCount
	}
	n.word = n.word&^CountMask | enc<<CountShift
}

// LeafWord returns the encoded word of a leaf with the given color.
func LeafWord(color uint8) uint32 {
	return LeafBit | uint32(color)<<ColorShift
}

// WordColor decodes the color of a leaf word.
func WordColor(w uint32) uint8 { return uint8((w & ColorMask) >> ColorShift) }

// WordMask decodes the existence mask of an internal word.
func WordMask(w uint32) uint8 { return uint8(w & MaskBits) }

// WordCount decodes the saturated descendant count of an internal word.
func WordCount(w uint32) int { return int((w & CountMask) >> CountShift) }
