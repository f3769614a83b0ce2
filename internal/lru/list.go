// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package lru

// node is an element of the recency list. It stores the key so the
// owning map entry can be deleted when the node is evicted.
type node[K comparable] struct {
	key        K
	prev, next *node[K]
}

// list is a doubly-linked recency list, most recent at head.
// Not safe for concurrent use; shards lock around it.
type list[K comparable] struct {
	head, tail *node[K]
	len        int
}

func (l *list[K]) pushFront(key K) *node[K] {
	n := &node[K]{key: key, next: l.head}
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.len++
	return n
}

func (l *list[K]) moveToFront(n *node[K]) {
	if n == l.head {
		return
	}
	l.remove(n)
	n.prev, n.next = nil, l.head
	if l.head != nil {
		l.head.prev = n
	} else {
		l.tail = n
	}
	l.head = n
	l.len++
}

func (l *list[K]) remove(n *node[K]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
	l.len--
}

func (l *list[K]) removeOldest() (K, bool) {
	if l.tail == nil {
		var zero K
		return zero, false
	}
	n := l.tail
	l.remove(n)
	return n.key, true
}
