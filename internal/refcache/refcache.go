// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package refcache implements the identity cache behind a reference system:
// an arena of entries, each linked into two size-balanced binary trees. One
// tree orders entries by object ID, the other by identity hash with the ID
// breaking ties. Entries are addressed by Handle, an index into the arena,
// so neither tree holds language pointers to its nodes.
package refcache

import (
	"cmp"

	"github.com/cockroachdb/errors"
)

// Handle identifies an entry in a Cache. The zero Handle is never a valid
// entry.
type Handle int32

type tree uint8

const (
	byID tree = iota
	byHash
	numTrees
)

// imbalance is the subtree size difference beyond which a node is rotated.
const imbalance = 2

type link struct {
	left, right Handle
	size        int32
}

type node[V any] struct {
	id    int32
	hash  uint64
	val   V
	links [numTrees]link
	live  bool
}

// Cache is an arena of entries keyed both by ID and by identity hash. It is
// not safe for concurrent use.
type Cache[V any] struct {
	nodes []node[V]
	free  []Handle
	roots [numTrees]Handle
	count int
}

// New returns an empty cache.
func New[V any]() *Cache[V] {
	c := &Cache[V]{}
	c.Reset()
	return c
}

// Reset drops every entry.
func (c *Cache[V]) Reset() {
	// Slot 0 is the nil handle.
	c.nodes = append(c.nodes[:0], node[V]{})
	c.free = c.free[:0]
	c.roots = [numTrees]Handle{}
	c.count = 0
}

// Len returns the number of entries.
func (c *Cache[V]) Len() int {
	return c.count
}

// Add inserts an entry for (id, hash) and returns its handle. The caller
// guarantees that no entry with the same id exists.
func (c *Cache[V]) Add(id int32, hash uint64, v V) Handle {
	var h Handle
	if n := len(c.free); n > 0 {
		h = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		c.nodes = append(c.nodes, node[V]{})
		h = Handle(len(c.nodes) - 1)
	}
	c.nodes[h] = node[V]{id: id, hash: hash, val: v, live: true}
	for t := range numTrees {
		c.roots[t] = c.insert(t, c.roots[t], h)
	}
	c.count++
	return h
}

// Remove unlinks the entry from both trees and releases its handle.
func (c *Cache[V]) Remove(h Handle) {
	if !c.valid(h) {
		panic(errors.AssertionFailedf("refcache: remove of invalid handle %d", h))
	}
	for t := range numTrees {
		c.roots[t] = c.remove(t, c.roots[t], h)
	}
	c.nodes[h] = node[V]{}
	c.free = append(c.free, h)
	c.count--
}

// Get returns the value stored in the entry.
func (c *Cache[V]) Get(h Handle) V {
	return c.nodes[h].val
}

// ID returns the ID the entry is keyed by.
func (c *Cache[V]) ID(h Handle) int32 {
	return c.nodes[h].id
}

// Hash returns the identity hash the entry is keyed by.
func (c *Cache[V]) Hash(h Handle) uint64 {
	return c.nodes[h].hash
}

// FindID returns the entry for id.
func (c *Cache[V]) FindID(id int32) (Handle, bool) {
	n := c.roots[byID]
	for n != 0 {
		switch x := cmp.Compare(id, c.nodes[n].id); {
		case x < 0:
			n = c.nodes[n].links[byID].left
		case x > 0:
			n = c.nodes[n].links[byID].right
		default:
			return n, true
		}
	}
	return 0, false
}

// FindHash returns the first entry with the given identity hash for which
// match returns true. Entries sharing a hash are visited in ID order.
func (c *Cache[V]) FindHash(hash uint64, match func(V) bool) (Handle, bool) {
	return c.findHash(c.roots[byHash], hash, match)
}

func (c *Cache[V]) findHash(n Handle, hash uint64, match func(V) bool) (Handle, bool) {
	for n != 0 {
		nd := &c.nodes[n]
		switch x := cmp.Compare(hash, nd.hash); {
		case x < 0:
			n = nd.links[byHash].left
		case x > 0:
			n = nd.links[byHash].right
		default:
			if h, ok := c.findHash(nd.links[byHash].left, hash, match); ok {
				return h, true
			}
			if match(nd.val) {
				return n, true
			}
			n = nd.links[byHash].right
		}
	}
	return 0, false
}

// Ascend calls fn for every entry in ID order until fn returns false. fn
// must not modify the cache.
func (c *Cache[V]) Ascend(fn func(Handle, V) bool) {
	c.ascend(byID, c.roots[byID], fn)
}

// AscendHash is like Ascend but visits entries in identity hash order.
func (c *Cache[V]) AscendHash(fn func(Handle, V) bool) {
	c.ascend(byHash, c.roots[byHash], fn)
}

func (c *Cache[V]) ascend(t tree, n Handle, fn func(Handle, V) bool) bool {
	if n == 0 {
		return true
	}
	l := c.nodes[n].links[t]
	return c.ascend(t, l.left, fn) && fn(n, c.nodes[n].val) && c.ascend(t, l.right, fn)
}

// Handles returns the handles of all entries in ID order. Unlike Ascend the
// result can be iterated while removing entries.
func (c *Cache[V]) Handles() []Handle {
	hs := make([]Handle, 0, c.count)
	c.Ascend(func(h Handle, _ V) bool {
		hs = append(hs, h)
		return true
	})
	return hs
}

// Verify checks the ordering and size bookkeeping of both trees.
func (c *Cache[V]) Verify() error {
	for t := range numTrees {
		size, err := c.verify(t, c.roots[t], 0, 0)
		if err != nil {
			return err
		}
		if int(size) != c.count {
			return errors.Newf("refcache: tree %d holds %d entries, expected %d", t, size, c.count)
		}
	}
	return nil
}

func (c *Cache[V]) verify(t tree, n, lo, hi Handle) (int32, error) {
	if n == 0 {
		return 0, nil
	}
	if !c.nodes[n].live {
		return 0, errors.Newf("refcache: tree %d links released handle %d", t, n)
	}
	if lo != 0 && c.compare(t, lo, n) >= 0 {
		return 0, errors.Newf("refcache: tree %d misordered at handle %d", t, n)
	}
	if hi != 0 && c.compare(t, n, hi) >= 0 {
		return 0, errors.Newf("refcache: tree %d misordered at handle %d", t, n)
	}
	l := c.nodes[n].links[t]
	ls, err := c.verify(t, l.left, lo, n)
	if err != nil {
		return 0, err
	}
	rs, err := c.verify(t, l.right, n, hi)
	if err != nil {
		return 0, err
	}
	if l.size != ls+rs+1 {
		return 0, errors.Newf("refcache: tree %d handle %d has size %d, expected %d", t, n, l.size, ls+rs+1)
	}
	return l.size, nil
}

func (c *Cache[V]) valid(h Handle) bool {
	return h > 0 && int(h) < len(c.nodes) && c.nodes[h].live
}

func (c *Cache[V]) compare(t tree, a, b Handle) int {
	na, nb := &c.nodes[a], &c.nodes[b]
	if t == byHash {
		if x := cmp.Compare(na.hash, nb.hash); x != 0 {
			return x
		}
	}
	return cmp.Compare(na.id, nb.id)
}

func (c *Cache[V]) link(t tree, h Handle) *link {
	return &c.nodes[h].links[t]
}

func (c *Cache[V]) size(t tree, h Handle) int32 {
	if h == 0 {
		return 0
	}
	return c.nodes[h].links[t].size
}

func (c *Cache[V]) fixSize(t tree, h Handle) {
	l := c.link(t, h)
	l.size = c.size(t, l.left) + c.size(t, l.right) + 1
}

func (c *Cache[V]) insert(t tree, n, h Handle) Handle {
	if n == 0 {
		*c.link(t, h) = link{size: 1}
		return h
	}
	if c.compare(t, h, n) < 0 {
		left := c.insert(t, c.link(t, n).left, h)
		c.link(t, n).left = left
	} else {
		right := c.insert(t, c.link(t, n).right, h)
		c.link(t, n).right = right
	}
	return c.balance(t, n)
}

func (c *Cache[V]) remove(t tree, n, h Handle) Handle {
	if n == 0 {
		panic(errors.AssertionFailedf("refcache: handle %d missing from tree %d", h, t))
	}
	if n == h {
		return c.unlink(t, n)
	}
	if c.compare(t, h, n) < 0 {
		left := c.remove(t, c.link(t, n).left, h)
		c.link(t, n).left = left
	} else {
		right := c.remove(t, c.link(t, n).right, h)
		c.link(t, n).right = right
	}
	return c.balance(t, n)
}

// unlink removes n from the subtree it roots and returns the new root. The
// smallest entry of the right subtree replaces n.
func (c *Cache[V]) unlink(t tree, n Handle) Handle {
	l := *c.link(t, n)
	switch {
	case l.left == 0:
		return l.right
	case l.right == 0:
		return l.left
	}
	succ := c.smallestUp(t, l.right)
	c.link(t, succ).left = l.left
	return c.balance(t, succ)
}

// smallestUp rotates the smallest entry of the subtree to its root.
func (c *Cache[V]) smallestUp(t tree, n Handle) Handle {
	left := c.link(t, n).left
	if left == 0 {
		return n
	}
	c.link(t, n).left = c.smallestUp(t, left)
	return c.rotateRight(t, n)
}

func (c *Cache[V]) balance(t tree, n Handle) Handle {
	l := c.link(t, n)
	switch d := c.size(t, l.right) - c.size(t, l.left); {
	case d > imbalance:
		return c.rotateLeft(t, n)
	case d < -imbalance:
		return c.rotateRight(t, n)
	default:
		c.fixSize(t, n)
		return n
	}
}

func (c *Cache[V]) rotateLeft(t tree, n Handle) Handle {
	r := c.link(t, n).right
	c.link(t, n).right = c.link(t, r).left
	c.fixSize(t, n)
	c.link(t, r).left = n
	c.fixSize(t, r)
	return r
}

func (c *Cache[V]) rotateRight(t tree, n Handle) Handle {
	l := c.link(t, n).left
	c.link(t, n).left = c.link(t, l).right
	c.fixSize(t, n)
	c.link(t, l).right = n
	c.fixSize(t, l)
	return l
}
