package vmatree

import (
	"fmt"
	"math/rand/v2"

	"fortio.org/safecast"
)

// nodeRef addresses a node in the arena.
type nodeRef int32

const nilRef nodeRef = -1

type treapNode struct {
	key   Position
	val   IntervalChange
	prio  uint32
	left  nodeRef
	right nodeRef
}

// treap is an arena-backed randomized search tree keyed by Position.
type treap struct {
	nodes []treapNode
	free  []nodeRef
	root  nodeRef
	size  int
	rng   *rand.Rand
}

func newTreap(seed uint64) treap {
	return treap{
		root: nilRef,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
	}
}

func (t *treap) at(r nodeRef) *treapNode { return &t.nodes[r] }

func (t *treap) alloc(key Position, val IntervalChange) nodeRef {
	n := treapNode{key: key, val: val, prio: t.rng.Uint32(), left: nilRef, right: nilRef}
	if k := len(t.free); k > 0 {
		r := t.free[k-1]
		t.free = t.free[:k-1]
		t.nodes[r] = n
		return r
	}
	idx, err := safecast.Conv[int32](len(t.nodes))
	if err != nil {
		panic(fmt.Errorf("vmatree: node arena overflow: %w", err))
	}
	t.nodes = append(t.nodes, n)
	return nodeRef(idx)
}

func (t *treap) release(r nodeRef) {
	t.nodes[r] = treapNode{left: nilRef, right: nilRef}
	t.free = append(t.free, r)
}

// split divides the subtree at r into keys < key and keys >= key. With
// inclusive set the left part takes keys <= key instead.
func (t *treap) split(r nodeRef, key Position, inclusive bool) (nodeRef, nodeRef) {
	if r == nilRef {
		return nilRef, nilRef
	}
	n := t.at(r)
	goesLeft := n.key < key || (inclusive && n.key == key)
	if goesLeft {
		l, rr := t.split(n.right, key, inclusive)
		t.at(r).right = l
		return r, rr
	}
	l, rr := t.split(n.left, key, inclusive)
	t.at(r).left = rr
	return l, r
}

// merge joins two subtrees where every key in a is below every key in b.
func (t *treap) merge(a, b nodeRef) nodeRef {
	if a == nilRef {
		return b
	}
	if b == nilRef {
		return a
	}
	if t.at(a).prio >= t.at(b).prio {
		t.at(a).right = t.merge(t.at(a).right, b)
		return a
	}
	t.at(b).left = t.merge(a, t.at(b).left)
	return b
}

func (t *treap) find(key Position) nodeRef {
	r := t.root
	for r != nilRef {
		n := t.at(r)
		switch {
		case key < n.key:
			r = n.left
		case key > n.key:
			r = n.right
		default:
			return r
		}
	}
	return nilRef
}

// upsert sets the value at key, inserting a node if needed.
func (t *treap) upsert(key Position, val IntervalChange) {
	if r := t.find(key); r != nilRef {
		t.at(r).val = val
		return
	}
	l, r := t.split(t.root, key, false)
	t.root = t.merge(t.merge(l, t.alloc(key, val)), r)
	t.size++
}

// remove deletes the node at key if present.
func (t *treap) remove(key Position) {
	if t.find(key) == nilRef {
		return
	}
	l, rest := t.split(t.root, key, false)
	mid, r := t.split(rest, key, true)
	t.release(mid)
	t.size--
	t.root = t.merge(l, r)
}

// cutOpen detaches the subtree of all keys in (lo, hi) and returns it.
func (t *treap) cutOpen(lo, hi Position) nodeRef {
	l, rest := t.split(t.root, lo, true)
	mid, r := t.split(rest, hi, false)
	t.root = t.merge(l, r)
	return mid
}

// drop frees every node of a detached subtree.
func (t *treap) drop(r nodeRef) {
	if r == nilRef {
		return
	}
	n := *t.at(r)
	t.drop(n.left)
	t.drop(n.right)
	t.release(r)
	t.size--
}

// closestLEQ returns the node with the greatest key <= key.
func (t *treap) closestLEQ(key Position) nodeRef {
	best := nilRef
	r := t.root
	for r != nilRef {
		n := t.at(r)
		if n.key <= key {
			best = r
			if n.key == key {
				return r
			}
			r = n.right
		} else {
			r = n.left
		}
	}
	return best
}

// closestGEQ returns the node with the smallest key >= key.
func (t *treap) closestGEQ(key Position) nodeRef {
	best := nilRef
	r := t.root
	for r != nilRef {
		n := t.at(r)
		if n.key >= key {
			best = r
			if n.key == key {
				return r
			}
			r = n.left
		} else {
			r = n.right
		}
	}
	return best
}

// closestGT returns the node with the smallest key > key.
func (t *treap) closestGT(key Position) nodeRef {
	best := nilRef
	r := t.root
	for r != nilRef {
		n := t.at(r)
		if n.key > key {
			best = r
			r = n.left
		} else {
			r = n.right
		}
	}
	return best
}

// walk visits the subtree at r in key order until fn returns false.
func (t *treap) walk(r nodeRef, fn func(*treapNode) bool) bool {
	for r != nilRef {
		n := t.at(r)
		if !t.walk(n.left, fn) {
			return false
		}
		if !fn(t.at(r)) {
			return false
		}
		r = t.at(r).right
	}
	return true
}

// walkRange visits nodes with from <= key < to in key order.
func (t *treap) walkRange(r nodeRef, from, to Position, fn func(*treapNode) bool) bool {
	for r != nilRef {
		n := t.at(r)
		if n.key < from {
			r = n.right
			continue
		}
		if n.key >= to {
			r = n.left
			continue
		}
		if !t.walkRange(n.left, from, to, fn) {
			return false
		}
		if !fn(t.at(r)) {
			return false
		}
		r = t.at(r).right
	}
	return true
}

// closestLT returns the node with the greatest key < key.
func (t *treap) closestLT(key Position) nodeRef {
	best := nilRef
	r := t.root
	for r != nilRef {
		n := t.at(r)
		if n.key < key {
			best = r
			r = n.right
		} else {
			r = n.left
		}
	}
	return best
}

// walkFrom visits nodes with key >= from in key order.
func (t *treap) walkFrom(r nodeRef, from Position, fn func(*treapNode) bool) bool {
	for r != nilRef {
		n := t.at(r)
		if n.key < from {
			r = n.right
			continue
		}
		if !t.walkFrom(n.left, from, fn) {
			return false
		}
		if !fn(t.at(r)) {
			return false
		}
		r = t.at(r).right
	}
	return true
}
