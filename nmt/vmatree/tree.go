package vmatree

import (
	"github.com/joshuapare/vmtrack/internal/debug"
	"github.com/joshuapare/vmtrack/pkg/memtag"
)

// defaultSeed seeds node priorities. Trees built from the same operation
// sequence have the same shape.
const defaultSeed = 0x5eed_0f_7ee5

// Tree records state boundaries over a linear space.
//
// NOT thread-safe.
type Tree struct {
	t    treap
	segs []segment // scratch for paint
}

// New creates an empty tree. All space starts Released.
func New() *Tree {
	return NewSeeded(defaultSeed)
}

// NewSeeded creates an empty tree with the given priority seed.
func NewSeeded(seed uint64) *Tree {
	return &Tree{t: newTreap(seed)}
}

// Len returns the number of boundary nodes.
func (tr *Tree) Len() int { return tr.t.size }

// StateAt returns the state covering p.
func (tr *Tree) StateAt(p Position) IntervalState {
	r := tr.t.closestLEQ(p)
	if r == nilRef {
		return releasedState
	}
	return tr.t.at(r).val.Out
}

// RegisterMapping moves every span of [a, b) to state with md and returns
// the change in per-tag totals. Committed spans keep the reserving stack of
// tracked space. Released always carries EmptyRegionData regardless of md.
// It requires a < b; other ranges are a contract violation and leave the
// tree untouched.
func (tr *Tree) RegisterMapping(a, b Position, state StateType, md RegionData) SummaryDiff {
	return tr.registerMapping(a, b, state, md, false)
}

func (tr *Tree) registerMapping(a, b Position, state StateType, md RegionData, useTagInplace bool) SummaryDiff {
	if !debug.Assert(a < b, "register mapping over empty or inverted range [0x%X, 0x%X)", a, b) {
		return SummaryDiff{}
	}
	return tr.paint(a, b, request{state: state, md: md, useTagInplace: useTagInplace}.apply)
}

// request is one mapping operation, applied to each existing span it covers.
type request struct {
	state         StateType
	md            RegionData
	useTagInplace bool
}

// apply returns the state a span in state ex has after the request.
//
// Committing keeps the reserving stack of tracked space and records md's
// stack as the commit stack. Reserved with useTagInplace is an uncommit:
// committed space drops back to Reserved with its tag and reserving stack,
// everything else is left as it is.
func (r request) apply(ex IntervalState) IntervalState {
	switch r.state {
	case Released:
		return releasedState
	case Reserved:
		if !r.useTagInplace {
			return IntervalState{Type: Reserved, Data: r.md}
		}
		if !ex.IsCommitted() {
			return ex
		}
		return IntervalState{Type: Reserved, Data: ex.Data}
	default:
		out := IntervalState{Type: r.state, Data: r.md, CommitStack: r.md.Stack}
		if !ex.IsReleased() {
			out.Data.Stack = ex.Data.Stack
		}
		if r.useTagInplace {
			out.Data.Tag = ex.Data.Tag
		}
		return out
	}
}

// segment is the start and state of one span inside a painted range.
type segment struct {
	start Position
	st    IntervalState
}

// paint replaces the state of every span of [a, b) with update applied to
// it, and returns the change in per-tag totals. Requires a < b.
func (tr *Tree) paint(a, b Position, update func(IntervalState) IntervalState) SummaryDiff {
	var diff SummaryDiff

	// State immediately before a, and the state currently covering a.
	before, covering := releasedState, releasedState
	if r := tr.t.closestLEQ(a); r != nilRef {
		n := tr.t.at(r)
		covering = n.val.Out
		if n.key == a {
			before = n.val.In
		} else {
			before = n.val.Out
		}
	}

	// State from b onward.
	after := releasedState
	nodeAtB := false
	if r := tr.t.closestGEQ(b); r != nilRef {
		n := tr.t.at(r)
		if n.key == b {
			after = n.val.Out
			nodeAtB = true
		} else {
			after = n.val.In
		}
	}

	segs := append(tr.segs[:0], segment{start: a, st: covering})
	interior := tr.t.cutOpen(a, b)
	tr.t.walk(interior, func(n *treapNode) bool {
		segs = append(segs, segment{start: n.key, st: n.val.Out})
		return true
	})
	tr.t.drop(interior)

	for i := range segs {
		end := b
		if i+1 < len(segs) {
			end = segs[i+1].start
		}
		next := update(segs[i].st)
		diff.charge(segs[i].st, end-segs[i].start)
		diff.credit(next, end-segs[i].start)
		segs[i].st = next
	}

	if stA := (IntervalChange{In: before, Out: segs[0].st}); stA.isNoop() {
		tr.t.remove(a)
	} else {
		tr.t.upsert(a, stA)
	}

	for i := 1; i < len(segs); i++ {
		if ch := (IntervalChange{In: segs[i-1].st, Out: segs[i].st}); !ch.isNoop() {
			tr.t.upsert(segs[i].start, ch)
		}
	}

	last := segs[len(segs)-1].st
	if stB := (IntervalChange{In: last, Out: after}); stB.isNoop() {
		if nodeAtB {
			tr.t.remove(b)
		}
	} else {
		tr.t.upsert(b, stB)
	}

	tr.segs = segs[:0]
	return diff
}

// rangeEnd returns from+size, reporting false for empty or wrapping ranges.
func rangeEnd(from Position, size uint64) (Position, bool) {
	if size == 0 {
		return 0, false
	}
	end := from + size
	if !debug.Assert(end > from, "range 0x%X+0x%X wraps the address space", from, size) {
		return 0, false
	}
	return end, true
}

// ReserveMapping paints [from, from+size) Reserved with md.
// A zero size is a no-op.
func (tr *Tree) ReserveMapping(from Position, size uint64, md RegionData) SummaryDiff {
	end, ok := rangeEnd(from, size)
	if !ok {
		return SummaryDiff{}
	}
	return tr.registerMapping(from, end, Reserved, md, false)
}

// CommitMapping paints [from, from+size) Committed with md's stack as the
// commit stack. Already tracked spans keep their reserving stack. With
// useTagInplace every span keeps its own tag, and Released space is
// committed untagged.
func (tr *Tree) CommitMapping(from Position, size uint64, md RegionData, useTagInplace bool) SummaryDiff {
	end, ok := rangeEnd(from, size)
	if !ok {
		return SummaryDiff{}
	}
	return tr.registerMapping(from, end, Committed, md, useTagInplace)
}

// UncommitMapping turns every committed span of [from, from+size) back to
// Reserved, keeping its tag and reserving stack. Reserved and Released
// spans are unchanged.
func (tr *Tree) UncommitMapping(from Position, size uint64) SummaryDiff {
	end, ok := rangeEnd(from, size)
	if !ok {
		return SummaryDiff{}
	}
	return tr.registerMapping(from, end, Reserved, EmptyRegionData, true)
}

// ReleaseMapping paints [from, from+size) Released.
func (tr *Tree) ReleaseMapping(from Position, size uint64) SummaryDiff {
	end, ok := rangeEnd(from, size)
	if !ok {
		return SummaryDiff{}
	}
	return tr.registerMapping(from, end, Released, EmptyRegionData, false)
}

// SetTag retags every tracked span inside [from, from+size), keeping state
// and stacks. Released holes are left alone. Spans that end up identical to
// a neighbour are merged with it.
func (tr *Tree) SetTag(from Position, size uint64, tag memtag.MemTag) SummaryDiff {
	end, ok := rangeEnd(from, size)
	if !ok {
		return SummaryDiff{}
	}
	return tr.paint(from, end, func(st IntervalState) IntervalState {
		if !st.IsReleased() {
			st.Data.Tag = tag
		}
		return st
	})
}

// FindEnclosingRange returns the homogeneous span containing p and its
// state. It reports false when p lies before the first or after the last
// boundary.
func (tr *Tree) FindEnclosingRange(p Position) (Range, IntervalState, bool) {
	lo := tr.t.closestLEQ(p)
	if lo == nilRef {
		return Range{}, releasedState, false
	}
	hi := tr.t.closestGT(p)
	if hi == nilRef {
		return Range{}, releasedState, false
	}
	return Range{Start: tr.t.at(lo).key, End: tr.t.at(hi).key}, tr.t.at(lo).val.Out, true
}

// VisitInOrder calls fn for every boundary in ascending order until fn
// returns false. fn must not mutate the tree.
func (tr *Tree) VisitInOrder(fn func(Node) bool) {
	tr.t.walk(tr.t.root, func(n *treapNode) bool {
		return fn(Node{Key: n.key, Val: n.val})
	})
}

// VisitRangeInOrder calls fn for every boundary with from <= key < to.
func (tr *Tree) VisitRangeInOrder(from, to Position, fn func(Node) bool) {
	if from >= to {
		return
	}
	tr.t.walkRange(tr.t.root, from, to, func(n *treapNode) bool {
		return fn(Node{Key: n.key, Val: n.val})
	})
}

// Spans calls fn for every tracked span, skipping Released space, in
// ascending order until fn returns false.
func (tr *Tree) Spans(fn func(Range, IntervalState) bool) {
	var (
		prev    Position
		prevOut IntervalState
		started bool
	)
	tr.t.walk(tr.t.root, func(n *treapNode) bool {
		if started && !prevOut.IsReleased() {
			if !fn(Range{Start: prev, End: n.key}, prevOut) {
				return false
			}
		}
		prev, prevOut, started = n.key, n.val.Out, true
		return true
	})
}

// Intervals calls fn for every homogeneous span of [from, to), Released
// spans included, clipped to the range, until fn returns false.
func (tr *Tree) Intervals(from, to Position, fn func(Range, IntervalState) bool) {
	if from >= to {
		return
	}
	cur, pos := tr.StateAt(from), from
	stopped := !tr.t.walkRange(tr.t.root, from+1, to, func(n *treapNode) bool {
		if !fn(Range{Start: pos, End: n.key}, cur) {
			return false
		}
		cur, pos = n.val.Out, n.key
		return true
	})
	if !stopped {
		fn(Range{Start: pos, End: to}, cur)
	}
}

// Floor returns the boundary with the greatest key <= p.
func (tr *Tree) Floor(p Position) (Node, bool) {
	return tr.node(tr.t.closestLEQ(p))
}

// Lower returns the boundary with the greatest key < p.
func (tr *Tree) Lower(p Position) (Node, bool) {
	return tr.node(tr.t.closestLT(p))
}

// Higher returns the boundary with the smallest key > p.
func (tr *Tree) Higher(p Position) (Node, bool) {
	return tr.node(tr.t.closestGT(p))
}

// VisitFrom calls fn for every boundary with key >= from in ascending
// order until fn returns false.
func (tr *Tree) VisitFrom(from Position, fn func(Node) bool) {
	tr.t.walkFrom(tr.t.root, from, func(n *treapNode) bool {
		return fn(Node{Key: n.key, Val: n.val})
	})
}

func (tr *Tree) node(r nodeRef) (Node, bool) {
	if r == nilRef {
		return Node{}, false
	}
	n := tr.t.at(r)
	return Node{Key: n.key, Val: n.val}, true
}
