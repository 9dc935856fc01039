package vmtracker

import (
	"fmt"

	"github.com/joshuapare/vmtrack/internal/buf"
	"github.com/joshuapare/vmtrack/internal/debug"
	"github.com/joshuapare/vmtrack/nmt/stackstore"
	"github.com/joshuapare/vmtrack/nmt/summary"
	"github.com/joshuapare/vmtrack/nmt/vmatree"
	"github.com/joshuapare/vmtrack/pkg/memtag"
)

// Tracker tracks one address space.
//
// NOT thread-safe.
type Tracker struct {
	tree *vmatree.Tree
	snap summary.Snapshot
}

// New creates a tracker with nothing reserved.
func New() *Tracker {
	return &Tracker{tree: vmatree.New()}
}

// Tree exposes the underlying tree for verification and tests.
func (t *Tracker) Tree() *vmatree.Tree { return t.tree }

// Snapshot returns a copy of the running totals.
func (t *Tracker) Snapshot() summary.Snapshot { return t.snap }

func checkRange(base, size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("%w at 0x%X", ErrEmptyRange, base)
	}
	end, err := buf.RangeEnd(base, size)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrOverflow, err)
	}
	return end, nil
}

func (t *Tracker) fold(d vmatree.SummaryDiff) vmatree.SummaryDiff {
	t.snap.Apply(&d)
	return d
}

// Reserve records [base, base+size) as reserved by stack for tag. Any prior
// state of the range, committed sub-ranges included, is replaced.
func (t *Tracker) Reserve(base, size uint64, stack stackstore.Index, tag memtag.MemTag) (vmatree.SummaryDiff, error) {
	if _, err := checkRange(base, size); err != nil {
		return vmatree.SummaryDiff{}, fmt.Errorf("reserve: %w", err)
	}
	md := vmatree.RegionData{Stack: stack, Tag: tag}
	return t.fold(t.tree.ReserveMapping(base, size, md)), nil
}

// Commit records [base, base+size) as committed by stack. Every span keeps
// the tag and reserving stack of the reservation covering it.
func (t *Tracker) Commit(base, size uint64, stack stackstore.Index) (vmatree.SummaryDiff, error) {
	end, err := checkRange(base, size)
	if err != nil {
		return vmatree.SummaryDiff{}, fmt.Errorf("commit: %w", err)
	}
	rgn, ok := t.FindReservedRegion(base)
	if debug.Assert(ok, "commit of [0x%X, 0x%X) without a covering reservation", base, end) {
		debug.Assert(end <= rgn.End(),
			"commit of [0x%X, 0x%X) extends past reservation %s", base, end, rgn)
	}
	md := vmatree.RegionData{Stack: stack, Tag: memtag.None}
	return t.fold(t.tree.CommitMapping(base, size, md, true)), nil
}

// Uncommit returns the committed spans of [base, base+size) to the
// reserved state. Untracked space inside the range stays untracked.
func (t *Tracker) Uncommit(base, size uint64) (vmatree.SummaryDiff, error) {
	end, err := checkRange(base, size)
	if err != nil {
		return vmatree.SummaryDiff{}, fmt.Errorf("uncommit: %w", err)
	}
	rgn, ok := t.FindReservedRegion(base)
	if !debug.Assert(ok, "uncommit of [0x%X, 0x%X) outside any reservation", base, end) {
		return vmatree.SummaryDiff{}, nil
	}
	debug.Assert(end <= rgn.End(),
		"uncommit of [0x%X, 0x%X) extends past reservation %s", base, end, rgn)
	return t.fold(t.tree.UncommitMapping(base, size)), nil
}

// Release returns [base, base+size) to the untracked state.
func (t *Tracker) Release(base, size uint64) (vmatree.SummaryDiff, error) {
	end, err := checkRange(base, size)
	if err != nil {
		return vmatree.SummaryDiff{}, fmt.Errorf("release: %w", err)
	}
	d := t.fold(t.tree.ReleaseMapping(base, size))
	debug.Assert(!d.IsZero(), "release of untracked range [0x%X, 0x%X)", base, end)
	return d, nil
}

// SetTag moves every tracked span of [base, base+size) to tag, keeping
// its state and stack.
func (t *Tracker) SetTag(base, size uint64, tag memtag.MemTag) (vmatree.SummaryDiff, error) {
	if _, err := checkRange(base, size); err != nil {
		return vmatree.SummaryDiff{}, fmt.Errorf("set tag: %w", err)
	}
	return t.fold(t.tree.SetTag(base, size, tag)), nil
}

// SplitReservedRegion tags [addr, addr+split) with tag and
// [addr+split, addr+size) with splitTag. Committed sub-ranges keep their
// state on both sides of the split.
func (t *Tracker) SplitReservedRegion(addr, size, split uint64, tag, splitTag memtag.MemTag) (vmatree.SummaryDiff, error) {
	end, err := checkRange(addr, size)
	if err != nil {
		return vmatree.SummaryDiff{}, fmt.Errorf("split: %w", err)
	}
	if split == 0 || split >= size {
		return vmatree.SummaryDiff{}, fmt.Errorf("split: %w: offset 0x%X of [0x%X, 0x%X)", ErrBadSplit, split, addr, end)
	}
	_, ok := t.FindReservedRegion(addr)
	debug.Assert(ok, "split of unreserved range [0x%X, 0x%X)", addr, end)
	at := addr + split
	debug.Assert(t.tree.StateAt(at-1).Type == t.tree.StateAt(at).Type,
		"split of [0x%X, 0x%X) at 0x%X crosses a state change", addr, end, at)

	d := t.tree.SetTag(addr, split, tag)
	rest := t.tree.SetTag(addr+split, size-split, splitTag)
	d.Add(&rest)
	return t.fold(d), nil
}

// FindReservedRegion returns the reserved region containing addr. It
// reports false when addr lies in untracked space.
func (t *Tracker) FindReservedRegion(addr uint64) (ReservedMemoryRegion, bool) {
	st := t.tree.StateAt(addr)
	if st.IsReleased() {
		return ReservedMemoryRegion{}, false
	}
	tag := st.Data.Tag

	// Walk back to the boundary where the run starts.
	start, _ := t.tree.Floor(addr)
	for !start.Val.In.IsReleased() && start.Val.In.Data.Tag == tag {
		prev, ok := t.tree.Lower(start.Key)
		if !ok {
			break
		}
		start = prev
	}

	// Walk forward to the boundary where it stops.
	end := start.Key
	t.tree.VisitFrom(addr+1, func(n vmatree.Node) bool {
		end = n.Key
		return !n.Val.Out.IsReleased() && n.Val.Out.Data.Tag == tag
	})

	return ReservedMemoryRegion{
		Base:  start.Key,
		Size:  end - start.Key,
		Stack: start.Val.Out.Data.Stack,
		Tag:   tag,
	}, true
}

// VisitReservedRegions calls fn for every reserved region in ascending
// address order until fn returns false.
func (t *Tracker) VisitReservedRegions(fn func(ReservedMemoryRegion) bool) {
	var (
		open bool
		cur  ReservedMemoryRegion
	)
	t.tree.VisitInOrder(func(n vmatree.Node) bool {
		out := n.Val.Out
		if open && (out.IsReleased() || out.Data.Tag != cur.Tag) {
			cur.Size = n.Key - cur.Base
			open = false
			if !fn(cur) {
				return false
			}
		}
		if !open && !out.IsReleased() {
			cur = ReservedMemoryRegion{Base: n.Key, Stack: out.Data.Stack, Tag: out.Data.Tag}
			open = true
		}
		return true
	})
}

// VisitCommittedRegions calls fn for every committed span inside rgn in
// ascending order until fn returns false.
func (t *Tracker) VisitCommittedRegions(rgn ReservedMemoryRegion, fn func(CommittedMemoryRegion) bool) {
	t.tree.Intervals(rgn.Base, rgn.End(), func(r vmatree.Range, st vmatree.IntervalState) bool {
		if !st.IsCommitted() {
			return true
		}
		return fn(CommittedMemoryRegion{
			Base:  r.Start,
			Size:  r.Size(),
			Stack: st.CommitStack,
			Tag:   st.Data.Tag,
		})
	})
}

// CommittedSize returns the number of committed bytes inside rgn.
func (t *Tracker) CommittedSize(rgn ReservedMemoryRegion) uint64 {
	var total uint64
	t.VisitCommittedRegions(rgn, func(c CommittedMemoryRegion) bool {
		total += c.Size
		return true
	})
	return total
}
