package vmatree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/vmtrack/nmt/stackstore"
	"github.com/joshuapare/vmtrack/pkg/memtag"
)

const (
	si0 stackstore.Index = 1
	si1 stackstore.Index = 2
)

func rd(stack stackstore.Index, tag memtag.MemTag) RegionData {
	return RegionData{Stack: stack, Tag: tag}
}

func keys(tr *Tree) []Position {
	var out []Position
	tr.VisitInOrder(func(n Node) bool {
		out = append(out, n.Key)
		return true
	})
	return out
}

// requireWellFormed checks the boundary invariants over the whole tree.
func requireWellFormed(t *testing.T, tr *Tree) {
	t.Helper()
	var (
		prev  Node
		count int
	)
	tr.VisitInOrder(func(n Node) bool {
		require.False(t, n.Val.isNoop(), "no-op node at 0x%X", n.Key)
		if count == 0 {
			require.True(t, n.Val.In.IsReleased(), "first node at 0x%X not entered from released", n.Key)
		} else {
			require.Less(t, prev.Key, n.Key)
			require.Equal(t, prev.Val.Out, n.Val.In, "mismatch between 0x%X and 0x%X", prev.Key, n.Key)
		}
		for _, st := range []IntervalState{n.Val.In, n.Val.Out} {
			if st.IsReleased() {
				require.Equal(t, EmptyRegionData, st.Data, "released state with data at 0x%X", n.Key)
			}
			if !st.IsCommitted() {
				require.Equal(t, stackstore.Invalid, st.CommitStack, "%s state with commit stack at 0x%X", st.Type, n.Key)
			}
		}
		prev = n
		count++
		return true
	})
	if count > 0 {
		require.True(t, prev.Val.Out.IsReleased(), "last node at 0x%X not followed by released", prev.Key)
	}
	require.Equal(t, count, tr.Len())
}

type testRange struct {
	from, to Position
	tag      memtag.MemTag
	stack    stackstore.Index
	state    StateType
}

// requireForm checks that the spans between adjacent nodes are exactly want.
func requireForm(t *testing.T, tr *Tree, want []testRange) {
	t.Helper()
	requireWellFormed(t, tr)
	var got []testRange
	var prev *Node
	tr.VisitInOrder(func(n Node) bool {
		if prev != nil {
			got = append(got, testRange{
				from: prev.Key, to: n.Key,
				tag: prev.Val.Out.Data.Tag, stack: prev.Val.Out.Data.Stack, state: prev.Val.Out.Type,
			})
		}
		prev = &n
		return true
	})
	require.Equal(t, want, got)
	require.Equal(t, len(want)+1, tr.Len())
}

func TestAdjacentReservationsMerge(t *testing.T) {
	tr := New()
	md := rd(si0, memtag.Test)
	for i := range Position(10) {
		tr.ReserveMapping(i*100, 100, md)
	}
	require.Equal(t, 2, tr.Len())
	for i := range Position(10) {
		tr.ReserveMapping(i*100, 100, md)
	}
	require.Equal(t, []Position{0, 1000}, keys(tr))
	requireWellFormed(t, tr)
}

func TestOverlappingReservationsResultInTwoNodes(t *testing.T) {
	tr := New()
	md := rd(si0, memtag.Test)
	for i := range Position(10) {
		tr.ReserveMapping(i*100, 101, md)
	}
	require.Equal(t, []Position{0, 1001}, keys(tr))
}

// Re-reserving an identical range with the same data is a no-op.
func TestDuplicateReserve(t *testing.T) {
	tr := New()
	md := rd(si0, memtag.Test)
	tr.ReserveMapping(100, 100, md)
	diff := tr.ReserveMapping(100, 100, md)
	require.True(t, diff.IsZero())
	require.Equal(t, []Position{100, 200}, keys(tr))

	rng, st, ok := tr.FindEnclosingRange(150)
	require.True(t, ok)
	require.Equal(t, uint64(100), rng.Size())
	require.Equal(t, IntervalState{Type: Reserved, Data: md}, st)
}

func TestReleaseEverythingEmptiesTree(t *testing.T) {
	md := rd(si0, memtag.Test)

	tr := New()
	tr.ReserveMapping(0, 1000, md)
	for i := range Position(10) {
		tr.ReleaseMapping(i*100, 100)
	}
	require.Equal(t, 0, tr.Len())
	require.Equal(t, nilRef, tr.t.root)

	// Releasing in the opposite order ends the same way.
	tr.ReserveMapping(0, 1000, md)
	for i := 9; i >= 0; i-- {
		tr.ReleaseMapping(Position(i)*100, 100)
	}
	require.Equal(t, 0, tr.Len())
}

func TestCommitEverythingMerges(t *testing.T) {
	tr := New()
	md := rd(si0, memtag.Test)
	tr.ReserveMapping(0, 1000, md)
	for i := range Position(10) {
		tr.CommitMapping(i*100, 100, md, false)
	}
	require.Equal(t, []Position{0, 1000}, keys(tr))
	require.True(t, tr.StateAt(500).IsCommitted())
}

func TestCommitInMiddle(t *testing.T) {
	tr := New()
	md := rd(si0, memtag.Test)
	tr.ReserveMapping(0, 100, md)
	tr.CommitMapping(50, 25, md, false)
	requireForm(t, tr, []testRange{
		{0, 50, memtag.Test, si0, Reserved},
		{50, 75, memtag.Test, si0, Committed},
		{75, 100, memtag.Test, si0, Reserved},
	})
}

func TestDifferentDataAtBoundaryKeepsNode(t *testing.T) {
	tr := New()
	tr.ReserveMapping(0, 100, rd(si0, memtag.Test))
	tr.ReserveMapping(100, 100, rd(si1, memtag.NMT))
	require.Equal(t, []Position{0, 100, 200}, keys(tr))
	requireWellFormed(t, tr)
}

func TestReserveOverCommitReplacesIt(t *testing.T) {
	tr := New()
	tr.CommitMapping(50, 50, rd(si1, memtag.NMT), false)
	tr.ReserveMapping(0, 100, rd(si0, memtag.Test))
	requireForm(t, tr, []testRange{{0, 100, memtag.Test, si0, Reserved}})
}

func TestPaintThreeWays(t *testing.T) {
	tr := New()
	tr.ReserveMapping(0, 100, rd(si0, memtag.Test))
	tr.ReserveMapping(0, 50, rd(si1, memtag.NMT))
	tr.ReserveMapping(50, 50, rd(si0, memtag.None))
	requireForm(t, tr, []testRange{
		{0, 50, memtag.NMT, si1, Reserved},
		{50, 100, memtag.None, si0, Reserved},
	})
}

func TestLargeReserveRelease(t *testing.T) {
	tr := New()
	tr.ReserveMapping(0, 500000, rd(si0, memtag.NMT))
	tr.ReleaseMapping(0, 500000)
	require.Equal(t, 0, tr.Len())
}

// Without tag in place, commit applies the tag it is given and keeps the
// reserving stack.
func TestCommitUsesGivenTag(t *testing.T) {
	tr := New()
	tr.ReserveMapping(0, 100, rd(si0, memtag.NMT))
	tr.CommitMapping(0, 100, rd(si1, memtag.Test), false)
	requireForm(t, tr, []testRange{{0, 100, memtag.Test, si0, Committed}})
	require.Equal(t, si1, tr.StateAt(50).CommitStack)
}

func TestZeroSizeIsNoop(t *testing.T) {
	tr := New()
	d := tr.ReserveMapping(0, 0, rd(si0, memtag.NMT))
	require.True(t, d.IsZero())
	d = tr.CommitMapping(0, 0, rd(si0, memtag.NMT), false)
	require.True(t, d.IsZero())
	require.Equal(t, 0, tr.Len())
}

func TestUseTagInplace(t *testing.T) {
	tr := New()
	tr.ReserveMapping(0, 100, rd(si0, memtag.Test))
	// reserve:   0---------------------100
	// commit:        20**********70
	// uncommit:          30--40
	// result:    0---20**30--40**70----100
	tr.CommitMapping(20, 50, rd(si1, memtag.None), true)
	tr.UncommitMapping(30, 10)
	requireForm(t, tr, []testRange{
		{0, 20, memtag.Test, si0, Reserved},
		{20, 30, memtag.Test, si0, Committed},
		{30, 40, memtag.Test, si0, Reserved},
		{40, 70, memtag.Test, si0, Committed},
		{70, 100, memtag.Test, si0, Reserved},
	})
}

func TestUseTagInplaceAccounting(t *testing.T) {
	tr := New()
	tr.ReserveMapping(0, 100, rd(si0, memtag.Test))
	d := tr.CommitMapping(0, 25, rd(si1, memtag.None), true)
	require.Equal(t, SingleDiff{Reserve: 0, Commit: 25}, d.Tag(memtag.Test))
	for _, tag := range memtag.All() {
		if tag != memtag.Test {
			require.Equal(t, SingleDiff{}, d.Tag(tag), "tag %v", tag)
		}
	}

	d = tr.UncommitMapping(0, 25)
	require.Equal(t, SingleDiff{Reserve: 0, Commit: -25}, d.Tag(memtag.Test))
	require.Equal(t, []Position{0, 100}, keys(tr))
}

func TestSetTag(t *testing.T) {
	const si = si0
	es := stackstore.Invalid
	md := rd(si, memtag.None)

	t.Run("reserved only", func(t *testing.T) {
		tr := New()
		tr.ReserveMapping(0, 600, md)
		tr.SetTag(0, 500, memtag.GC)
		tr.SetTag(500, 100, memtag.ClassShared)
		requireForm(t, tr, []testRange{
			{0, 500, memtag.GC, si, Reserved},
			{500, 600, memtag.ClassShared, si, Reserved},
		})
	})

	t.Run("committed sub-ranges keep their state", func(t *testing.T) {
		tr := New()
		// 0------100****225---500---550***560---565***575-----600
		// <-------GC-----------><--------ClassShared------------>
		tr.ReserveMapping(0, 600, md)
		tr.CommitMapping(100, 125, md, false)
		tr.CommitMapping(550, 10, md, false)
		tr.CommitMapping(565, 10, md, false)
		tr.SetTag(0, 500, memtag.GC)
		tr.SetTag(500, 100, memtag.ClassShared)
		requireForm(t, tr, []testRange{
			{0, 100, memtag.GC, si, Reserved},
			{100, 225, memtag.GC, si, Committed},
			{225, 500, memtag.GC, si, Reserved},
			{500, 550, memtag.ClassShared, si, Reserved},
			{550, 560, memtag.ClassShared, si, Committed},
			{560, 565, memtag.ClassShared, si, Reserved},
			{565, 575, memtag.ClassShared, si, Committed},
			{575, 600, memtag.ClassShared, si, Reserved},
		})
	})

	t.Run("same stacks merge", func(t *testing.T) {
		tr := New()
		tr.ReserveMapping(0, 100, rd(si, memtag.GC))
		tr.ReserveMapping(100, 100, rd(si, memtag.Compiler))
		tr.SetTag(0, 200, memtag.GC)
		requireForm(t, tr, []testRange{{0, 200, memtag.GC, si, Reserved}})
	})

	t.Run("different stacks do not merge", func(t *testing.T) {
		tr := New()
		tr.ReserveMapping(0, 100, rd(si0, memtag.GC))
		tr.ReserveMapping(100, 100, rd(si1, memtag.Compiler))
		tr.SetTag(0, 200, memtag.GC)
		requireForm(t, tr, []testRange{
			{0, 100, memtag.GC, si0, Reserved},
			{100, 200, memtag.GC, si1, Reserved},
		})
	})

	t.Run("split in the middle", func(t *testing.T) {
		tr := New()
		tr.ReserveMapping(0, 200, rd(si, memtag.Compiler))
		tr.SetTag(100, 50, memtag.GC)
		requireForm(t, tr, []testRange{
			{0, 100, memtag.Compiler, si, Reserved},
			{100, 150, memtag.GC, si, Reserved},
			{150, 200, memtag.Compiler, si, Reserved},
		})
	})

	t.Run("split across two ranges", func(t *testing.T) {
		tr := New()
		tr.ReserveMapping(0, 100, rd(si, memtag.GC))
		tr.ReserveMapping(100, 100, rd(si, memtag.Compiler))
		tr.SetTag(75, 50, memtag.Class)
		requireForm(t, tr, []testRange{
			{0, 75, memtag.GC, si, Reserved},
			{75, 125, memtag.Class, si, Reserved},
			{125, 200, memtag.Compiler, si, Reserved},
		})
	})

	t.Run("holes are untouched", func(t *testing.T) {
		tr := New()
		tr.ReserveMapping(0, 50, rd(si, memtag.ClassShared))
		tr.ReserveMapping(75, 25, rd(si, memtag.ClassShared))
		tr.SetTag(0, 80, memtag.GC)
		requireForm(t, tr, []testRange{
			{0, 50, memtag.GC, si, Reserved},
			{50, 75, memtag.None, es, Released},
			{75, 80, memtag.GC, si, Reserved},
			{80, 100, memtag.ClassShared, si, Reserved},
		})
	})

	t.Run("range wider than any region", func(t *testing.T) {
		tr := New()
		tr.ReserveMapping(10, 10, rd(si, memtag.ClassShared))
		tr.SetTag(0, 100, memtag.Compiler)
		requireForm(t, tr, []testRange{{10, 20, memtag.Compiler, si, Reserved}})
	})

	t.Run("multiple holes", func(t *testing.T) {
		tr := New()
		tr.ReserveMapping(0, 100, rd(si, memtag.ClassShared))
		tr.ReleaseMapping(1, 49)
		tr.ReleaseMapping(75, 24)
		tr.SetTag(0, 100, memtag.GC)
		requireForm(t, tr, []testRange{
			{0, 1, memtag.GC, si, Reserved},
			{1, 50, memtag.None, es, Released},
			{50, 75, memtag.GC, si, Reserved},
			{75, 99, memtag.None, es, Released},
			{99, 100, memtag.GC, si, Reserved},
		})
	})

	t.Run("diff moves bytes between tags", func(t *testing.T) {
		tr := New()
		tr.ReserveMapping(0, 100, rd(si, memtag.Test))
		tr.CommitMapping(0, 40, rd(si, memtag.Test), false)
		d := tr.SetTag(0, 100, memtag.GC)
		require.Equal(t, SingleDiff{Reserve: -100, Commit: -40}, d.Tag(memtag.Test))
		require.Equal(t, SingleDiff{Reserve: 100, Commit: 40}, d.Tag(memtag.GC))
	})
}

func TestSummaryAccounting(t *testing.T) {
	t.Run("overlapping reserve moves bytes", func(t *testing.T) {
		tr := New()
		d := tr.ReserveMapping(0, 100, rd(si0, memtag.Test))
		require.Equal(t, int64(100), d.Tag(memtag.Test).Reserve)
		d = tr.ReserveMapping(50, 25, rd(si0, memtag.NMT))
		require.Equal(t, int64(-25), d.Tag(memtag.Test).Reserve)
		require.Equal(t, int64(25), d.Tag(memtag.NMT).Reserve)
	})

	t.Run("release discharges", func(t *testing.T) {
		tr := New()
		tr.ReserveMapping(0, 100, rd(si0, memtag.Test))
		d := tr.ReleaseMapping(0, 100)
		require.Equal(t, int64(-100), d.Tag(memtag.Test).Reserve)
	})

	t.Run("commit over reserved", func(t *testing.T) {
		tr := New()
		tr.ReserveMapping(0, 100, rd(si0, memtag.Test))
		d := tr.CommitMapping(0, 100, rd(si0, memtag.Test), false)
		require.Equal(t, SingleDiff{Reserve: 0, Commit: 100}, d.Tag(memtag.Test))
	})

	t.Run("adjacent same tag", func(t *testing.T) {
		tr := New()
		tr.ReserveMapping(0, 10, rd(si0, memtag.Test))
		d := tr.ReserveMapping(10, 10, rd(si0, memtag.Test))
		require.Equal(t, int64(10), d.Tag(memtag.Test).Reserve)
	})

	t.Run("adjacent different tag", func(t *testing.T) {
		tr := New()
		tr.ReserveMapping(0, 10, rd(si0, memtag.Test))
		d := tr.ReserveMapping(10, 10, rd(si0, memtag.NMT))
		require.Equal(t, int64(0), d.Tag(memtag.Test).Reserve)
		require.Equal(t, int64(10), d.Tag(memtag.NMT).Reserve)
	})

	t.Run("commit over existing commits", func(t *testing.T) {
		tr := New()
		tr.CommitMapping(16, 16, rd(si0, memtag.Test), false)
		tr.CommitMapping(32, 32, rd(si0, memtag.Test), false)
		d := tr.CommitMapping(0, 64, rd(si0, memtag.Test), false)
		require.Equal(t, SingleDiff{Reserve: 16, Commit: 16}, d.Tag(memtag.Test))
	})

	t.Run("reserve inside commit uncommits", func(t *testing.T) {
		tr := New()
		md := rd(si0, memtag.Test)
		d1 := tr.ReserveMapping(1200, 100, md)
		d2 := tr.CommitMapping(1210, 50, md, false)
		require.Equal(t, int64(100), d1.Tag(memtag.Test).Reserve)
		require.Equal(t, int64(50), d2.Tag(memtag.Test).Commit)
		d3 := tr.ReserveMapping(1220, 20, md)
		require.Equal(t, SingleDiff{Reserve: 0, Commit: -20}, d3.Tag(memtag.Test))
	})
}

// Releasing space that is already released changes nothing.
func TestReleaseReleasedIsIdempotent(t *testing.T) {
	tr := New()
	d := tr.ReleaseMapping(0, 4096)
	require.True(t, d.IsZero())
	require.Equal(t, 0, tr.Len())

	tr.ReserveMapping(8192, 4096, rd(si0, memtag.GC))
	tr.ReleaseMapping(8192, 4096)
	d = tr.ReleaseMapping(8192, 4096)
	require.True(t, d.IsZero())
}

// Re-reserving with a new tag moves the whole range, committed part included.
func TestReReserveWithNewTag(t *testing.T) {
	tr := New()
	tr.ReserveMapping(0, 100, rd(si0, memtag.Test))
	tr.CommitMapping(0, 50, rd(si0, memtag.None), true)

	d := tr.ReserveMapping(0, 100, rd(si0, memtag.GC))
	require.Equal(t, SingleDiff{Reserve: -100, Commit: -50}, d.Tag(memtag.Test))
	require.Equal(t, SingleDiff{Reserve: 100, Commit: 0}, d.Tag(memtag.GC))
	requireForm(t, tr, []testRange{{0, 100, memtag.GC, si0, Reserved}})
}

func TestFindEnclosingRange(t *testing.T) {
	tr := New()
	tr.ReserveMapping(0x1000, 0x1000, rd(si0, memtag.GC))
	tr.ReserveMapping(0x4000, 0x1000, rd(si0, memtag.Code))

	_, _, ok := tr.FindEnclosingRange(0x500)
	require.False(t, ok)
	_, _, ok = tr.FindEnclosingRange(0x5000)
	require.False(t, ok)

	rng, st, ok := tr.FindEnclosingRange(0x1800)
	require.True(t, ok)
	require.Equal(t, Range{Start: 0x1000, End: 0x2000}, rng)
	require.Equal(t, memtag.GC, st.Data.Tag)

	// A hole between two ranges is enclosed, but Released.
	rng, st, ok = tr.FindEnclosingRange(0x3000)
	require.True(t, ok)
	require.Equal(t, Range{Start: 0x2000, End: 0x4000}, rng)
	require.True(t, st.IsReleased())
}

func TestVisitRangeInOrder(t *testing.T) {
	tr := New()
	for i := range Position(5) {
		// Alternate tags so no boundaries merge.
		tag := memtag.GC
		if i%2 == 1 {
			tag = memtag.Code
		}
		tr.ReserveMapping(i*10, 10, rd(si0, tag))
	}
	require.Equal(t, []Position{0, 10, 20, 30, 40, 50}, keys(tr))

	var got []Position
	tr.VisitRangeInOrder(10, 40, func(n Node) bool {
		got = append(got, n.Key)
		return true
	})
	require.Equal(t, []Position{10, 20, 30}, got)

	got = nil
	tr.VisitRangeInOrder(0, 100, func(n Node) bool {
		got = append(got, n.Key)
		return len(got) < 2
	})
	require.Equal(t, []Position{0, 10}, got)

	got = nil
	tr.VisitRangeInOrder(40, 40, func(n Node) bool {
		got = append(got, n.Key)
		return true
	})
	require.Empty(t, got)
}

func TestSpansSkipReleased(t *testing.T) {
	tr := New()
	tr.ReserveMapping(0, 10, rd(si0, memtag.GC))
	tr.CommitMapping(20, 10, rd(si0, memtag.GC), false)

	var got []Range
	tr.Spans(func(r Range, st IntervalState) bool {
		require.False(t, st.IsReleased())
		got = append(got, r)
		return true
	})
	require.Equal(t, []Range{{0, 10}, {20, 30}}, got)
}

// Freed arena slots are reused before the arena grows.
func TestArenaReusesFreedNodes(t *testing.T) {
	tr := New()
	md := rd(si0, memtag.GC)
	for i := range Position(8) {
		tr.ReserveMapping(i*100, 50, md)
	}
	high := len(tr.t.nodes)
	for round := 0; round < 10; round++ {
		for i := range Position(8) {
			tr.ReleaseMapping(i*100, 50)
		}
		require.Equal(t, 0, tr.Len())
		for i := range Position(8) {
			tr.ReserveMapping(i*100, 50, md)
		}
	}
	require.Equal(t, high, len(tr.t.nodes))
	requireWellFormed(t, tr)
}

func TestStateTypeString(t *testing.T) {
	require.Equal(t, "released", Released.String())
	require.Equal(t, "reserved", Reserved.String())
	require.Equal(t, "committed", Committed.String())
	require.Equal(t, "StateType(9)", StateType(9).String())
}

func TestIntervalsClipToRange(t *testing.T) {
	tr := New()
	tr.ReserveMapping(100, 100, rd(si0, memtag.GC))
	tr.CommitMapping(150, 10, rd(si0, memtag.GC), false)

	type iv struct {
		r  Range
		st StateType
	}
	var got []iv
	tr.Intervals(50, 155, func(r Range, st IntervalState) bool {
		got = append(got, iv{r, st.Type})
		return true
	})
	require.Equal(t, []iv{
		{Range{50, 100}, Released},
		{Range{100, 150}, Reserved},
		{Range{150, 155}, Committed},
	}, got)

	got = nil
	tr.Intervals(50, 155, func(r Range, st IntervalState) bool {
		got = append(got, iv{r, st.Type})
		return false
	})
	require.Len(t, got, 1)
}

func TestNeighbourLookups(t *testing.T) {
	tr := New()
	tr.ReserveMapping(100, 100, rd(si0, memtag.GC))
	tr.ReserveMapping(300, 100, rd(si0, memtag.GC))

	n, ok := tr.Floor(250)
	require.True(t, ok)
	require.Equal(t, Position(200), n.Key)

	n, ok = tr.Lower(200)
	require.True(t, ok)
	require.Equal(t, Position(100), n.Key)
	_, ok = tr.Lower(100)
	require.False(t, ok)

	n, ok = tr.Higher(300)
	require.True(t, ok)
	require.Equal(t, Position(400), n.Key)
	_, ok = tr.Higher(400)
	require.False(t, ok)

	var got []Position
	tr.VisitFrom(200, func(n Node) bool {
		got = append(got, n.Key)
		return true
	})
	require.Equal(t, []Position{200, 300, 400}, got)
}
