package vmatree

import (
	"fmt"
	"math"

	"fortio.org/safecast"

	"github.com/joshuapare/vmtrack/nmt/stackstore"
	"github.com/joshuapare/vmtrack/pkg/memtag"
)

// Position is an offset into a tracked linear space. It is never dereferenced.
type Position = uint64

// StateType is the lifecycle stage of a range.
type StateType uint8

const (
	// Released is the background state of all untracked space.
	Released StateType = iota
	Reserved
	Committed
)

func (s StateType) String() string {
	switch s {
	case Released:
		return "released"
	case Reserved:
		return "reserved"
	case Committed:
		return "committed"
	default:
		return fmt.Sprintf("StateType(%d)", uint8(s))
	}
}

// RegionData is the attribution carried by a range.
type RegionData struct {
	Stack stackstore.Index // call path that reserved the range
	Tag   memtag.MemTag    // owning subsystem
}

// EmptyRegionData is the data carried by Released space.
var EmptyRegionData = RegionData{Stack: stackstore.Invalid, Tag: memtag.None}

// IntervalState is the state of one homogeneous span. CommitStack is the
// call path that committed the span and is Invalid unless Type is
// Committed.
type IntervalState struct {
	Type        StateType
	Data        RegionData
	CommitStack stackstore.Index
}

// releasedState is the state of space not covered by any node.
var releasedState = IntervalState{Type: Released, Data: EmptyRegionData}

// IsReleased reports whether the span is untracked.
func (s IntervalState) IsReleased() bool { return s.Type == Released }

// IsCommitted reports whether the span is committed.
func (s IntervalState) IsCommitted() bool { return s.Type == Committed }

// IntervalChange is the value of a boundary node.
type IntervalChange struct {
	In  IntervalState // state before the boundary
	Out IntervalState // state from the boundary onward
}

// isNoop reports whether the boundary would carry no information.
func (c IntervalChange) isNoop() bool { return c.In == c.Out }

// Node is a snapshot of one boundary.
type Node struct {
	Key Position
	Val IntervalChange
}

// Range is a half-open span [Start, End).
type Range struct {
	Start Position
	End   Position
}

// Size returns End - Start.
func (r Range) Size() uint64 { return r.End - r.Start }

// Contains reports whether p lies in [Start, End).
func (r Range) Contains(p Position) bool { return p >= r.Start && p < r.End }

func (r Range) String() string { return fmt.Sprintf("[0x%X, 0x%X)", r.Start, r.End) }

// SingleDiff is the change of one tag's totals.
type SingleDiff struct {
	Reserve int64
	Commit  int64
}

// SummaryDiff holds the per-tag change produced by one mutation.
type SummaryDiff [memtag.Count]SingleDiff

// Tag returns the diff for tag t.
func (d *SummaryDiff) Tag(t memtag.MemTag) SingleDiff { return d[t.Index()] }

// Add folds other into d.
func (d *SummaryDiff) Add(other *SummaryDiff) {
	for i := range d {
		d[i].Reserve += other[i].Reserve
		d[i].Commit += other[i].Commit
	}
}

// IsZero reports whether no tag changed.
func (d *SummaryDiff) IsZero() bool {
	for _, sd := range d {
		if sd.Reserve != 0 || sd.Commit != 0 {
			return false
		}
	}
	return true
}

// charge removes width bytes in state st from the totals.
func (d *SummaryDiff) charge(st IntervalState, width uint64) {
	d.apply(st, -signedWidth(width))
}

// credit adds width bytes in state st to the totals.
func (d *SummaryDiff) credit(st IntervalState, width uint64) {
	d.apply(st, signedWidth(width))
}

func (d *SummaryDiff) apply(st IntervalState, delta int64) {
	if st.Type == Released || delta == 0 {
		return
	}
	sd := &d[st.Data.Tag.Index()]
	sd.Reserve += delta
	if st.Type == Committed {
		sd.Commit += delta
	}
}

// signedWidth converts a span width to a delta, saturating at MaxInt64.
func signedWidth(width uint64) int64 {
	v, err := safecast.Conv[int64](width)
	if err != nil {
		return math.MaxInt64
	}
	return v
}
