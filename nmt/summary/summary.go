// Package summary keeps the running per-tag totals of a tracked space.
//
// A Snapshot is mutated only by folding in the SummaryDiff of each tree
// mutation. It is a plain value: assigning it copies every counter, which
// is how point-in-time baselines are taken.
package summary

import (
	"math"

	"github.com/joshuapare/vmtrack/internal/buf"
	"github.com/joshuapare/vmtrack/internal/debug"
	"github.com/joshuapare/vmtrack/nmt/vmatree"
	"github.com/joshuapare/vmtrack/pkg/memtag"
)

// Counters are the totals of one tag, in bytes.
type Counters struct {
	Reserved  uint64
	Committed uint64
	Peak      uint64 // highest Committed ever observed
}

// IsZero reports whether nothing was ever committed or is reserved.
func (c Counters) IsZero() bool { return c == Counters{} }

// Snapshot holds Counters for every tag.
type Snapshot struct {
	tags      [memtag.Count]Counters
	totalPeak uint64
}

// Apply folds d into the totals. Totals saturate at zero; a diff that
// would drive a total negative is a contract violation.
func (s *Snapshot) Apply(d *vmatree.SummaryDiff) {
	var committed uint64
	for i := range s.tags {
		c := &s.tags[i]
		sd := d[i]
		var ok bool
		if c.Reserved, ok = buf.ApplyDelta(c.Reserved, sd.Reserve); !ok {
			debug.Assert(false, "reserved total of %v saturated applying %d", memtag.MemTag(i), sd.Reserve)
		}
		if c.Committed, ok = buf.ApplyDelta(c.Committed, sd.Commit); !ok {
			debug.Assert(false, "committed total of %v saturated applying %d", memtag.MemTag(i), sd.Commit)
		}
		c.Peak = max(c.Peak, c.Committed)
		committed += c.Committed
	}
	s.totalPeak = max(s.totalPeak, committed)
}

// Merge adds other's counters into s. Peaks are added, so the merged
// peak is an upper bound of the true combined peak.
func (s *Snapshot) Merge(other *Snapshot) {
	for i := range s.tags {
		c, o := &s.tags[i], other.tags[i]
		c.Reserved = satAdd(c.Reserved, o.Reserved)
		c.Committed = satAdd(c.Committed, o.Committed)
		c.Peak = satAdd(c.Peak, o.Peak)
	}
	s.totalPeak = satAdd(s.totalPeak, other.totalPeak)
}

func satAdd(a, b uint64) uint64 {
	sum, ok := buf.AddOverflowSafe(a, b)
	if !ok {
		return math.MaxUint64
	}
	return sum
}

// Tag returns the counters of t.
func (s Snapshot) Tag(t memtag.MemTag) Counters { return s.tags[t.Index()] }

// Total sums every tag. Peak is the highest overall committed total seen.
func (s Snapshot) Total() Counters {
	var out Counters
	for _, c := range s.tags {
		out.Reserved += c.Reserved
		out.Committed += c.Committed
	}
	out.Peak = s.totalPeak
	return out
}

// Visit calls fn for every tag with non-zero counters, in tag order,
// until fn returns false.
func (s *Snapshot) Visit(fn func(memtag.MemTag, Counters) bool) {
	for i, c := range s.tags {
		if c.IsZero() {
			continue
		}
		if !fn(memtag.MemTag(i), c) {
			return
		}
	}
}

// Delta is the change of one tag between a baseline and a later snapshot.
type Delta struct {
	Tag       memtag.MemTag
	Reserved  int64
	Committed int64
}

// Since returns the per-tag changes from baseline to s, omitting tags
// that did not change.
func (s *Snapshot) Since(baseline *Snapshot) []Delta {
	var out []Delta
	for i := range s.tags {
		cur, old := s.tags[i], baseline.tags[i]
		d := Delta{
			Tag:       memtag.MemTag(i),
			Reserved:  signedDelta(cur.Reserved, old.Reserved),
			Committed: signedDelta(cur.Committed, old.Committed),
		}
		if d.Reserved != 0 || d.Committed != 0 {
			out = append(out, d)
		}
	}
	return out
}

func signedDelta(cur, old uint64) int64 {
	if cur >= old {
		return int64(cur - old)
	}
	return -int64(old - cur)
}
