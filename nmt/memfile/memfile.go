// Package memfile tracks memory that lives in externally backed spaces,
// such as mapped files or devices, one region tree per space.
//
// Offsets are relative to the start of each file. There is no separate
// reserve step: an allocation is modeled directly as Committed, so a
// file's reserved and committed totals always match.
//
// Tracker is NOT thread-safe.
package memfile

import (
	"fmt"

	"github.com/joshuapare/vmtrack/internal/buf"
	"github.com/joshuapare/vmtrack/internal/debug"
	"github.com/joshuapare/vmtrack/nmt/stackstore"
	"github.com/joshuapare/vmtrack/nmt/summary"
	"github.com/joshuapare/vmtrack/nmt/vmatree"
	"github.com/joshuapare/vmtrack/pkg/memtag"
)

// File is one tracked space.
type File struct {
	name  string
	tree  *vmatree.Tree
	snap  summary.Snapshot
	freed bool
}

// Name returns the name given to MakeFile.
func (f *File) Name() string { return f.name }

// Tree exposes the file's region tree for verification.
func (f *File) Tree() *vmatree.Tree { return f.tree }

// Region is one allocated span of a file.
type Region struct {
	Offset uint64
	Size   uint64
	Stack  stackstore.Index
	Tag    memtag.MemTag
}

// Tracker owns the set of tracked files.
type Tracker struct {
	files []*File
}

// New creates a tracker with no files.
func New() *Tracker { return &Tracker{} }

// MakeFile starts tracking a new space.
func (t *Tracker) MakeFile(name string) *File {
	f := &File{name: name, tree: vmatree.New()}
	t.files = append(t.files, f)
	return f
}

// FreeFile stops tracking f. Its totals are discarded with it.
func (t *Tracker) FreeFile(f *File) error {
	if f.freed {
		return fmt.Errorf("%w: %q", ErrFreed, f.name)
	}
	for i, x := range t.files {
		if x == f {
			t.files = append(t.files[:i], t.files[i+1:]...)
			break
		}
	}
	f.freed = true
	f.tree = vmatree.New()
	f.snap = summary.Snapshot{}
	return nil
}

// Len returns the number of live files.
func (t *Tracker) Len() int { return len(t.files) }

// Lookup returns the first live file with the given name.
func (t *Tracker) Lookup(name string) (*File, bool) {
	for _, f := range t.files {
		if f.name == name {
			return f, true
		}
	}
	return nil, false
}

func checkFile(f *File, offset, size uint64) error {
	if f.freed {
		return fmt.Errorf("%w: %q", ErrFreed, f.name)
	}
	if size == 0 {
		return fmt.Errorf("%w at offset 0x%X of %q", ErrEmptyRange, offset, f.name)
	}
	if _, err := buf.RangeEnd(offset, size); err != nil {
		return fmt.Errorf("%w: %w", ErrOverflow, err)
	}
	return nil
}

// Allocate records [offset, offset+size) of f as in use by tag.
func (t *Tracker) Allocate(f *File, offset, size uint64, stack stackstore.Index, tag memtag.MemTag) (vmatree.SummaryDiff, error) {
	if err := checkFile(f, offset, size); err != nil {
		return vmatree.SummaryDiff{}, fmt.Errorf("allocate: %w", err)
	}
	d := f.tree.CommitMapping(offset, size, vmatree.RegionData{Stack: stack, Tag: tag}, false)
	f.snap.Apply(&d)
	return d, nil
}

// Free releases [offset, offset+size) of f.
func (t *Tracker) Free(f *File, offset, size uint64) (vmatree.SummaryDiff, error) {
	if err := checkFile(f, offset, size); err != nil {
		return vmatree.SummaryDiff{}, fmt.Errorf("free: %w", err)
	}
	d := f.tree.ReleaseMapping(offset, size)
	f.snap.Apply(&d)
	debug.Assert(!d.IsZero(), "free of unallocated range [0x%X, 0x%X) in %q", offset, offset+size, f.name)
	return d, nil
}

// Summary returns a copy of f's totals.
func (t *Tracker) Summary(f *File) summary.Snapshot { return f.snap }

// Total sums the totals of every live file. Peaks are summed per file.
func (t *Tracker) Total() summary.Snapshot {
	var out summary.Snapshot
	for _, f := range t.files {
		out.Merge(&f.snap)
	}
	return out
}

// VisitFiles calls fn for every live file in creation order until fn
// returns false.
func (t *Tracker) VisitFiles(fn func(*File) bool) {
	for _, f := range t.files {
		if !fn(f) {
			return
		}
	}
}

// VisitRegions calls fn for every allocated span of f in ascending offset
// order until fn returns false.
func (t *Tracker) VisitRegions(f *File, fn func(Region) bool) {
	f.tree.Spans(func(r vmatree.Range, st vmatree.IntervalState) bool {
		return fn(Region{Offset: r.Start, Size: r.Size(), Stack: st.CommitStack, Tag: st.Data.Tag})
	})
}
