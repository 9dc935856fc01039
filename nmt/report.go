package nmt

import (
	"github.com/joshuapare/vmtrack/nmt/callstack"
	"github.com/joshuapare/vmtrack/nmt/memfile"
	"github.com/joshuapare/vmtrack/nmt/stackstore"
	"github.com/joshuapare/vmtrack/nmt/summary"
	"github.com/joshuapare/vmtrack/nmt/verify"
	"github.com/joshuapare/vmtrack/nmt/vmtracker"
)

// Snapshot returns the most recently published virtual memory totals
// without taking the lock.
func (t *Tracker) Snapshot() summary.Snapshot { return *t.published.Load() }

// FindReservedRegion returns the reserved region containing addr.
func (t *Tracker) FindReservedRegion(addr uint64) (vmtracker.ReservedMemoryRegion, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vm.FindReservedRegion(addr)
}

// VisitReservedRegions calls fn for every reserved region in address
// order. fn runs under the tracker lock and must not call back into t.
func (t *Tracker) VisitReservedRegions(fn func(vmtracker.ReservedMemoryRegion) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vm.VisitReservedRegions(fn)
}

// VisitCommittedRegions calls fn for every committed span inside rgn.
// fn runs under the tracker lock and must not call back into t.
func (t *Tracker) VisitCommittedRegions(rgn vmtracker.ReservedMemoryRegion, fn func(vmtracker.CommittedMemoryRegion) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vm.VisitCommittedRegions(rgn, fn)
}

// FileReport is the state of one tracked file at query time.
type FileReport struct {
	Name    string
	Summary summary.Snapshot
	Regions []memfile.Region
}

// Files returns a report for every live file in creation order.
func (t *Tracker) Files() []FileReport {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []FileReport
	t.files.VisitFiles(func(f *memfile.File) bool {
		rep := FileReport{Name: f.Name(), Summary: t.files.Summary(f)}
		t.files.VisitRegions(f, func(r memfile.Region) bool {
			rep.Regions = append(rep.Regions, r)
			return true
		})
		out = append(out, rep)
		return true
	})
	return out
}

// FileTotals sums the totals of every live file.
func (t *Tracker) FileTotals() summary.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.files.Total()
}

// Stack resolves a handle from a region snapshot.
func (t *Tracker) Stack(idx stackstore.Index) callstack.CallStack {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stacks.Get(idx)
}

// Stats describes the bookkeeping overhead of the tracker.
type Stats struct {
	Boundaries      int    // nodes in the virtual memory tree
	Stacks          int    // distinct stacks stored
	StacksDropped   uint64 // stacks lost because the store was full
	StacksContended uint64 // stacks lost to lock contention
	Files           int
}

// Stats returns current bookkeeping counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Boundaries:      t.vm.Tree().Len(),
		Stacks:          t.stacks.Len(),
		StacksDropped:   t.stacks.Dropped(),
		StacksContended: t.contended.Load(),
		Files:           t.files.Len(),
	}
}

// Verify runs the structural and accounting checks over every tree.
func (t *Tracker) Verify() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := verify.AllInvariants(t.vm.Tree(), t.vm.Snapshot()); err != nil {
		return err
	}
	var err error
	t.files.VisitFiles(func(f *memfile.File) bool {
		err = verify.AllInvariants(f.Tree(), t.files.Summary(f))
		return err == nil
	})
	return err
}
