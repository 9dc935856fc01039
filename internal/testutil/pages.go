// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"github.com/joshuapare/vmtrack/nmt/stackstore"
	"github.com/joshuapare/vmtrack/nmt/vmatree"
	"github.com/joshuapare/vmtrack/pkg/memtag"
)

// PageInfo is the state of one page in a PageTracker.
type PageInfo struct {
	Type        vmatree.StateType
	Tag         memtag.MemTag
	Stack       stackstore.Index // reserving stack
	CommitStack stackstore.Index
}

// PageTracker is a deliberately naive tracker that stores one record per
// page. Tests compare the region tree against it.
type PageTracker struct {
	PageSize uint64
	Pages    []PageInfo
}

// NewPageTracker creates a tracker covering count pages of pageSize bytes.
func NewPageTracker(pageSize uint64, count int) *PageTracker {
	return &PageTracker{PageSize: pageSize, Pages: make([]PageInfo, count)}
}

func (pt *PageTracker) paint(start, size uint64, update func(PageInfo) PageInfo) vmatree.SummaryDiff {
	var diff vmatree.SummaryDiff
	if start%pt.PageSize != 0 || size%pt.PageSize != 0 {
		panic("testutil: unaligned page range")
	}
	ps := int64(pt.PageSize)
	first := start / pt.PageSize
	for i := first; i < first+size/pt.PageSize; i++ {
		old := pt.Pages[i]
		info := update(old)
		switch old.Type {
		case vmatree.Reserved:
			diff[old.Tag].Reserve -= ps
		case vmatree.Committed:
			diff[old.Tag].Reserve -= ps
			diff[old.Tag].Commit -= ps
		}
		switch info.Type {
		case vmatree.Reserved:
			diff[info.Tag].Reserve += ps
		case vmatree.Committed:
			diff[info.Tag].Reserve += ps
			diff[info.Tag].Commit += ps
		}
		pt.Pages[i] = info
	}
	return diff
}

// Reserve marks the pages of [start, start+size) Reserved.
func (pt *PageTracker) Reserve(start, size uint64, stack stackstore.Index, tag memtag.MemTag) vmatree.SummaryDiff {
	return pt.paint(start, size, func(PageInfo) PageInfo {
		return PageInfo{Type: vmatree.Reserved, Tag: tag, Stack: stack}
	})
}

// Commit marks the pages of [start, start+size) Committed by stack. Tracked
// pages keep their reserving stack. With inplace every page keeps its tag.
func (pt *PageTracker) Commit(start, size uint64, stack stackstore.Index, tag memtag.MemTag, inplace bool) vmatree.SummaryDiff {
	return pt.paint(start, size, func(old PageInfo) PageInfo {
		info := PageInfo{Type: vmatree.Committed, Tag: tag, Stack: stack, CommitStack: stack}
		if old.Type != vmatree.Released {
			info.Stack = old.Stack
		}
		if inplace {
			info.Tag = old.Tag
		}
		return info
	})
}

// Uncommit returns the committed pages of [start, start+size) to Reserved.
func (pt *PageTracker) Uncommit(start, size uint64) vmatree.SummaryDiff {
	return pt.paint(start, size, func(old PageInfo) PageInfo {
		if old.Type != vmatree.Committed {
			return old
		}
		return PageInfo{Type: vmatree.Reserved, Tag: old.Tag, Stack: old.Stack}
	})
}

// Release marks the pages of [start, start+size) Released.
func (pt *PageTracker) Release(start, size uint64) vmatree.SummaryDiff {
	return pt.paint(start, size, func(PageInfo) PageInfo { return PageInfo{} })
}

// Run is a maximal sequence of identical tracked pages.
type Run struct {
	Start, End uint64 // byte offsets, End exclusive
	Info       PageInfo
}

// Runs returns every maximal run of identical non-Released pages.
func (pt *PageTracker) Runs() []Run {
	var runs []Run
	for i := 0; i < len(pt.Pages); {
		if pt.Pages[i].Type == vmatree.Released {
			i++
			continue
		}
		j := i
		for j < len(pt.Pages) && pt.Pages[j] == pt.Pages[i] {
			j++
		}
		runs = append(runs, Run{
			Start: uint64(i) * pt.PageSize,
			End:   uint64(j) * pt.PageSize,
			Info:  pt.Pages[i],
		})
		i = j
	}
	return runs
}
