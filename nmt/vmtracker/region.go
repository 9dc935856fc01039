package vmtracker

import (
	"fmt"

	"github.com/joshuapare/vmtrack/nmt/stackstore"
	"github.com/joshuapare/vmtrack/pkg/memtag"
)

// ReservedMemoryRegion is a snapshot of one reserved region.
type ReservedMemoryRegion struct {
	Base  uint64
	Size  uint64
	Stack stackstore.Index
	Tag   memtag.MemTag
}

// End returns the exclusive end address.
func (r ReservedMemoryRegion) End() uint64 { return r.Base + r.Size }

// Contains reports whether addr lies inside the region.
func (r ReservedMemoryRegion) Contains(addr uint64) bool {
	return addr >= r.Base && addr < r.End()
}

func (r ReservedMemoryRegion) String() string {
	return fmt.Sprintf("[0x%X - 0x%X] reserved %d for %s", r.Base, r.End(), r.Size, r.Tag)
}

// CommittedMemoryRegion is a snapshot of one committed span.
type CommittedMemoryRegion struct {
	Base  uint64
	Size  uint64
	Stack stackstore.Index
	Tag   memtag.MemTag
}

// End returns the exclusive end address.
func (r CommittedMemoryRegion) End() uint64 { return r.Base + r.Size }

func (r CommittedMemoryRegion) String() string {
	return fmt.Sprintf("[0x%X - 0x%X] committed %d for %s", r.Base, r.End(), r.Size, r.Tag)
}
