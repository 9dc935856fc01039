package eventlog

import (
	"fmt"
	"strings"

	"github.com/joshuapare/vmtrack/pkg/memtag"
)

// Op names an event kind.
type Op string

const (
	OpReserve   Op = "reserve"
	OpCommit    Op = "commit"
	OpUncommit  Op = "uncommit"
	OpRelease   Op = "release"
	OpRetag     Op = "retag"
	OpSplit     Op = "split"
	OpFileAlloc Op = "file-alloc"
	OpFileFree  Op = "file-free"
	OpFileClose Op = "file-close"
)

// Valid reports whether op is a known operation.
func (op Op) Valid() bool {
	switch op {
	case OpReserve, OpCommit, OpUncommit, OpRelease, OpRetag, OpSplit,
		OpFileAlloc, OpFileFree, OpFileClose:
		return true
	}
	return false
}

// Event is one recorded notification. Fields not used by Op are zero.
type Event struct {
	Op     Op
	Addr   uint64 // address, or offset for file events
	Size   uint64
	Split  uint64        // split offset
	Tag    memtag.MemTag // tag, old tag for retag
	NewTag memtag.MemTag // new tag for retag, second tag for split
	Stack  []uintptr
	File   string
}

// String renders e in the text format.
func (e Event) String() string {
	var sb strings.Builder
	sb.WriteString(string(e.Op))
	switch e.Op {
	case OpReserve:
		fmt.Fprintf(&sb, " 0x%x 0x%x %s", e.Addr, e.Size, e.Tag.ID())
	case OpCommit, OpUncommit, OpRelease:
		fmt.Fprintf(&sb, " 0x%x 0x%x", e.Addr, e.Size)
	case OpRetag:
		fmt.Fprintf(&sb, " 0x%x 0x%x %s %s", e.Addr, e.Size, e.Tag.ID(), e.NewTag.ID())
	case OpSplit:
		fmt.Fprintf(&sb, " 0x%x 0x%x 0x%x %s %s", e.Addr, e.Size, e.Split, e.Tag.ID(), e.NewTag.ID())
	case OpFileAlloc:
		fmt.Fprintf(&sb, " %s 0x%x 0x%x %s", e.File, e.Addr, e.Size, e.Tag.ID())
	case OpFileFree:
		fmt.Fprintf(&sb, " %s 0x%x 0x%x", e.File, e.Addr, e.Size)
	case OpFileClose:
		fmt.Fprintf(&sb, " %s", e.File)
	}
	if len(e.Stack) > 0 {
		sb.WriteString(" stack=")
		for i, pc := range e.Stack {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "0x%x", pc)
		}
	}
	return sb.String()
}
