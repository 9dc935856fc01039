// Package callstack provides a fixed-depth call-stack value used to
// attribute memory ranges to the code path that requested them.
//
// A CallStack is a plain comparable value. Unused slots hold zero, and
// equality and hashing cover every slot, so two stacks compare equal only
// if all captured program counters agree.
package callstack

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/joshuapare/vmtrack/internal/buf"
)

// MaxDepth is the number of program counter slots in a CallStack.
const MaxDepth = 4

// CallStack holds up to MaxDepth return addresses, innermost first.
type CallStack struct {
	pcs [MaxDepth]uintptr
}

// Empty is the stack with no frames. It is the zero value.
var Empty CallStack

// FromPCs builds a stack from raw program counters. Entries past MaxDepth
// are dropped; a zero entry terminates the stack.
func FromPCs(pcs []uintptr) CallStack {
	var cs CallStack
	for i := 0; i < len(pcs) && i < MaxDepth; i++ {
		if pcs[i] == 0 {
			break
		}
		cs.pcs[i] = pcs[i]
	}
	return cs
}

// Capture records at most depth frames of the calling goroutine, skipping
// skip frames above the caller of Capture. A depth of zero, or a platform
// that reports no frames, yields Empty.
func Capture(skip, depth int) CallStack {
	if depth <= 0 {
		return Empty
	}
	depth = min(depth, MaxDepth)

	var cs CallStack
	// +2 skips runtime.Callers and Capture itself.
	runtime.Callers(skip+2, cs.pcs[:depth])
	return cs
}

// Depth returns the number of populated slots.
func (cs CallStack) Depth() int {
	for i, pc := range cs.pcs {
		if pc == 0 {
			return i
		}
	}
	return MaxDepth
}

// IsEmpty reports whether no frame was recorded.
func (cs CallStack) IsEmpty() bool { return cs.pcs[0] == 0 }

// Equal reports whether both stacks hold the same frames in every slot.
func (cs CallStack) Equal(other CallStack) bool { return cs.pcs == other.pcs }

// PCs returns the populated program counters.
func (cs CallStack) PCs() []uintptr {
	out := make([]uintptr, cs.Depth())
	copy(out, cs.pcs[:])
	return out
}

// Hash returns a 64-bit hash over all slots, zero slots included.
func (cs CallStack) Hash() uint64 {
	var raw [MaxDepth * 8]byte
	for i, pc := range cs.pcs {
		buf.PutU64LE(raw[i*8:], uint64(pc))
	}
	return xxhash.Sum64(raw[:])
}

// Frames resolves the stack to symbolic frames for display.
func (cs CallStack) Frames() []runtime.Frame {
	if cs.IsEmpty() {
		return nil
	}
	iter := runtime.CallersFrames(cs.PCs())
	var frames []runtime.Frame
	for {
		f, more := iter.Next()
		if f.PC != 0 || f.Function != "" {
			frames = append(frames, f)
		}
		if !more {
			break
		}
	}
	return frames
}

// String renders one frame per line. Frames that do not resolve are
// printed as raw addresses.
func (cs CallStack) String() string {
	if cs.IsEmpty() {
		return "[no stack]"
	}
	frames := cs.Frames()
	if len(frames) == 0 {
		var sb strings.Builder
		for i, pc := range cs.PCs() {
			if i > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "[0x%x]", pc)
		}
		return sb.String()
	}
	var sb strings.Builder
	for i, f := range frames {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if f.Function == "" {
			fmt.Fprintf(&sb, "[0x%x]", f.PC)
			continue
		}
		fmt.Fprintf(&sb, "[0x%x] %s+0x%x (%s:%d)", f.PC, f.Function, f.PC-f.Entry, f.File, f.Line)
	}
	return sb.String()
}
