package eventlog

import (
	"errors"
	"fmt"
	"io"

	"github.com/joshuapare/vmtrack/nmt"
	"github.com/joshuapare/vmtrack/nmt/callstack"
	"github.com/joshuapare/vmtrack/nmt/memfile"
)

// Player applies events to a tracker. File names are resolved to the
// files the player created for them.
type Player struct {
	tr    *nmt.Tracker
	files map[string]*memfile.File
}

// NewPlayer returns a player driving tr.
func NewPlayer(tr *nmt.Tracker) *Player {
	return &Player{tr: tr, files: make(map[string]*memfile.File)}
}

// Apply performs one event.
func (p *Player) Apply(ev Event) error {
	cs := callstack.FromPCs(ev.Stack)
	switch ev.Op {
	case OpReserve:
		return p.tr.NotifyReserve(ev.Addr, ev.Size, cs, ev.Tag)
	case OpCommit:
		return p.tr.NotifyCommit(ev.Addr, ev.Size, cs)
	case OpUncommit:
		return p.tr.NotifyUncommit(ev.Addr, ev.Size)
	case OpRelease:
		return p.tr.NotifyRelease(ev.Addr, ev.Size)
	case OpRetag:
		return p.tr.NotifyRetag(ev.Addr, ev.Size, ev.Tag, ev.NewTag)
	case OpSplit:
		return p.tr.NotifySplit(ev.Addr, ev.Size, ev.Split, ev.Tag, ev.NewTag)
	case OpFileAlloc:
		f, ok := p.files[ev.File]
		if !ok {
			var err error
			if f, err = p.tr.MakeFile(ev.File); err != nil {
				return err
			}
			p.files[ev.File] = f
		}
		return p.tr.NotifyFileAllocate(f, ev.Addr, ev.Size, cs, ev.Tag)
	case OpFileFree:
		f, ok := p.files[ev.File]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownFile, ev.File)
		}
		return p.tr.NotifyFileFree(f, ev.Addr, ev.Size)
	case OpFileClose:
		f, ok := p.files[ev.File]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownFile, ev.File)
		}
		delete(p.files, ev.File)
		return p.tr.FreeFile(f)
	}
	return fmt.Errorf("%w: %q", ErrUnknownOp, ev.Op)
}

// Run applies every event from r and returns how many were applied. The
// first failure stops the replay; tracker errors are wrapped with the
// event's position in the stream.
func (p *Player) Run(r Reader) (int, error) {
	n := 0
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := p.Apply(ev); err != nil {
			return n, &LineError{Line: r.Pos(), Err: fmt.Errorf("%s: %w", ev.Op, err)}
		}
		n++
	}
}
