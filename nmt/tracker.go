package nmt

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/vmtrack/internal/buf"
	"github.com/joshuapare/vmtrack/internal/config"
	"github.com/joshuapare/vmtrack/internal/debug"
	"github.com/joshuapare/vmtrack/internal/logger"
	"github.com/joshuapare/vmtrack/nmt/callstack"
	"github.com/joshuapare/vmtrack/nmt/memfile"
	"github.com/joshuapare/vmtrack/nmt/stackstore"
	"github.com/joshuapare/vmtrack/nmt/summary"
	"github.com/joshuapare/vmtrack/nmt/vmtracker"
	"github.com/joshuapare/vmtrack/pkg/memtag"
)

// Tracker owns all tracking state of one process.
type Tracker struct {
	cfg config.Config

	mu     sync.Mutex
	closed bool
	stacks *stackstore.Store
	vm     *vmtracker.Tracker
	files  *memfile.Tracker

	published atomic.Pointer[summary.Snapshot]
	contended atomic.Uint64 // stacks dropped on lock contention
}

// New builds a tracker from cfg. The configuration is fixed for the
// lifetime of the tracker.
func New(cfg config.Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("nmt: %w", err)
	}
	t := &Tracker{
		cfg:    cfg,
		stacks: stackstore.NewLimited(cfg.Detailed, cfg.MaxStacks),
		vm:     vmtracker.New(),
		files:  memfile.New(),
	}
	t.published.Store(&summary.Snapshot{})
	logger.Debug("tracker started", "detailed", cfg.Detailed, "stack_depth", cfg.StackDepth)
	return t, nil
}

// Config returns the configuration the tracker was built with.
func (t *Tracker) Config() config.Config { return t.cfg }

// Shutdown discards all tracking state. Calling it twice returns ErrShutdown.
func (t *Tracker) Shutdown() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrShutdown
	}
	t.closed = true
	t.stacks = stackstore.New(false)
	t.vm = vmtracker.New()
	t.files = memfile.New()
	t.published.Store(&summary.Snapshot{})
	logger.Debug("tracker shut down")
	return nil
}

// CaptureStack records the caller's stack at the configured depth,
// skipping skip frames above the caller. It returns the empty stack when
// detailed tracking is off.
func (t *Tracker) CaptureStack(skip int) callstack.CallStack {
	if !t.cfg.Detailed {
		return callstack.Empty
	}
	return callstack.Capture(skip+1, t.cfg.StackDepth)
}

// lock acquires the tracker lock and interns cs. On contention in
// non-blocking mode the stack is dropped.
func (t *Tracker) lock(cs callstack.CallStack) (stackstore.Index, error) {
	dropped := false
	if t.cfg.NonBlockingAttribution && !cs.IsEmpty() {
		if !t.mu.TryLock() {
			dropped = true
			t.contended.Add(1)
			t.mu.Lock()
		}
	} else {
		t.mu.Lock()
	}
	if t.closed {
		t.mu.Unlock()
		return stackstore.Invalid, ErrShutdown
	}
	if dropped {
		return stackstore.Invalid, nil
	}
	return t.stacks.Put(cs), nil
}

// publish stores a copy of the totals for lock-free readers. Must hold mu.
func (t *Tracker) publish() {
	snap := t.vm.Snapshot()
	t.published.Store(&snap)
}

// NotifyReserve records a reservation of [addr, addr+size) for tag.
func (t *Tracker) NotifyReserve(addr, size uint64, cs callstack.CallStack, tag memtag.MemTag) error {
	idx, err := t.lock(cs)
	if err != nil {
		return err
	}
	defer t.mu.Unlock()
	if _, err := t.vm.Reserve(addr, size, idx, tag); err != nil {
		return err
	}
	t.publish()
	return nil
}

// NotifyCommit records a commit of [addr, addr+size). The range takes the
// tag of its reservation.
func (t *Tracker) NotifyCommit(addr, size uint64, cs callstack.CallStack) error {
	idx, err := t.lock(cs)
	if err != nil {
		return err
	}
	defer t.mu.Unlock()
	if _, err := t.vm.Commit(addr, size, idx); err != nil {
		return err
	}
	t.publish()
	return nil
}

// NotifyReservePages records a reservation of pages pages starting at addr.
func (t *Tracker) NotifyReservePages(addr, pages uint64, cs callstack.CallStack, tag memtag.MemTag) error {
	size, err := t.pageBytes(addr, pages)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	return t.NotifyReserve(addr, size, cs, tag)
}

// NotifyCommitPages records a commit of pages pages starting at addr.
func (t *Tracker) NotifyCommitPages(addr, pages uint64, cs callstack.CallStack) error {
	size, err := t.pageBytes(addr, pages)
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return t.NotifyCommit(addr, size, cs)
}

func (t *Tracker) pageBytes(addr, pages uint64) (uint64, error) {
	end, err := buf.CheckPages(addr, pages, t.cfg.PageSize)
	if err != nil {
		if pages == 0 {
			return 0, fmt.Errorf("%w: %w", vmtracker.ErrEmptyRange, err)
		}
		return 0, fmt.Errorf("%w: %w", vmtracker.ErrOverflow, err)
	}
	return end - addr, nil
}

// NotifyUncommit returns [addr, addr+size) to the reserved state.
func (t *Tracker) NotifyUncommit(addr, size uint64) error {
	if _, err := t.lock(callstack.Empty); err != nil {
		return err
	}
	defer t.mu.Unlock()
	if _, err := t.vm.Uncommit(addr, size); err != nil {
		return err
	}
	t.publish()
	return nil
}

// NotifyRelease stops tracking [addr, addr+size).
func (t *Tracker) NotifyRelease(addr, size uint64) error {
	if _, err := t.lock(callstack.Empty); err != nil {
		return err
	}
	defer t.mu.Unlock()
	if _, err := t.vm.Release(addr, size); err != nil {
		return err
	}
	t.publish()
	return nil
}

// NotifyRetag moves [addr, addr+size) from oldTag to newTag.
func (t *Tracker) NotifyRetag(addr, size uint64, oldTag, newTag memtag.MemTag) error {
	if _, err := t.lock(callstack.Empty); err != nil {
		return err
	}
	defer t.mu.Unlock()
	if rgn, ok := t.vm.FindReservedRegion(addr); ok {
		debug.Assert(rgn.Tag == oldTag, "retag of %s from %s, region is %s", rgn, oldTag, rgn.Tag)
	}
	if _, err := t.vm.SetTag(addr, size, newTag); err != nil {
		return err
	}
	t.publish()
	return nil
}

// NotifySplit retags [addr, addr+split) with tag and the rest of
// [addr, addr+size) with splitTag.
func (t *Tracker) NotifySplit(addr, size, split uint64, tag, splitTag memtag.MemTag) error {
	if _, err := t.lock(callstack.Empty); err != nil {
		return err
	}
	defer t.mu.Unlock()
	if _, err := t.vm.SplitReservedRegion(addr, size, split, tag, splitTag); err != nil {
		return err
	}
	t.publish()
	return nil
}

// MakeFile starts tracking a file-backed space.
func (t *Tracker) MakeFile(name string) (*memfile.File, error) {
	if _, err := t.lock(callstack.Empty); err != nil {
		return nil, err
	}
	defer t.mu.Unlock()
	logger.Debug("tracking file", "name", name)
	return t.files.MakeFile(name), nil
}

// FreeFile stops tracking f.
func (t *Tracker) FreeFile(f *memfile.File) error {
	if _, err := t.lock(callstack.Empty); err != nil {
		return err
	}
	defer t.mu.Unlock()
	return t.files.FreeFile(f)
}

// NotifyFileAllocate records [offset, offset+size) of f as in use by tag.
func (t *Tracker) NotifyFileAllocate(f *memfile.File, offset, size uint64, cs callstack.CallStack, tag memtag.MemTag) error {
	idx, err := t.lock(cs)
	if err != nil {
		return err
	}
	defer t.mu.Unlock()
	_, err = t.files.Allocate(f, offset, size, idx, tag)
	return err
}

// NotifyFileFree releases [offset, offset+size) of f.
func (t *Tracker) NotifyFileFree(f *memfile.File, offset, size uint64) error {
	if _, err := t.lock(callstack.Empty); err != nil {
		return err
	}
	defer t.mu.Unlock()
	_, err := t.files.Free(f, offset, size)
	return err
}
