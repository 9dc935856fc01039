package nmt

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/vmtrack/internal/config"
	"github.com/joshuapare/vmtrack/nmt/callstack"
	"github.com/joshuapare/vmtrack/nmt/stackstore"
	"github.com/joshuapare/vmtrack/nmt/summary"
	"github.com/joshuapare/vmtrack/nmt/vmtracker"
	"github.com/joshuapare/vmtrack/pkg/memtag"
)

func newTracker(t *testing.T, mutate ...func(*config.Config)) *Tracker {
	t.Helper()
	cfg := config.Default()
	cfg.PageSize = 4096
	for _, m := range mutate {
		m(&cfg)
	}
	tr, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Shutdown() })
	return tr
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.StackDepth = 99
	_, err := New(cfg)
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestNotifyLifecycle(t *testing.T) {
	tr := newTracker(t)
	cs := tr.CaptureStack(0)
	require.False(t, cs.IsEmpty())

	require.NoError(t, tr.NotifyReserve(0x100000, 0x10000, cs, memtag.GC))
	require.NoError(t, tr.NotifyCommit(0x100000, 0x4000, cs))

	snap := tr.Snapshot()
	require.Equal(t, summary.Counters{Reserved: 0x10000, Committed: 0x4000, Peak: 0x4000}, snap.Tag(memtag.GC))

	rgn, ok := tr.FindReservedRegion(0x108000)
	require.True(t, ok)
	require.Equal(t, uint64(0x100000), rgn.Base)
	require.True(t, tr.Stack(rgn.Stack).Equal(cs))
	require.Contains(t, tr.Stack(rgn.Stack).String(), "TestNotifyLifecycle")

	var committed []vmtracker.CommittedMemoryRegion
	tr.VisitCommittedRegions(rgn, func(c vmtracker.CommittedMemoryRegion) bool {
		committed = append(committed, c)
		return true
	})
	require.Len(t, committed, 1)
	require.Equal(t, uint64(0x4000), committed[0].Size)

	require.NoError(t, tr.NotifyUncommit(0x100000, 0x4000))
	require.NoError(t, tr.NotifyRelease(0x100000, 0x10000))
	require.Equal(t, summary.Counters{Peak: 0x4000}, tr.Snapshot().Tag(memtag.GC))
	require.Equal(t, 0, tr.Stats().Boundaries)
	require.NoError(t, tr.Verify())
}

func TestNotifyRetagAndSplit(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.NotifyReserve(0, 0x6000, callstack.Empty, memtag.None))
	require.NoError(t, tr.NotifyCommit(0x1000, 0x1000, callstack.Empty))
	require.NoError(t, tr.NotifySplit(0, 0x6000, 0x4000, memtag.GC, memtag.ClassShared))
	require.NoError(t, tr.NotifyRetag(0x4000, 0x2000, memtag.ClassShared, memtag.Metaspace))

	var regions []vmtracker.ReservedMemoryRegion
	tr.VisitReservedRegions(func(r vmtracker.ReservedMemoryRegion) bool {
		regions = append(regions, r)
		return true
	})
	require.Equal(t, []vmtracker.ReservedMemoryRegion{
		{Base: 0, Size: 0x4000, Tag: memtag.GC},
		{Base: 0x4000, Size: 0x2000, Tag: memtag.Metaspace},
	}, regions)

	snap := tr.Snapshot()
	require.Equal(t, uint64(0x1000), snap.Tag(memtag.GC).Committed)
	require.Equal(t, uint64(0x2000), snap.Tag(memtag.Metaspace).Reserved)
	require.Zero(t, snap.Tag(memtag.ClassShared).Reserved)
	require.NoError(t, tr.Verify())
}

func TestNonDetailedUsesOneHandle(t *testing.T) {
	tr := newTracker(t, func(c *config.Config) { c.Detailed = false })
	require.True(t, tr.CaptureStack(0).IsEmpty())

	cs := callstack.FromPCs([]uintptr{0xA})
	require.NoError(t, tr.NotifyReserve(0, 0x1000, cs, memtag.Code))
	rgn, ok := tr.FindReservedRegion(0)
	require.True(t, ok)
	require.Equal(t, stackstore.Invalid, rgn.Stack)
	require.Equal(t, 0, tr.Stats().Stacks)
}

func TestPageNotifications(t *testing.T) {
	tr := newTracker(t)
	require.NoError(t, tr.NotifyReservePages(0x10000, 4, callstack.Empty, memtag.Thread))
	require.NoError(t, tr.NotifyCommitPages(0x10000, 2, callstack.Empty))
	require.Equal(t, summary.Counters{Reserved: 0x4000, Committed: 0x2000, Peak: 0x2000},
		tr.Snapshot().Tag(memtag.Thread))

	err := tr.NotifyReservePages(0x1000, math.MaxUint64/2, callstack.Empty, memtag.Thread)
	require.ErrorIs(t, err, vmtracker.ErrOverflow)
	err = tr.NotifyCommitPages(0x1000, 0, callstack.Empty)
	require.ErrorIs(t, err, vmtracker.ErrEmptyRange)
}

func TestPreconditionsRejected(t *testing.T) {
	tr := newTracker(t)
	require.ErrorIs(t, tr.NotifyReserve(0x1000, 0, callstack.Empty, memtag.GC), vmtracker.ErrEmptyRange)
	require.ErrorIs(t, tr.NotifyReserve(math.MaxUint64, 2, callstack.Empty, memtag.GC), vmtracker.ErrOverflow)
	require.Equal(t, 0, tr.Stats().Boundaries)
}

func TestFiles(t *testing.T) {
	tr := newTracker(t)
	f, err := tr.MakeFile("/dev/shm/heap")
	require.NoError(t, err)

	cs := callstack.FromPCs([]uintptr{0xF})
	require.NoError(t, tr.NotifyFileAllocate(f, 0, 0x2000, cs, memtag.JavaHeap))
	require.NoError(t, tr.NotifyFileFree(f, 0x1000, 0x1000))

	files := tr.Files()
	require.Len(t, files, 1)
	require.Equal(t, "/dev/shm/heap", files[0].Name)
	require.Equal(t, uint64(0x1000), files[0].Summary.Tag(memtag.JavaHeap).Committed)
	require.Len(t, files[0].Regions, 1)
	require.Equal(t, uint64(0x1000), tr.FileTotals().Tag(memtag.JavaHeap).Reserved)

	// File memory does not show up in the virtual memory totals.
	require.Zero(t, tr.Snapshot().Tag(memtag.JavaHeap).Reserved)
	require.NoError(t, tr.Verify())

	require.NoError(t, tr.FreeFile(f))
	require.Empty(t, tr.Files())
	require.Equal(t, 1, tr.Stats().Stacks)
}

func TestShutdown(t *testing.T) {
	cfg := config.Default()
	tr, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, tr.NotifyReserve(0, 0x1000, callstack.Empty, memtag.GC))

	require.NoError(t, tr.Shutdown())
	require.ErrorIs(t, tr.Shutdown(), ErrShutdown)

	require.ErrorIs(t, tr.NotifyReserve(0, 0x1000, callstack.Empty, memtag.GC), ErrShutdown)
	require.ErrorIs(t, tr.NotifyCommit(0, 0x1000, callstack.Empty), ErrShutdown)
	require.ErrorIs(t, tr.NotifyUncommit(0, 0x1000), ErrShutdown)
	require.ErrorIs(t, tr.NotifyRelease(0, 0x1000), ErrShutdown)
	require.ErrorIs(t, tr.NotifyRetag(0, 0x1000, memtag.GC, memtag.Code), ErrShutdown)
	require.ErrorIs(t, tr.NotifySplit(0, 0x1000, 0x800, memtag.GC, memtag.Code), ErrShutdown)
	_, err = tr.MakeFile("x")
	require.ErrorIs(t, err, ErrShutdown)

	require.Zero(t, tr.Snapshot().Total().Reserved)
	_, ok := tr.FindReservedRegion(0)
	require.False(t, ok)
}

// Concurrent notifiers on disjoint ranges must leave consistent totals.
func TestConcurrentNotify(t *testing.T) {
	tr := newTracker(t)
	const (
		workers = 8
		rounds  = 200
		chunk   = 0x10000
	)

	var g errgroup.Group
	for w := range workers {
		base := uint64(w) * rounds * chunk
		g.Go(func() error {
			cs := tr.CaptureStack(0)
			for i := range uint64(rounds) {
				addr := base + i*chunk
				if err := tr.NotifyReserve(addr, chunk, cs, memtag.Thread); err != nil {
					return err
				}
				if err := tr.NotifyCommit(addr, chunk/2, cs); err != nil {
					return err
				}
				_ = tr.Snapshot()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	got := tr.Snapshot().Tag(memtag.Thread)
	require.Equal(t, uint64(workers*rounds*chunk), got.Reserved)
	require.Equal(t, uint64(workers*rounds*chunk/2), got.Committed)
	require.NoError(t, tr.Verify())
}

// With non-blocking attribution, a contended notification keeps its
// accounting but loses its stack.
func TestNonBlockingAttributionDropsStackOnContention(t *testing.T) {
	tr := newTracker(t, func(c *config.Config) { c.NonBlockingAttribution = true })
	cs := callstack.FromPCs([]uintptr{0xC0FFEE})

	tr.mu.Lock()
	done := make(chan error, 1)
	go func() { done <- tr.NotifyReserve(0, 0x1000, cs, memtag.Safepoint) }()

	require.Eventually(t, func() bool { return tr.contended.Load() == 1 }, 5*time.Second, time.Millisecond)
	tr.mu.Unlock()
	require.NoError(t, <-done)

	rgn, ok := tr.FindReservedRegion(0)
	require.True(t, ok)
	require.Equal(t, stackstore.Invalid, rgn.Stack)
	require.Equal(t, uint64(1), tr.Stats().StacksContended)
	require.Equal(t, uint64(0x1000), tr.Snapshot().Tag(memtag.Safepoint).Reserved)

	// Uncontended notifications still record their stack.
	require.NoError(t, tr.NotifyReserve(0x2000, 0x1000, cs, memtag.Safepoint))
	rgn, ok = tr.FindReservedRegion(0x2000)
	require.True(t, ok)
	require.NotEqual(t, stackstore.Invalid, rgn.Stack)
}
