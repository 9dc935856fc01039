// Package nmt is the entry point of the tracker: an explicitly constructed
// context object that owns the call-stack store, the virtual memory
// tracker and the per-file trackers.
//
// # Overview
//
// A runtime builds one Tracker at start-up and passes it to every place
// that maps memory. The mapping layer reports each OS operation:
//
//	tr, err := nmt.New(config.Default())
//	if err != nil {
//	    return err
//	}
//	defer tr.Shutdown()
//
//	stack := tr.CaptureStack(0)
//	tr.NotifyReserve(base, size, stack, memtag.GC)
//	tr.NotifyCommit(base, pageSize, stack)
//
// and the reporting layer reads it:
//
//	snap := tr.Snapshot()
//	fmt.Println(snap.Tag(memtag.GC).Committed)
//
// # Locking
//
// A single mutex serializes every mutation, lookup and traversal, and the
// call-stack store shares it. Stacks are captured by the caller before the
// lock is taken. With NonBlockingAttribution set, a notification that
// finds the lock contended drops its stack instead of storing it, then
// waits for the lock to apply the accounting.
//
// Snapshot does not take the lock. It returns the totals published by the
// most recent mutation and may lag behind a mutation in progress.
//
// # Lifecycle
//
// Shutdown discards all state. Every later notification returns
// ErrShutdown; reporting calls see an empty tracker.
package nmt
