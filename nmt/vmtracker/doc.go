// Package vmtracker answers region questions about one tracked address
// space: what is reserved, what is committed, who owns it and which call
// path asked for it.
//
// # Overview
//
// A Tracker wraps one vmatree.Tree and one summary.Snapshot. Every
// mutation paints the tree and folds the returned diff into the snapshot,
// so the running totals are always in step with the tree.
//
//	t := vmtracker.New()
//	t.Reserve(0x10000, 0x4000, stack, memtag.GC)
//	t.Commit(0x10000, 0x1000, stack)   // inherits memtag.GC
//	t.Uncommit(0x10000, 0x1000)
//	t.Release(0x10000, 0x4000)
//
// # Regions
//
// Regions are not stored. They are rebuilt from adjacent boundaries when a
// query runs. A reserved region is a maximal run of tracked space with one
// tag; it may contain committed sub-ranges. Its stack is the reserving
// stack of the first span of the run. A committed region is one committed
// span inside a reserved region and reports the stack that committed it.
//
// # Contract Violations
//
// Committing space that is not reserved, uncommitting or releasing
// untracked space are caller errors. They panic in builds with the
// nmtdebug tag; otherwise they are logged and accounting continues on a
// best-effort basis. Empty and wrapping ranges are rejected with an error
// before the tree is touched.
//
// # Thread Safety
//
// Tracker is NOT thread-safe.
package vmtracker
