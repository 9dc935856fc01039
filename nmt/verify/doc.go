// Package verify provides explicit structural checks for region trees and
// their running totals.
//
// # Overview
//
// The region tree relies on a few invariants that are never checked on the
// hot path:
//   - Boundaries: for adjacent nodes, left.Out equals right.In
//   - No-op nodes: no node has In equal to Out
//   - Edges: the first node is entered from Released, the last leaves to Released
//   - Released data: Released states carry no stack and no tag
//   - Accounting: the running totals match the widths of the tree's spans
//
// A violation can only ever produce a wrong report, so these checks are run
// from tests and diagnostic tooling, not from the tracker itself.
//
// # Quick Start
//
//	if err := verify.AllInvariants(tracker.Tree(), tracker.Snapshot()); err != nil {
//	    fmt.Printf("Validation failed: %v\n", err)
//	}
//
// # Error Reporting
//
// Checks return *ValidationError carrying the failed check, the boundary
// position where it was detected, and check-specific details.
package verify
