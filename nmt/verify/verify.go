package verify

import (
	"fmt"

	"github.com/joshuapare/vmtrack/nmt/stackstore"
	"github.com/joshuapare/vmtrack/nmt/summary"
	"github.com/joshuapare/vmtrack/nmt/vmatree"
	"github.com/joshuapare/vmtrack/pkg/memtag"
)

// ValidationError describes one failed check.
type ValidationError struct {
	Type        string
	Message     string
	Position    uint64
	HasPosition bool
	Details     map[string]any
}

func (e *ValidationError) Error() string {
	if e.HasPosition {
		return fmt.Sprintf("%s at 0x%X: %s", e.Type, e.Position, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Nodes is the read-only view of a tree the checks need.
type Nodes interface {
	VisitInOrder(fn func(vmatree.Node) bool)
	Len() int
}

// AllInvariants runs the structural checks and then the accounting check.
// Returns the first error encountered, or nil if all checks pass.
func AllInvariants(tree Nodes, snap summary.Snapshot) error {
	if err := Structure(tree); err != nil {
		return err
	}
	return Accounting(tree, snap)
}

// Structure validates boundary, edge and no-op invariants of tree.
func Structure(tree Nodes) error {
	var (
		prev  vmatree.Node
		count int
		err   error
	)
	tree.VisitInOrder(func(n vmatree.Node) bool {
		if n.Val.In == n.Val.Out {
			err = &ValidationError{
				Type:        "NoopNode",
				Message:     fmt.Sprintf("node changes nothing (%s)", n.Val.Out.Type),
				Position:    n.Key,
				HasPosition: true,
			}
			return false
		}
		if e := releasedData(n); e != nil {
			err = e
			return false
		}
		if count == 0 {
			if !n.Val.In.IsReleased() {
				err = &ValidationError{
					Type:        "Edge",
					Message:     fmt.Sprintf("first node entered from %s", n.Val.In.Type),
					Position:    n.Key,
					HasPosition: true,
				}
				return false
			}
		} else {
			if n.Key <= prev.Key {
				err = &ValidationError{
					Type:        "Order",
					Message:     fmt.Sprintf("key not above previous key 0x%X", prev.Key),
					Position:    n.Key,
					HasPosition: true,
				}
				return false
			}
			if prev.Val.Out != n.Val.In {
				err = &ValidationError{
					Type:        "Boundary",
					Message:     fmt.Sprintf("span from 0x%X has mismatched states", prev.Key),
					Position:    n.Key,
					HasPosition: true,
					Details: map[string]any{
						"left_out": prev.Val.Out,
						"right_in": n.Val.In,
					},
				}
				return false
			}
		}
		prev = n
		count++
		return true
	})
	if err != nil {
		return err
	}

	if count > 0 && !prev.Val.Out.IsReleased() {
		return &ValidationError{
			Type:        "Edge",
			Message:     fmt.Sprintf("last node leaves to %s", prev.Val.Out.Type),
			Position:    prev.Key,
			HasPosition: true,
		}
	}
	if count != tree.Len() {
		return &ValidationError{
			Type:    "Size",
			Message: fmt.Sprintf("visited %d nodes, tree reports %d", count, tree.Len()),
		}
	}
	return nil
}

func releasedData(n vmatree.Node) error {
	for _, st := range [...]vmatree.IntervalState{n.Val.In, n.Val.Out} {
		if st.IsReleased() && st.Data != vmatree.EmptyRegionData {
			return &ValidationError{
				Type:        "ReleasedData",
				Message:     fmt.Sprintf("released state carries stack %d tag %s", st.Data.Stack, st.Data.Tag),
				Position:    n.Key,
				HasPosition: true,
			}
		}
		if !st.IsCommitted() && st.CommitStack != stackstore.Invalid {
			return &ValidationError{
				Type:        "CommitStack",
				Message:     fmt.Sprintf("%s state carries commit stack %d", st.Type, st.CommitStack),
				Position:    n.Key,
				HasPosition: true,
			}
		}
	}
	return nil
}

// Accounting recomputes per-tag totals from the spans of tree and compares
// them with snap.
func Accounting(tree Nodes, snap summary.Snapshot) error {
	var reserved, committed [memtag.Count]uint64
	var (
		prev    vmatree.Node
		started bool
	)
	tree.VisitInOrder(func(n vmatree.Node) bool {
		if started && !prev.Val.Out.IsReleased() {
			w := n.Key - prev.Key
			tag := prev.Val.Out.Data.Tag.Index()
			reserved[tag] += w
			if prev.Val.Out.IsCommitted() {
				committed[tag] += w
			}
		}
		prev, started = n, true
		return true
	})

	for i := range memtag.Count {
		tag := memtag.MemTag(i)
		c := snap.Tag(tag)
		if c.Reserved != reserved[i] || c.Committed != committed[i] {
			return &ValidationError{
				Type: "Accounting",
				Message: fmt.Sprintf("%s totals reserved=%d committed=%d, tree has reserved=%d committed=%d",
					tag, c.Reserved, c.Committed, reserved[i], committed[i]),
				Details: map[string]any{"tag": tag.ID()},
			}
		}
	}
	return nil
}
