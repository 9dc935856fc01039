// Package vmatree implements the interval-state tree that records where the
// state of a linear address space changes.
//
// # Overview
//
// The tree never stores one record per range. It stores boundaries: a node
// at position P holds the state just before P (In) and the state from P
// onward (Out). The span between two adjacent nodes is homogeneous, so for
// adjacent nodes L and R it always holds that L.Out == R.In. Space not
// covered by any node is Released.
//
//	reserve [0,100) then commit [50,75):
//
//	  0 ---- Reserved ---- 50 **** Committed **** 75 ---- Reserved ---- 100
//
//	  nodes: 0 {Released -> Reserved}
//	         50 {Reserved -> Committed}
//	         75 {Committed -> Reserved}
//	         100 {Reserved -> Released}
//
// A node whose In equals its Out carries no information and is never
// materialized. This is what keeps adjacent ranges with identical state
// coalesced: painting [100,200) with the same state as [0,100) removes the
// node at 100 instead of leaving a redundant boundary.
//
// # Mutation
//
// Every mutation is a paint over [A, B). The paint visits each homogeneous
// span inside the range, computes that span's new state from its old one,
// and rebuilds the boundaries so that identical neighbours coalesce. It
// returns a SummaryDiff: the per-tag change in reserved and committed bytes.
//
// A state carries two stacks. Data.Stack is the stack that reserved the
// span and survives commits on top of it; CommitStack is the stack of the
// last commit and is cleared when the span stops being committed. With tag
// in place, commit and uncommit keep the tag of each span they touch, and
// uncommit never turns untracked space into a reservation.
//
// # Storage
//
// Nodes live in an arena slice and refer to each other by int32 index.
// Removed nodes are recycled through a free list. The tree is a treap with
// priorities drawn from a per-tree PRNG, giving O(log n) expected lookups;
// a paint costs O(log n + k) where k is the number of boundaries inside
// the painted range. Memory is proportional to the number of live
// boundaries.
//
// # Thread Safety
//
// Tree is NOT thread-safe. Mutation, lookup and traversal must be
// serialized by the caller.
package vmatree
