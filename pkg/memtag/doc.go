// Package memtag defines the closed set of category tags that partition
// memory accounting by owning runtime subsystem.
//
// # Overview
//
// Every tracked range carries exactly one MemTag. The zero value, None,
// is the tag of Released space and of memory whose owner is not yet known.
// Tags are small integers so that per-tag counters can live in fixed-size
// arrays indexed by the tag itself:
//
//	var totals [memtag.Count]uint64
//	totals[memtag.GC] += 4096
//
// # Names
//
// Each tag has a short identifier used in configuration, event streams and
// metric labels ("gc", "class-shared") and a human readable name used in
// reports ("GC", "Shared class space"). Parse accepts either, ignoring case.
//
// This package has no dependencies beyond golang.org/x/text.
package memtag
