package memtag

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// MemTag identifies the subsystem that owns a range of memory.
type MemTag uint8

const (
	None MemTag = iota
	JavaHeap
	Class
	Thread
	ThreadStack
	Code
	GC
	GCCardSet
	Compiler
	JVMCI
	Internal
	Other
	Symbol
	NMT
	ClassShared
	Chunk
	Test
	Tracing
	Logging
	Statistics
	Arguments
	Module
	Safepoint
	Synchronizer
	Serviceability
	Metaspace
	StringDedup
	ObjectMonitor

	// Count is the number of tags; valid tags are [0, Count).
	Count int = iota
)

// ErrUnknownTag is returned by Parse for names that match no tag.
var ErrUnknownTag = errors.New("memtag: unknown tag")

type names struct {
	id    string
	human string
}

var tagNames = [Count]names{
	None:           {"none", "Unknown"},
	JavaHeap:       {"java-heap", "Java Heap"},
	Class:          {"class", "Class"},
	Thread:         {"thread", "Thread"},
	ThreadStack:    {"thread-stack", "Thread Stack"},
	Code:           {"code", "Code"},
	GC:             {"gc", "GC"},
	GCCardSet:      {"gc-card-set", "GCCardSet"},
	Compiler:       {"compiler", "Compiler"},
	JVMCI:          {"jvmci", "JVMCI"},
	Internal:       {"internal", "Internal"},
	Other:          {"other", "Other"},
	Symbol:         {"symbol", "Symbol"},
	NMT:            {"nmt", "Native Memory Tracking"},
	ClassShared:    {"class-shared", "Shared class space"},
	Chunk:          {"chunk", "Arena Chunk"},
	Test:           {"test", "Test"},
	Tracing:        {"tracing", "Tracing"},
	Logging:        {"logging", "Logging"},
	Statistics:     {"statistics", "Statistics"},
	Arguments:      {"arguments", "Arguments"},
	Module:         {"module", "Module"},
	Safepoint:      {"safepoint", "Safepoint"},
	Synchronizer:   {"synchronizer", "Synchronization"},
	Serviceability: {"serviceability", "Serviceability"},
	Metaspace:      {"metaspace", "Metaspace"},
	StringDedup:    {"string-dedup", "String Deduplication"},
	ObjectMonitor:  {"object-monitor", "Object Monitors"},
}

// byFolded maps case-folded short and human names to tags.
var byFolded = func() map[string]MemTag {
	fold := cases.Fold()
	m := make(map[string]MemTag, 2*Count)
	for i := range Count {
		t := MemTag(i)
		m[fold.String(tagNames[i].id)] = t
		m[fold.String(tagNames[i].human)] = t
	}
	return m
}()

// Valid reports whether t is one of the defined tags.
func (t MemTag) Valid() bool { return int(t) < Count }

// Index returns t as an array index. Invalid tags map to None's index.
func (t MemTag) Index() int {
	if !t.Valid() {
		return int(None)
	}
	return int(t)
}

// ID returns the short identifier, e.g. "class-shared".
func (t MemTag) ID() string {
	if !t.Valid() {
		return fmt.Sprintf("tag-%d", uint8(t))
	}
	return tagNames[t].id
}

// String returns the human readable name, e.g. "Shared class space".
func (t MemTag) String() string {
	if !t.Valid() {
		return fmt.Sprintf("MemTag(%d)", uint8(t))
	}
	return tagNames[t].human
}

// Parse resolves a short identifier or human name, ignoring case and
// surrounding whitespace. A leading "mt" prefix is accepted ("mtGC").
func Parse(s string) (MemTag, error) {
	fold := cases.Fold()
	key := fold.String(strings.TrimSpace(s))
	if t, ok := byFolded[key]; ok {
		return t, nil
	}
	if trimmed, ok := strings.CutPrefix(key, "mt"); ok {
		if t, ok := byFolded[trimmed]; ok {
			return t, nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownTag, s)
}

// All returns every tag in index order.
func All() []MemTag {
	out := make([]MemTag, Count)
	for i := range out {
		out[i] = MemTag(i)
	}
	return out
}
