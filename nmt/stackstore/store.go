package stackstore

import (
	"fmt"

	"fortio.org/safecast"

	"github.com/joshuapare/vmtrack/internal/logger"
	"github.com/joshuapare/vmtrack/nmt/callstack"
)

// Index is a handle to a stored CallStack.
type Index uint32

// Invalid is the handle of the empty stack.
const Invalid Index = 0

// DefaultMaxEntries bounds the number of distinct stacks a Store keeps.
const DefaultMaxEntries = 1 << 20

// Store deduplicates CallStack values.
type Store struct {
	detailed   bool
	maxEntries int

	stacks     []callstack.CallStack // stacks[0] is the empty stack
	byHash     map[uint64]Index      // first stack seen per hash
	collisions map[uint64][]Index    // later stacks sharing a hash

	dropped uint64 // Puts that returned Invalid because the store was full

	hash func(callstack.CallStack) uint64
}

// New creates a Store with DefaultMaxEntries. In non-detailed mode every
// Put returns Invalid without storing anything.
func New(detailed bool) *Store {
	return NewLimited(detailed, DefaultMaxEntries)
}

// NewLimited creates a Store holding at most maxEntries distinct stacks.
// Non-positive limits fall back to DefaultMaxEntries.
func NewLimited(detailed bool, maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	s := &Store{
		detailed:   detailed,
		maxEntries: maxEntries,
		stacks:     []callstack.CallStack{callstack.Empty},
		hash:       callstack.CallStack.Hash,
	}
	if detailed {
		s.byHash = make(map[uint64]Index, 256)
		s.collisions = make(map[uint64][]Index)
	}
	return s
}

// Detailed reports whether the store records stacks.
func (s *Store) Detailed() bool { return s.detailed }

// MaxEntries returns the entry limit.
func (s *Store) MaxEntries() int { return s.maxEntries }

// Len returns the number of distinct non-empty stacks stored.
func (s *Store) Len() int { return len(s.stacks) - 1 }

// Dropped returns how many Puts lost attribution because the store was full.
func (s *Store) Dropped() uint64 { return s.dropped }

// Put returns the handle for cs, storing it if it has not been seen.
func (s *Store) Put(cs callstack.CallStack) Index {
	if !s.detailed || cs.IsEmpty() {
		return Invalid
	}

	h := s.hash(cs)
	first, ok := s.byHash[h]
	if !ok {
		idx, stored := s.append(cs)
		if stored {
			s.byHash[h] = idx
		}
		return idx
	}
	if s.stacks[first].Equal(cs) {
		return first
	}

	chain := s.collisions[h]
	for _, idx := range chain {
		if s.stacks[idx].Equal(cs) {
			return idx
		}
	}
	idx, stored := s.append(cs)
	if stored {
		s.collisions[h] = append(chain, idx)
	}
	return idx
}

func (s *Store) append(cs callstack.CallStack) (Index, bool) {
	if s.Len() >= s.maxEntries {
		s.dropped++
		if s.dropped == 1 {
			logger.Warn("call stack store full, attribution degraded", "max_entries", s.maxEntries)
		}
		return Invalid, false
	}
	n, err := safecast.Conv[uint32](len(s.stacks))
	if err != nil {
		s.dropped++
		return Invalid, false
	}
	s.stacks = append(s.stacks, cs)
	return Index(n), true
}

// Get returns the stack for idx. Unknown handles resolve to the empty stack.
func (s *Store) Get(idx Index) callstack.CallStack {
	cs, err := s.Lookup(idx)
	if err != nil {
		return callstack.Empty
	}
	return cs
}

// Lookup returns the stack for idx or ErrUnknownIndex.
func (s *Store) Lookup(idx Index) (callstack.CallStack, error) {
	if int(idx) >= len(s.stacks) {
		return callstack.Empty, fmt.Errorf("%w: %d (have %d)", ErrUnknownIndex, idx, len(s.stacks))
	}
	return s.stacks[idx], nil
}
