// Package buf contains overflow-checked arithmetic for address ranges and
// running byte totals.
package buf

import (
	"fmt"
	"math"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would
// wrap past math.MaxUint64.
func AddOverflowSafe(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

// MulOverflowSafe multiplies a and b, returning ok = false when the result
// would overflow uint64.
// This is what guards count * pageSize calculations from callers.
func MulOverflowSafe(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxUint64/b {
		return 0, false
	}
	return a * b, true
}

// RangeEnd returns base+size, the exclusive end of a half-open range.
// Zero sizes and wraparound are both reported as errors.
func RangeEnd(base, size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("empty range at 0x%X", base)
	}
	end, ok := AddOverflowSafe(base, size)
	if !ok {
		return 0, fmt.Errorf("overflow: base=0x%X + size=0x%X", base, size)
	}
	return end, nil
}

// CheckPages validates that count units of unitSize bytes starting at base
// fit in the address space. Returns the end offset if valid.
//
//	end, err := buf.CheckPages(base, pages, pageSize)
//	if err != nil {
//	    return fmt.Errorf("commit: %w", err)
//	}
func CheckPages(base, count, unitSize uint64) (uint64, error) {
	total, ok := MulOverflowSafe(count, unitSize)
	if !ok {
		return 0, fmt.Errorf("overflow: count=%d * unit=%d", count, unitSize)
	}
	return RangeEnd(base, total)
}

// ApplyDelta folds a signed delta into an unsigned running total.
// The result saturates at 0 and math.MaxUint64; ok is false when it had to.
func ApplyDelta(total uint64, delta int64) (uint64, bool) {
	if delta >= 0 {
		sum, ok := AddOverflowSafe(total, uint64(delta))
		if !ok {
			return math.MaxUint64, false
		}
		return sum, true
	}
	// -(MinInt64) does not fit in int64, so negate in uint64 space.
	dec := uint64(-(delta + 1)) + 1
	if dec > total {
		return 0, false
	}
	return total - dec, true
}
