package vmtracker

import "errors"

var (
	// ErrEmptyRange indicates a zero-sized range.
	ErrEmptyRange = errors.New("vmtracker: empty range")

	// ErrOverflow indicates a range whose end wraps the address space.
	ErrOverflow = errors.New("vmtracker: range overflows address space")

	// ErrBadSplit indicates a split offset outside the region being split.
	ErrBadSplit = errors.New("vmtracker: split offset outside range")
)
