package memfile

import "errors"

var (
	// ErrEmptyRange indicates a zero-sized allocation or free.
	ErrEmptyRange = errors.New("memfile: empty range")

	// ErrOverflow indicates a range whose end wraps the offset space.
	ErrOverflow = errors.New("memfile: range overflows offset space")

	// ErrFreed indicates use of a file after FreeFile.
	ErrFreed = errors.New("memfile: file already freed")
)
