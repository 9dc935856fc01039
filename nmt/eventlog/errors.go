package eventlog

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownOp indicates an operation name that is not part of the format.
	ErrUnknownOp = errors.New("eventlog: unknown operation")

	// ErrSyntax indicates a malformed event line or record.
	ErrSyntax = errors.New("eventlog: syntax error")

	// ErrSchema indicates a binary stream with a missing or unsupported header.
	ErrSchema = errors.New("eventlog: unsupported stream schema")

	// ErrUnknownFile indicates a file event naming a file never allocated.
	ErrUnknownFile = errors.New("eventlog: unknown file")
)

// LineError attaches a position in a stream to an error.
type LineError struct {
	Line int // 1-based line in text streams, record number in binary streams
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }
