package eventlog

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/joshuapare/vmtrack/pkg/memtag"
)

// Reader yields events until it returns io.EOF.
type Reader interface {
	Next() (Event, error)
	// Pos is the position of the last event returned: its 1-based line in
	// text streams, its 1-based record number in binary streams.
	Pos() int
}

// Writer records events. Flush must be called before the underlying
// stream is closed.
type Writer interface {
	Write(Event) error
	Flush() error
}

// TextReader parses the line format.
type TextReader struct {
	sc   *bufio.Scanner
	line int
}

// NewTextReader returns a reader over r.
func NewTextReader(r io.Reader) *TextReader {
	return &TextReader{sc: bufio.NewScanner(r)}
}

// Pos returns the line of the last event, comments and blank lines
// included in the count.
func (r *TextReader) Pos() int { return r.line }

// Next returns the next event. Parse failures are reported as *LineError.
func (r *TextReader) Next() (Event, error) {
	for r.sc.Scan() {
		r.line++
		text := strings.TrimSpace(r.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		ev, err := ParseLine(text)
		if err != nil {
			return Event{}, &LineError{Line: r.line, Err: err}
		}
		return ev, nil
	}
	if err := r.sc.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// ParseLine parses a single non-comment line.
func ParseLine(line string) (Event, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Event{}, fmt.Errorf("%w: empty line", ErrSyntax)
	}
	ev := Event{Op: Op(fields[0])}
	if !ev.Op.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownOp, fields[0])
	}
	args := fields[1:]
	if n := len(args); n > 0 && strings.HasPrefix(args[n-1], "stack=") {
		switch ev.Op {
		case OpReserve, OpCommit, OpFileAlloc:
		default:
			return Event{}, fmt.Errorf("%w: %s takes no stack", ErrSyntax, ev.Op)
		}
		stack, err := parseStack(strings.TrimPrefix(args[n-1], "stack="))
		if err != nil {
			return Event{}, err
		}
		ev.Stack = stack
		args = args[:n-1]
	}

	p := argParser{op: ev.Op, args: args}
	switch ev.Op {
	case OpReserve:
		p.want(3)
		ev.Addr, ev.Size, ev.Tag = p.num(0), p.num(1), p.tag(2)
	case OpCommit, OpUncommit, OpRelease:
		p.want(2)
		ev.Addr, ev.Size = p.num(0), p.num(1)
	case OpRetag:
		p.want(4)
		ev.Addr, ev.Size, ev.Tag, ev.NewTag = p.num(0), p.num(1), p.tag(2), p.tag(3)
	case OpSplit:
		p.want(5)
		ev.Addr, ev.Size, ev.Split = p.num(0), p.num(1), p.num(2)
		ev.Tag, ev.NewTag = p.tag(3), p.tag(4)
	case OpFileAlloc:
		p.want(4)
		ev.File, ev.Addr, ev.Size, ev.Tag = p.str(0), p.num(1), p.num(2), p.tag(3)
	case OpFileFree:
		p.want(3)
		ev.File, ev.Addr, ev.Size = p.str(0), p.num(1), p.num(2)
	case OpFileClose:
		p.want(1)
		ev.File = p.str(0)
	}
	if p.err != nil {
		return Event{}, p.err
	}
	return ev, nil
}

// argParser records the first failure and turns later accessors into no-ops.
type argParser struct {
	op   Op
	args []string
	err  error
}

func (p *argParser) want(n int) {
	if len(p.args) != n {
		p.err = fmt.Errorf("%w: %s wants %d arguments, got %d", ErrSyntax, p.op, n, len(p.args))
	}
}

func (p *argParser) str(i int) string {
	if p.err != nil {
		return ""
	}
	return p.args[i]
}

func (p *argParser) num(i int) uint64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(p.args[i], 0, 64)
	if err != nil {
		p.err = fmt.Errorf("%w: bad number %q", ErrSyntax, p.args[i])
	}
	return v
}

func (p *argParser) tag(i int) memtag.MemTag {
	if p.err != nil {
		return memtag.None
	}
	t, err := memtag.Parse(p.args[i])
	if err != nil {
		p.err = fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	return t
}

func parseStack(s string) ([]uintptr, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	stack := make([]uintptr, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseUint(part, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad stack frame %q", ErrSyntax, part)
		}
		stack = append(stack, uintptr(v))
	}
	return stack, nil
}

// TextWriter emits the line format.
type TextWriter struct {
	w *bufio.Writer
}

// NewTextWriter returns a writer over w.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: bufio.NewWriter(w)}
}

// Write appends one event line.
func (w *TextWriter) Write(ev Event) error {
	if !ev.Op.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownOp, ev.Op)
	}
	if _, err := w.w.WriteString(ev.String()); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush writes any buffered lines.
func (w *TextWriter) Flush() error { return w.w.Flush() }
