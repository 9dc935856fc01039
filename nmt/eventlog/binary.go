package eventlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/joshuapare/vmtrack/pkg/memtag"
)

// Magic identifies a binary event stream.
const Magic = "vmtrack-events"

// SchemaVersion is the record layout written by BinaryWriter.
const SchemaVersion = 1

// Header is the first value of a binary stream.
type Header struct {
	Magic  string `msgpack:"magic"`
	Schema int    `msgpack:"schema"`
}

// record is the wire form of an Event. Tags travel as their short
// identifiers so that reordering memtag constants does not break old logs.
type record struct {
	Op     string   `msgpack:"op"`
	Addr   uint64   `msgpack:"addr,omitempty"`
	Size   uint64   `msgpack:"size,omitempty"`
	Split  uint64   `msgpack:"split,omitempty"`
	Tag    string   `msgpack:"tag,omitempty"`
	NewTag string   `msgpack:"new_tag,omitempty"`
	Stack  []uint64 `msgpack:"stack,omitempty"`
	File   string   `msgpack:"file,omitempty"`
}

func toRecord(ev Event) record {
	rec := record{
		Op:    string(ev.Op),
		Addr:  ev.Addr,
		Size:  ev.Size,
		Split: ev.Split,
		File:  ev.File,
	}
	switch ev.Op {
	case OpReserve, OpRetag, OpSplit, OpFileAlloc:
		rec.Tag = ev.Tag.ID()
	}
	switch ev.Op {
	case OpRetag, OpSplit:
		rec.NewTag = ev.NewTag.ID()
	}
	if len(ev.Stack) > 0 {
		rec.Stack = make([]uint64, len(ev.Stack))
		for i, pc := range ev.Stack {
			rec.Stack[i] = uint64(pc)
		}
	}
	return rec
}

func fromRecord(rec record) (Event, error) {
	ev := Event{
		Op:    Op(rec.Op),
		Addr:  rec.Addr,
		Size:  rec.Size,
		Split: rec.Split,
		File:  rec.File,
	}
	if !ev.Op.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownOp, rec.Op)
	}
	var err error
	if rec.Tag != "" {
		if ev.Tag, err = memtag.Parse(rec.Tag); err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrSyntax, err)
		}
	}
	if rec.NewTag != "" {
		if ev.NewTag, err = memtag.Parse(rec.NewTag); err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrSyntax, err)
		}
	}
	if len(rec.Stack) > 0 {
		ev.Stack = make([]uintptr, len(rec.Stack))
		for i, pc := range rec.Stack {
			ev.Stack[i] = uintptr(pc)
		}
	}
	return ev, nil
}

// BinaryWriter emits a msgpack stream.
type BinaryWriter struct {
	bw          *bufio.Writer
	enc         *msgpack.Encoder
	wroteHeader bool
}

// NewBinaryWriter returns a writer over w. The header is written with the
// first event, or by Flush for an empty stream.
func NewBinaryWriter(w io.Writer) *BinaryWriter {
	bw := bufio.NewWriter(w)
	return &BinaryWriter{bw: bw, enc: msgpack.NewEncoder(bw)}
}

func (w *BinaryWriter) header() error {
	if w.wroteHeader {
		return nil
	}
	w.wroteHeader = true
	return w.enc.Encode(Header{Magic: Magic, Schema: SchemaVersion})
}

// Write appends one event.
func (w *BinaryWriter) Write(ev Event) error {
	if !ev.Op.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownOp, ev.Op)
	}
	if err := w.header(); err != nil {
		return err
	}
	return w.enc.Encode(toRecord(ev))
}

// Flush writes buffered data.
func (w *BinaryWriter) Flush() error {
	if err := w.header(); err != nil {
		return err
	}
	return w.bw.Flush()
}

// BinaryReader decodes a msgpack stream.
type BinaryReader struct {
	dec     *msgpack.Decoder
	n       int
	started bool
}

// NewBinaryReader returns a reader over r. The header is checked on the
// first call to Next.
func NewBinaryReader(r io.Reader) *BinaryReader {
	return &BinaryReader{dec: msgpack.NewDecoder(bufio.NewReader(r))}
}

// Pos returns the record number of the last event.
func (r *BinaryReader) Pos() int { return r.n }

// Next returns the next event.
func (r *BinaryReader) Next() (Event, error) {
	if !r.started {
		r.started = true
		var h Header
		if err := r.dec.Decode(&h); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, fmt.Errorf("%w: missing header", ErrSchema)
			}
			return Event{}, fmt.Errorf("%w: %w", ErrSchema, err)
		}
		if h.Magic != Magic || h.Schema != SchemaVersion {
			return Event{}, fmt.Errorf("%w: magic %q schema %d", ErrSchema, h.Magic, h.Schema)
		}
	}
	var rec record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Event{}, io.EOF
		}
		return Event{}, &LineError{Line: r.n + 1, Err: fmt.Errorf("%w: %w", ErrSyntax, err)}
	}
	r.n++
	ev, err := fromRecord(rec)
	if err != nil {
		return Event{}, &LineError{Line: r.n, Err: err}
	}
	return ev, nil
}
