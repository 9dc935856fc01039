package eventlog

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/joshuapare/vmtrack/internal/mmfile"
)

// IsBinaryName reports whether path carries a binary stream extension.
func IsBinaryName(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp", ".msgpack":
		return true
	}
	return false
}

// NewReader returns a reader for r, choosing the format from the first
// byte. Text streams are ASCII; a msgpack header starts with a map marker.
func NewReader(r io.Reader) (Reader, error) {
	br := bufio.NewReader(r)
	first, err := br.Peek(1)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(first) == 1 && first[0] >= 0x80 {
		return NewBinaryReader(br), nil
	}
	return NewTextReader(br), nil
}

// ReadCloser is a Reader over a mapped stream file.
type ReadCloser struct {
	Reader
	m *mmfile.Mapping
}

// Close unmaps the stream. Events already returned stay valid.
func (rc *ReadCloser) Close() error { return rc.m.Close() }

// Open maps the stream at path and returns a reader for it.
func Open(path string) (*ReadCloser, error) {
	m, err := mmfile.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	var r Reader
	if IsBinaryName(path) {
		r = NewBinaryReader(m.Reader())
	} else if r, err = NewReader(m.Reader()); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &ReadCloser{Reader: r, m: m}, nil
}

// NewWriter returns a binary writer when binary is true and a text writer
// otherwise.
func NewWriter(w io.Writer, binary bool) Writer {
	if binary {
		return NewBinaryWriter(w)
	}
	return NewTextWriter(w)
}
