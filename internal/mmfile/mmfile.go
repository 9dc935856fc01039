// Package mmfile maps event stream files into memory for reading.
package mmfile

import (
	"bytes"
	"errors"
)

// ErrClosed is returned by Close on an already closed mapping.
var ErrClosed = errors.New("mmfile: mapping closed")

// Mapping is a read-only view of a whole file. The bytes stay valid until
// Close.
type Mapping struct {
	data  []byte
	unmap func([]byte) error
}

// Bytes returns the mapped contents.
func (m *Mapping) Bytes() []byte { return m.data }

// Len returns the size of the mapping in bytes.
func (m *Mapping) Len() int { return len(m.data) }

// Reader returns a reader positioned at the start of the mapping.
func (m *Mapping) Reader() *bytes.Reader { return bytes.NewReader(m.data) }

// Close releases the mapping.
func (m *Mapping) Close() error {
	if m.unmap == nil {
		return ErrClosed
	}
	unmap := m.unmap
	data := m.data
	m.unmap = nil
	m.data = nil
	return unmap(data)
}

func noUnmap([]byte) error { return nil }
