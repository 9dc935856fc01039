//go:build unix

package mmfile

import (
	"fmt"
	"os"

	"fortio.org/safecast"
	"golang.org/x/sys/unix"
)

// Open maps the file at path. Empty files produce an empty mapping without
// calling mmap.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() // the mapping outlives the descriptor

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return &Mapping{data: []byte{}, unmap: noUnmap}, nil
	}
	size, err := safecast.Conv[int](info.Size())
	if err != nil {
		return nil, fmt.Errorf("mmfile: %s too large to map (%d bytes)", path, info.Size())
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmfile: mmap %s: %w", path, err)
	}
	return &Mapping{data: data, unmap: unix.Munmap}, nil
}
