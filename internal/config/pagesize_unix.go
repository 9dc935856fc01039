//go:build linux || darwin

package config

import (
	"fortio.org/safecast"
	"golang.org/x/sys/unix"
)

func osPageSize() uint64 {
	n, err := safecast.Conv[uint64](unix.Getpagesize())
	if err != nil || n == 0 {
		return defaultPageSize
	}
	return n
}
