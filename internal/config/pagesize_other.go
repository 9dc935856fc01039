//go:build !linux && !darwin

package config

import "os"

func osPageSize() uint64 {
	n := os.Getpagesize()
	if n <= 0 {
		return defaultPageSize
	}
	return uint64(n)
}
