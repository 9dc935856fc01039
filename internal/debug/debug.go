// Package debug holds the assertion hooks used for caller contract checks.
//
// Builds tagged nmtdebug turn every failed assertion into a panic. Normal
// builds log the violation through internal/logger and let the caller
// continue, because tracking is diagnostic and must never abort the host.
package debug

import (
	"fmt"

	"github.com/joshuapare/vmtrack/internal/logger"
)

// Assert reports a contract violation when cond is false.
// It returns cond so callers can take a best-effort branch in release builds:
//
//	if !debug.Assert(a < b, "inverted range [0x%X, 0x%X)", a, b) {
//	    return SummaryDiff{}
//	}
func Assert(cond bool, format string, args ...any) bool {
	if cond {
		return true
	}
	msg := fmt.Sprintf(format, args...)
	if Enabled {
		panic("vmtrack: assertion failed: " + msg)
	}
	logger.Warn("contract violation", "detail", msg)
	return false
}
