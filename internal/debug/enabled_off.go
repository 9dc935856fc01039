//go:build !nmtdebug

package debug

// Enabled reports whether this is a diagnostic build.
const Enabled = false
