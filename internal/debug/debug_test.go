//go:build !nmtdebug

package debug

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/vmtrack/internal/logger"
)

func TestAssert_ReleaseBuildLogsAndContinues(t *testing.T) {
	var out bytes.Buffer
	prev := logger.L
	logger.L = slog.New(slog.NewTextHandler(&out, nil))
	defer func() { logger.L = prev }()

	require.True(t, Assert(true, "never printed"))
	require.Empty(t, out.String())

	require.False(t, Assert(false, "range [0x%X, 0x%X) inverted", 0x2000, 0x1000))
	require.Contains(t, out.String(), "contract violation")
	require.Contains(t, out.String(), "range [0x2000, 0x1000) inverted")
}
