package main

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/joshuapare/vmtrack/internal/config"
)

// resetFlags restores the global flags between test cases
func resetFlags() {
	verbose = false
	quiet = false
	jsonOut = false
	noColor = true
	configPath = ""
	replayRegions = false
	replayDetailed = true
	replayMetrics = false
	replayJobs = 0
}

// testConfig returns the default tracker configuration with a fixed page size
func testConfig() config.Config {
	cfg := config.Default()
	cfg.PageSize = 4096
	return cfg
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	// Drain concurrently so large outputs cannot fill the pipe
	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.String()
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	out := <-done
	r.Close()

	return out, fnErr
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}
