// Package config loads tracker settings from a TOML file and VMTRACK_*
// environment variables.
//
// Settings are read once when a tracker is built and never change
// afterwards. Precedence, lowest first: Default, the TOML file, the
// environment.
package config

import (
	"errors"
	"fmt"
	"math/bits"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/joshuapare/vmtrack/internal/logger"
	"github.com/joshuapare/vmtrack/nmt/callstack"
	"github.com/joshuapare/vmtrack/nmt/stackstore"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid setting")

// Config holds everything the tracker consumes at start-up.
type Config struct {
	// Detailed enables call-stack attribution. When false every range is
	// attributed to the empty stack.
	Detailed bool `toml:"detailed"`

	// StackDepth is the number of frames captured per call, at most
	// callstack.MaxDepth. Zero disables capture.
	StackDepth int `toml:"stack_depth"`

	// MaxStacks bounds the number of distinct stacks kept.
	MaxStacks int `toml:"max_stacks"`

	// PageSize is the granule used by page-counted notifications.
	PageSize uint64 `toml:"page_size"`

	// NonBlockingAttribution drops the stack of a notification instead of
	// waiting when the tracker lock is contended.
	NonBlockingAttribution bool `toml:"non_blocking_attribution"`

	Log LogConfig `toml:"log"`
}

// LogConfig controls the package logger.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
	JSON  bool   `toml:"json"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Detailed:   true,
		StackDepth: callstack.MaxDepth,
		MaxStacks:  stackstore.DefaultMaxEntries,
		PageSize:   osPageSize(),
		Log:        LogConfig{Level: "warn"},
	}
}

// Load reads path over Default, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("%s: %w: unknown key %q", path, ErrInvalid, undecoded[0].String())
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from VMTRACK_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("VMTRACK_DETAILED"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: VMTRACK_DETAILED=%q: %w", ErrInvalid, v, err)
		}
		c.Detailed = b
	}
	if v, ok := lookup("VMTRACK_NON_BLOCKING"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: VMTRACK_NON_BLOCKING=%q: %w", ErrInvalid, v, err)
		}
		c.NonBlockingAttribution = b
	}
	if v, ok := lookup("VMTRACK_STACK_DEPTH"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: VMTRACK_STACK_DEPTH=%q: %w", ErrInvalid, v, err)
		}
		c.StackDepth = n
	}
	if v, ok := lookup("VMTRACK_MAX_STACKS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: VMTRACK_MAX_STACKS=%q: %w", ErrInvalid, v, err)
		}
		c.MaxStacks = n
	}
	if v, ok := lookup("VMTRACK_PAGE_SIZE"); ok {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
		if err != nil {
			return fmt.Errorf("%w: VMTRACK_PAGE_SIZE=%q: %w", ErrInvalid, v, err)
		}
		c.PageSize = n
	}
	if v, ok := lookup("VMTRACK_LOG_LEVEL"); ok {
		c.Log.Level = strings.TrimSpace(v)
	}
	return nil
}

// Validate reports the first setting outside its allowed range.
func (c *Config) Validate() error {
	if c.StackDepth < 0 || c.StackDepth > callstack.MaxDepth {
		return fmt.Errorf("%w: stack_depth %d not in [0, %d]", ErrInvalid, c.StackDepth, callstack.MaxDepth)
	}
	if c.MaxStacks <= 0 {
		return fmt.Errorf("%w: max_stacks %d must be positive", ErrInvalid, c.MaxStacks)
	}
	if c.PageSize == 0 || bits.OnesCount64(c.PageSize) != 1 {
		return fmt.Errorf("%w: page_size %d is not a power of two", ErrInvalid, c.PageSize)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// LoggerOptions maps the log section onto logger options.
func (c *Config) LoggerOptions() logger.Options {
	level, _ := logger.ParseLevel(c.Log.Level)
	return logger.Options{Enabled: true, Output: os.Stderr, JSON: c.Log.JSON, Level: level}
}

// defaultPageSize is used when the OS does not report a page size.
const defaultPageSize = 4096
