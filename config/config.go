// Package config loads hoshi's VM tunables and runtime toggles with
// flag > env > TOML file > default precedence.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
	"github.com/pkg/errors"
)

// Config holds every tunable the VM and assembler consult. toml tags
// name the TOML keys. env tags are read by env.Parse with no prefix
// (which also supplies the envDefault values); Load then applies the
// HOSHI_-prefixed variables itself.
type Config struct {
	// StackSize bounds the VM's value stack.
	StackSize int `toml:"stack_size" env:"STACK_SIZE" envDefault:"256"`
	// LocalsSize bounds the VM's local-slot array.
	LocalsSize int `toml:"locals_size" env:"LOCALS_SIZE" envDefault:"256"`
	// MaxScopeDepth bounds the VM's scope stack.
	MaxScopeDepth int `toml:"max_scope_depth" env:"MAX_SCOPE_DEPTH" envDefault:"64"`

	// DebugFlags enables the human-readable chunk file wire mode.
	DebugFlags bool `toml:"debug_flags" env:"DEBUG_FLAGS" envDefault:"false"`
	// TraceExecution logs every instruction the VM fetches, along with
	// the stack's contents, before it executes.
	TraceExecution bool `toml:"trace_execution" env:"TRACE_EXECUTION" envDefault:"false"`

	// SipHashKey, when non-empty (16 bytes, hex-encoded), switches
	// string hashing from FNV-1a to keyed SipHash-2-4.
	SipHashKey string `toml:"siphash_key" env:"SIPHASH_KEY" envDefault:""`

	// CountAllocations turns on the tracker's byte/object counters,
	// printed at VM teardown when enabled.
	CountAllocations bool `toml:"count_allocations" env:"COUNT_ALLOCATIONS" envDefault:"false"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `toml:"log_level" env:"LOG_LEVEL" envDefault:"info"`
}

// Default returns the zero-config defaults, equivalent to Load with no
// file and no environment overrides.
func Default() Config {
	c := Config{}
	_ = env.Parse(&c)
	return c
}

// Load reads defaults, overlays a TOML file at path (skipped if path
// is empty or the file doesn't exist), then overlays whichever HOSHI_
// environment variables are actually set. Flags are the caller's
// responsibility to apply last, over the result of Load.
func Load(path string) (Config, error) {
	c := Config{}
	if err := env.Parse(&c); err != nil {
		return c, errors.Wrap(err, "config: parsing defaults")
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &c); err != nil {
				return c, errors.Wrapf(err, "config: decoding %s", path)
			}
		} else if !os.IsNotExist(err) {
			return c, errors.Wrapf(err, "config: statting %s", path)
		}
	}

	applyEnvOverride("HOSHI_STACK_SIZE", &c.StackSize)
	applyEnvOverride("HOSHI_LOCALS_SIZE", &c.LocalsSize)
	applyEnvOverride("HOSHI_MAX_SCOPE_DEPTH", &c.MaxScopeDepth)
	applyEnvOverride("HOSHI_DEBUG_FLAGS", &c.DebugFlags)
	applyEnvOverride("HOSHI_TRACE_EXECUTION", &c.TraceExecution)
	applyEnvOverride("HOSHI_SIPHASH_KEY", &c.SipHashKey)
	applyEnvOverride("HOSHI_COUNT_ALLOCATIONS", &c.CountAllocations)
	applyEnvOverride("HOSHI_LOG_LEVEL", &c.LogLevel)

	return c, nil
}

// applyEnvOverride overwrites *dst from the named environment
// variable only when it is actually set, so that an unset variable
// never clobbers a value already supplied by a TOML file.
func applyEnvOverride(name string, dst interface{}) {
	raw, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	switch p := dst.(type) {
	case *int:
		var v int
		if _, err := fmt.Sscanf(raw, "%d", &v); err == nil {
			*p = v
		}
	case *bool:
		*p = raw == "1" || raw == "true" || raw == "TRUE"
	case *string:
		*p = raw
	}
}
