// Command hoshi is the driver for the hoshi VM and HIR assembler: it
// assembles and/or executes source files and persisted chunk files,
// and can print a disassembly listing instead of running either.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hoshi/config"
	"hoshi/vm"
)

const (
	exitOK           = 0
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
)

var (
	cfgFile string
	flags   config.Config
	logger  *zap.Logger
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if flags.TraceExecution {
			fmt.Fprintf(os.Stderr, "hoshi: %+v\n", err)
		} else {
			fmt.Fprintln(os.Stderr, "hoshi:", err)
		}
		os.Exit(exitIOError)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hoshi",
		Short:         "hoshi assembles and runs HIR source and hoshi bytecode chunks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			mergeFlags(&loaded)
			flags = loaded
			logger = newLogger(flags.LogLevel)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logger != nil {
				return logger.Sync()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a TOML config file")
	root.PersistentFlags().IntVar(&flags.StackSize, "stack-size", 0, "VM value stack capacity")
	root.PersistentFlags().IntVar(&flags.LocalsSize, "locals-size", 0, "VM local slot capacity")
	root.PersistentFlags().IntVar(&flags.MaxScopeDepth, "max-scope-depth", 0, "VM scope stack capacity")
	root.PersistentFlags().BoolVar(&flags.DebugFlags, "debug-flags", false, "read/write the human-debuggable chunk format")
	root.PersistentFlags().BoolVar(&flags.TraceExecution, "trace", false, "trace every instruction and the stack before executing it")
	root.PersistentFlags().StringVar(&flags.SipHashKey, "siphash-key", "", "16-byte hex key; switches string hashing to SipHash-2-4")
	root.PersistentFlags().BoolVar(&flags.CountAllocations, "alloc-counters", false, "enable the object tracker's leak-diagnostic counters")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "debug, info, warn, or error")

	root.AddCommand(newRunCmd())
	root.AddCommand(newBuildCmd())
	root.AddCommand(newExecCmd())
	root.AddCommand(newDisasmCmd())

	return root
}

// mergeFlags overlays any flag actually set by the user (non-zero
// value) onto the config/env-derived defaults. Flags win per the
// documented precedence.
func mergeFlags(c *config.Config) {
	if flags.StackSize != 0 {
		c.StackSize = flags.StackSize
	}
	if flags.LocalsSize != 0 {
		c.LocalsSize = flags.LocalsSize
	}
	if flags.MaxScopeDepth != 0 {
		c.MaxScopeDepth = flags.MaxScopeDepth
	}
	if flags.DebugFlags {
		c.DebugFlags = true
	}
	if flags.TraceExecution {
		c.TraceExecution = true
	}
	if flags.SipHashKey != "" {
		c.SipHashKey = flags.SipHashKey
	}
	if flags.CountAllocations {
		c.CountAllocations = true
	}
	if flags.LogLevel != "" {
		c.LogLevel = flags.LogLevel
	}
}

// printAllocStats writes the tracker's leak-diagnostic counters to
// stderr at VM teardown, when --alloc-counters/CountAllocations is on.
func printAllocStats(machine *vm.VM) {
	if !flags.CountAllocations {
		return
	}
	stats := machine.Tracker().Stats()
	fmt.Fprintf(os.Stderr, "hoshi: alloc_count=%d free_count=%d live_bytes=%d\n",
		stats.AllocCount, stats.FreeCount, stats.LiveBytes)
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	case "warn", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "hoshi: failed to build logger:", err)
		return zap.NewNop()
	}
	return l
}
