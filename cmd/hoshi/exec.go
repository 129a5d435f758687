package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hoshi/chunkio"
	"hoshi/vm"
)

func newExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <file.hoc>",
		Short: "load a persisted chunk and execute it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := execChunk(args[0])
			if err != nil {
				return err
			}
			os.Exit(code)
			return nil
		},
	}
}

func execChunk(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return exitIOError, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	machine, err := vm.New(flags, logger)
	if err != nil {
		return exitIOError, err
	}

	opts := chunkio.Options{DebugFlags: flags.DebugFlags}
	c, version, _, err := chunkio.Load(f, machine, chunkio.MinReadableVersion, opts)
	if err != nil {
		logger.Error("failed to load chunk", zap.String("path", path), zap.Error(err))
		return exitIOError, nil
	}
	logger.Debug("loaded chunk", zap.String("version", version.String()))

	machine.SetErrorHandler(func(re *vm.RuntimeError) {
		logger.Error("runtime error", zap.Int("line", re.Line), zap.String("message", re.Message))
	})

	exitCode, runErr := machine.Run(c)
	printAllocStats(machine)
	if runErr != nil {
		return exitRuntimeError, nil
	}
	return exitCode, nil
}
