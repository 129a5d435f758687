package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hoshi/assembler"
	"hoshi/vm"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file.hir>",
		Short: "assemble a HIR source file and execute it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runSource(args[0])
			if err != nil {
				return err
			}
			os.Exit(code)
			return nil
		},
	}
}

func runSource(path string) (int, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		logger.Error("failed to read source file", zap.String("path", path), zap.Error(err))
		return exitIOError, errors.Wrapf(err, "reading %s", path)
	}

	machine, err := vm.New(flags, logger)
	if err != nil {
		return exitIOError, err
	}

	asm := assembler.New(src, machine)
	c, compileErrors := asm.Compile()
	if len(compileErrors) > 0 {
		for _, ce := range compileErrors {
			fmt.Fprintln(os.Stderr, ce.Error())
		}
		return exitCompileError, nil
	}

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
