package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"hoshi/assembler"
	"hoshi/chunkio"
	"hoshi/vm"
)

func newBuildCmd() *cobra.Command {
	var outPath string
	var note string

	cmd := &cobra.Command{
		Use:   "build <file.hir>",
		Short: "assemble a HIR source file and write the chunk to disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := buildSource(args[0], outPath, note)
			if err != nil {
				return err
			}
			os.Exit(code)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "output chunk file path (required)")
	cmd.Flags().StringVar(&note, "note", "", "free-form provenance string stamped into the chunk's notes trailer")
	cmd.MarkFlagRequired("output")
	return cmd
}

func buildSource(path, outPath, note string) (int, error) {
	src, err := os.ReadFile(path)
	if err != nil {
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

	out, err := os.Create(outPath)
	if err != nil {
		return exitIOError, errors.Wrapf(err, "creating %s", outPath)
	}
	defer out.Close()

	opts := chunkio.Options{DebugFlags: flags.DebugFlags, Notes: []byte(note)}
	if err := chunkio.Save(out, c, opts); err != nil {
		return exitIOError, errors.Wrapf(err, "writing %s", outPath)
	}
	return exitOK, nil
}
