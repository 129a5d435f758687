package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"hoshi/assembler"
	"hoshi/chunk"
	"hoshi/chunkio"
	"hoshi/lexer"
	"hoshi/vm"
)

func newDisasmCmd() *cobra.Command {
	var tokens bool

	cmd := &cobra.Command{
		Use:   "disasm <file.hoc|file.hir>",
		Short: "print a disassembly listing instead of executing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := disasmFile(args[0], tokens)
			if err != nil {
				return err
			}
			os.Exit(code)
			return nil
		},
	}
	cmd.Flags().BoolVar(&tokens, "tokens", false, "print the HIR token stream instead of a bytecode disassembly")
	return cmd
}

func disasmFile(path string, tokens bool) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return exitIOError, errors.Wrapf(err, "reading %s", path)
	}

	if tokens {
		for _, tok := range lexer.ScanAll(raw) {
			fmt.Println(tok.String())
		}
		return exitOK, nil
	}

	if isBinaryChunk(path, raw) {
		machine, err := vm.New(flags, logger)
		if err != nil {
			return exitIOError, err
		}
		opts := chunkio.Options{DebugFlags: flags.DebugFlags}
		c, _, notes, err := chunkio.Load(bytes.NewReader(raw), machine, chunkio.MinReadableVersion, opts)
		if err != nil {
			return exitIOError, errors.Wrapf(err, "loading %s", path)
		}
		if len(notes) > 0 {
			fmt.Printf("; notes: %s\n", notes)
		}
		vm.DisassembleChunk(os.Stdout, c, path)
		return exitOK, nil
	}

	machine, err := vm.New(flags, logger)
	if err != nil {
		return exitIOError, err
	}
	asm := assembler.New(raw, machine)
	c, compileErrors := asm.Compile()
	if len(compileErrors) > 0 {
		for _, ce := range compileErrors {
			fmt.Fprintln(os.Stderr, ce.Error())
		}
		return exitCompileError, nil
	}
	vm.DisassembleChunk(os.Stdout, c, path)
	return exitOK, nil
}

// isBinaryChunk decides whether path holds a binary chunk (.hoc) or
// HIR source (.hir), preferring the extension and falling back to a
// magic-number sniff when the extension is unrecognized.
func isBinaryChunk(path string, raw []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hoc":
		return true
	case ".hir":
		return false
	}
	return len(raw) >= len(chunk.MagicNumber) && bytes.Equal(raw[:len(chunk.MagicNumber)], chunk.MagicNumber[:])
}
