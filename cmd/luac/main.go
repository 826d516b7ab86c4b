// Command luac compiles a Lua 5.2 source file to the host VM's
// marshalled code-object format. Its flags mirror luac(1) to the
// extent this compiler's simpler pipeline supports them.
//
// Grounded in 256lights-zb's internal/luac (the Cobra command shape)
// and cmd/zb-luac (the thin main that runs it), collapsed into one
// cmd package since this compiler has no other consumer of the
// command construction.
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"lua2svm.dev/compiler"
	"lua2svm.dev/compiler/internal/lualabel"
	"lua2svm.dev/compiler/internal/luaparse"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "luac:", err)
		os.Exit(1)
	}
}

type options struct {
	inputFilename  string
	source         string
	outputFilename string
	parseOnly      bool
}

func newCommand() *cobra.Command {
	opts := new(options)
	c := &cobra.Command{
		Use:                   "luac FILE",
		Short:                 "Compile a Lua 5.2 source file to a bytecode image",
		Args:                  cobra.ExactArgs(1),
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.inputFilename = args[0]
			return run(opts)
		},
	}
	c.Flags().StringVarP(&opts.outputFilename, "output", "o", "luac.out", "output to `filename`")
	c.Flags().BoolVarP(&opts.parseOnly, "parse-only", "p", false, "parse and validate only; do not write bytecode")
	c.Flags().StringVar(&opts.source, "source", "", "source `name` to embed instead of the input filename")
	return c
}

func run(opts *options) error {
	f, err := os.Open(opts.inputFilename)
	if err != nil {
		return err
	}
	defer f.Close()

	source, err := io.ReadAll(bufio.NewReader(f))
	if err != nil {
		return err
	}

	filename := opts.inputFilename
	if opts.source != "" {
		filename = opts.source
	}

	if opts.parseOnly {
		return parseOnly(source, filename)
	}

	output, err := compiler.Compile(source, filename)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.outputFilename, output, 0o666); err != nil {
		return err
	}
	slog.Info("compiled", "input", opts.inputFilename, "output", opts.outputFilename, "bytes", len(output))
	return nil
}

// parseOnly runs only parsing and label validation, to surface
// lexical, syntax and label errors without emitting bytecode; scope
// resolution (and with it the vararg check) and codegen do not run.
func parseOnly(source []byte, filename string) error {
	file, err := luaparse.Parse(bytes.NewReader(source), filename)
	if err != nil {
		return err
	}
	return lualabel.Validate(file)
}
