// venus-worker executes one compiled cell on behalf of the engine. It
// speaks the length-prefixed ipc protocol on stdin/stdout and is fully
// disposable: the engine kills it on interrupt and spawns a fresh one per
// execution, so nothing here outlives a single cell run.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"plugin"
	"runtime/debug"

	"github.com/ml-rust/venus/internal/ipc"
)

// entryFunc is the signature every compiled cell exports.
type entryFunc func(inputs [][]byte) ([]byte, string, error)

func main() {
	if err := run(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(in io.Reader, out io.Writer) error {
	var entry entryFunc
	for {
		var cmd ipc.Command
		if err := ipc.Read(in, &cmd); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}

		switch cmd.Op {
		case ipc.OpPing:
			if err := ipc.Write(out, &ipc.Response{Op: ipc.OpPong}); err != nil {
				return err
			}

		case ipc.OpShutdown:
			return ipc.Write(out, &ipc.Response{Op: ipc.OpShuttingDown})

		case ipc.OpLoad:
			fn, err := load(cmd.Path, cmd.Symbol)
			resp := &ipc.Response{Op: ipc.OpLoaded}
			if err != nil {
				resp = &ipc.Response{Op: ipc.OpError, Message: err.Error()}
			} else {
				entry = fn
			}
			if err := ipc.Write(out, resp); err != nil {
				return err
			}

		case ipc.OpExecute:
			var resp *ipc.Response
			if entry == nil {
				resp = &ipc.Response{Op: ipc.OpError, Message: "no cell loaded"}
			} else {
				resp = execute(entry, cmd.Inputs)
			}
			if err := ipc.Write(out, resp); err != nil {
				return err
			}

		default:
			if err := ipc.Write(out, &ipc.Response{
				Op:      ipc.OpError,
				Message: fmt.Sprintf("unknown op %q", cmd.Op),
			}); err != nil {
				return err
			}
		}
	}
}

// load opens the artifact and resolves its entry function.
func load(path, symbol string) (entryFunc, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", symbol, err)
	}
	fn, ok := sym.(func(inputs [][]byte) ([]byte, string, error))
	if !ok {
		return nil, fmt.Errorf("symbol %s has unexpected type %T", symbol, sym)
	}
	return fn, nil
}

// execute invokes the cell, converting a panic into a Panic response
// instead of a dead worker with no explanation.
func execute(fn entryFunc, inputs [][]byte) (resp *ipc.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = &ipc.Response{
				Op:      ipc.OpPanic,
				Message: fmt.Sprintf("%v\n%s", r, debug.Stack()),
			}
		}
	}()

	value, display, err := fn(inputs)
	if err != nil {
		return &ipc.Response{Op: ipc.OpError, Message: err.Error()}
	}
	return &ipc.Response{Op: ipc.OpOutput, Value: value, Display: display}
}
