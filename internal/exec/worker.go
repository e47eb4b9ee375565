// Package exec runs compiled cell artifacts in worker subprocesses. A
// worker loads exactly one artifact, executes it once, and exits, so a
// panic or crash in cell code can never take the engine down with it.
package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/google/uuid"

	"github.com/ml-rust/venus/internal/ipc"
)

// ErrInterrupted reports that an execution was cancelled by request. The
// worker is killed; in-process cell code cannot be unwound safely.
var ErrInterrupted = errors.New("execution interrupted")

// PanicError reports that cell code panicked inside a worker.
type PanicError struct {
	Cell    string
	Message string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("cell %s panicked: %s", e.Cell, e.Message)
}

// CellError reports an error value returned by the cell itself.
type CellError struct {
	Cell    string
	Message string
}

func (e *CellError) Error() string {
	return fmt.Sprintf("cell %s: %s", e.Cell, e.Message)
}

// CrashError reports a worker that died without a protocol response.
type CrashError struct {
	Cell   string
	Stderr string
}

func (e *CrashError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("worker for cell %s crashed: %s", e.Cell, e.Stderr)
	}
	return fmt.Sprintf("worker for cell %s crashed", e.Cell)
}

// Worker is a handle on one venus-worker subprocess.
type Worker struct {
	ID string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *tailBuffer

	mu     sync.Mutex
	killed bool
}

// spawn starts a worker process from the given binary.
func spawn(bin string) (*Worker, error) {
	w := &Worker{
		ID:     uuid.NewString(),
		cmd:    exec.Command(bin),
		stderr: newTailBuffer(8 << 10),
	}
	w.cmd.Stderr = w.stderr

	var err error
	if w.stdin, err = w.cmd.StdinPipe(); err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	if w.stdout, err = w.cmd.StdoutPipe(); err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := w.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	return w, nil
}

// roundTrip sends one command and waits for one response. When ctx is
// cancelled while waiting, the worker is killed and ErrInterrupted is
// returned; the subprocess is the cancellation boundary.
func (w *Worker) roundTrip(ctx context.Context, cmd *ipc.Command) (*ipc.Response, error) {
	if err := ipc.Write(w.stdin, cmd); err != nil {
		return nil, fmt.Errorf("send %s to worker %s: %w", cmd.Op, w.ID, err)
	}

	type reply struct {
		resp *ipc.Response
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		var resp ipc.Response
		err := ipc.Read(w.stdout, &resp)
		ch <- reply{&resp, err}
	}()

	select {
	case <-ctx.Done():
		w.Kill()
		<-ch
		return nil, ErrInterrupted
	case r := <-ch:
		if r.err != nil {
			if w.wasKilled() {
				return nil, ErrInterrupted
			}
			return nil, &CrashError{Cell: cmd.Cell, Stderr: w.stderr.String()}
		}
		return r.resp, nil
	}
}

// Load asks the worker to open the artifact and resolve its entry symbol.
func (w *Worker) Load(ctx context.Context, path, symbol, cellName string) error {
	resp, err := w.roundTrip(ctx, &ipc.Command{Op: ipc.OpLoad, Path: path, Symbol: symbol, Cell: cellName})
	if err != nil {
		return err
	}
	switch resp.Op {
	case ipc.OpLoaded:
		return nil
	case ipc.OpError:
		return &CellError{Cell: cellName, Message: resp.Message}
	default:
		return fmt.Errorf("unexpected %s response to load", resp.Op)
	}
}

// Execute runs the loaded cell with the given serialized inputs.
func (w *Worker) Execute(ctx context.Context, cellName string, inputs [][]byte) (*ipc.Response, error) {
	resp, err := w.roundTrip(ctx, &ipc.Command{Op: ipc.OpExecute, Cell: cellName, Inputs: inputs})
	if err != nil {
		return nil, err
	}
	switch resp.Op {
	case ipc.OpOutput:
		return resp, nil
	case ipc.OpError:
		return nil, &CellError{Cell: cellName, Message: resp.Message}
	case ipc.OpPanic:
		return nil, &PanicError{Cell: cellName, Message: resp.Message}
	default:
		return nil, fmt.Errorf("unexpected %s response to execute", resp.Op)
	}
}

// Ping checks liveness.
func (w *Worker) Ping(ctx context.Context) error {
	resp, err := w.roundTrip(ctx, &ipc.Command{Op: ipc.OpPing})
	if err != nil {
		return err
	}
	if resp.Op != ipc.OpPong {
		return fmt.Errorf("unexpected %s response to ping", resp.Op)
	}
	return nil
}

// Shutdown requests a clean exit and reaps the process.
func (w *Worker) Shutdown() error {
	resp, err := w.roundTrip(context.Background(), &ipc.Command{Op: ipc.OpShutdown})
	if err == nil && resp.Op != ipc.OpShuttingDown {
		err = fmt.Errorf("unexpected %s response to shutdown", resp.Op)
	}
	w.stdin.Close()
	w.cmd.Wait()
	return err
}

// Kill terminates the worker immediately.
func (w *Worker) Kill() {
	w.mu.Lock()
	w.killed = true
	w.mu.Unlock()
	w.cmd.Process.Kill()
	w.cmd.Wait()
}

func (w *Worker) wasKilled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.killed
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	n   int
	buf []byte
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.n {
		b.buf = b.buf[len(b.buf)-b.n:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
