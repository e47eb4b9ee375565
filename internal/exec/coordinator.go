package exec

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"lukechampine.com/blake3"

	"github.com/ml-rust/venus/internal/compile"
)

// Result is one successful execution: the serialized output value, its
// rendered form, the output content hash, and timing.
type Result struct {
	Value    []byte
	Display  string
	Hash     string
	Duration time.Duration
}

// Coordinator schedules cell executions across a bounded set of worker
// subprocesses. Each execution gets a fresh worker; plugins cannot be
// unloaded, so process-per-run is also what keeps stale code out of memory.
type Coordinator struct {
	workerBin string
	log       *slog.Logger
	slots     chan struct{}
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithParallelism bounds concurrent workers. Defaults to the CPU count.
func WithParallelism(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.slots = make(chan struct{}, n)
		}
	}
}

// WithLogger sets the coordinator's logger.
func WithLogger(log *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = log }
}

// NewCoordinator creates a coordinator spawning workers from workerBin.
func NewCoordinator(workerBin string, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		workerBin: workerBin,
		log:       slog.Default(),
		slots:     make(chan struct{}, runtime.NumCPU()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// acquire takes a worker slot, honoring cancellation while waiting.
func (c *Coordinator) acquire(ctx context.Context) error {
	select {
	case c.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrInterrupted
	}
}

func (c *Coordinator) release() {
	<-c.slots
}

// Execute runs one compiled artifact with the given inputs, one
// serialized value per declared dependency in declaration order.
func (c *Coordinator) Execute(ctx context.Context, art *compile.Artifact, inputs [][]byte) (*Result, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	start := time.Now()
	w, err := spawn(c.workerBin)
	if err != nil {
		return nil, fmt.Errorf("spawn worker for %s: %w", art.CellName, err)
	}
	defer w.Kill()

	// A worker that cannot answer a ping would otherwise surface as a
	// confusing load failure.
	if err := w.Ping(ctx); err != nil {
		return nil, fmt.Errorf("worker %s for %s not responding: %w", w.ID, art.CellName, err)
	}

	c.log.Debug("executing cell",
		slog.String("cell", art.CellName),
		slog.String("worker", w.ID),
		slog.String("artifact", art.Path))

	if err := w.Load(ctx, art.Path, art.EntrySymbol, art.CellName); err != nil {
		return nil, err
	}
	resp, err := w.Execute(ctx, art.CellName, inputs)
	if err != nil {
		return nil, err
	}
	w.Shutdown()

	sum := blake3.Sum256(resp.Value)
	res := &Result{
		Value:    resp.Value,
		Display:  resp.Display,
		Hash:     hex.EncodeToString(sum[:]),
		Duration: time.Since(start),
	}
	c.log.Debug("cell finished",
		slog.String("cell", art.CellName),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// Verify loads an artifact in a throwaway worker without executing it.
// The compile pipeline calls it before evicting a superseded artifact.
func (c *Coordinator) Verify(ctx context.Context, art *compile.Artifact) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	w, err := spawn(c.workerBin)
	if err != nil {
		return fmt.Errorf("spawn verify worker: %w", err)
	}
	defer w.Kill()
	return w.Load(ctx, art.Path, art.EntrySymbol, art.CellName)
}
