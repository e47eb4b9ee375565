package venus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ml-rust/venus/internal/cell"
	"github.com/ml-rust/venus/internal/compile"
	execpkg "github.com/ml-rust/venus/internal/exec"
	"github.com/ml-rust/venus/internal/state"
)

// ErrInterrupted reports that a run was cancelled. Affected cells return
// to the status they held before the run started.
var ErrInterrupted = execpkg.ErrInterrupted

// MissingInputsError reports an execution refused because one or more
// dependencies have no output yet. Nothing runs automatically to fill
// the gap; run the missing cells first.
type MissingInputsError struct {
	Cell    string
	Missing []string
}

func (e *MissingInputsError) Error() string {
	return fmt.Sprintf("cell %s: missing inputs: %s", e.Cell, strings.Join(e.Missing, ", "))
}

// ExecuteCell compiles and runs one cell. Dependencies must already have
// output; they are consumed as-is even when dirty. On success the cell's
// output is persisted and, when the output hash actually changed, direct
// dependents in Success become Dirty. Indirect dependents are untouched
// until the chain is re-run.
func (s *Session) ExecuteCell(ctx context.Context, id CellID) (*Output, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	ctx, done := s.beginRun(ctx)
	defer done()
	return s.runCell(ctx, id)
}

// ExecuteAll runs every runnable cell in dependency order, cells within
// one topological level in parallel. A failed cell skips its transitive
// dependents rather than running them against stale inputs.
func (s *Session) ExecuteAll(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	ctx, done := s.beginRun(ctx)
	defer done()

	s.mu.Lock()
	levels := s.graph.Levels()
	s.mu.Unlock()

	return s.runLevels(ctx, levels, nil)
}

// ExecuteDirty re-runs dirty cells in dependency order until the
// notebook settles. Running a dirty cell may dirty its direct
// dependents; those are picked up by later passes, so a change
// propagates exactly as far as the output hashes change.
func (s *Session) ExecuteDirty(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	ctx, done := s.beginRun(ctx)
	defer done()

	s.mu.Lock()
	maxPasses := len(s.graph.Order())
	s.mu.Unlock()

	for pass := 0; pass <= maxPasses; pass++ {
		s.mu.Lock()
		var dirty []cell.ID
		for _, id := range s.graph.Order() {
			if s.status[id] == cell.StatusDirty {
				dirty = append(dirty, id)
			}
		}
		levels := s.graph.Levels()
		s.mu.Unlock()

		if len(dirty) == 0 {
			return nil
		}

		only := make(map[cell.ID]bool, len(dirty))
		for _, id := range dirty {
			only[id] = true
		}
		if err := s.runLevels(ctx, levels, only); err != nil {
			return err
		}
	}
	return nil
}

// runLevels executes cells level by level. When only is non-nil, cells
// outside it are left alone but still count for skip bookkeeping.
func (s *Session) runLevels(ctx context.Context, levels [][]cell.ID, only map[cell.ID]bool) error {
	skipped := make(map[cell.ID]bool)
	var failures []error

	limit := s.cfg.Parallelism
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	for _, level := range levels {
		g := new(errgroup.Group)
		g.SetLimit(limit)

		for _, id := range level {
			if only != nil && !only[id] {
				continue
			}

			// Skip cells downstream of a failure in this run.
			s.mu.Lock()
			skip := false
			for _, dep := range s.graph.Dependencies(id) {
				if skipped[dep] {
					skip = true
					break
				}
			}
			s.mu.Unlock()
			if skip {
				skipped[id] = true
				continue
			}

			id := id
			g.Go(func() error {
				if _, err := s.runCell(ctx, id); err != nil {
					if errors.Is(err, ErrInterrupted) {
						return err
					}
					s.mu.Lock()
					skipped[id] = true
					failures = append(failures, err)
					s.mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("run had %d error(s): %w", len(failures), failures[0])
	}
	return nil
}

// CompileAll compiles every runnable cell without executing anything,
// warming the artifact cache for the current backend.
func (s *Session) CompileAll(ctx context.Context) error {
	s.mu.Lock()
	cells := append([]*cell.Cell(nil), s.reg.Runnable()...)
	defs := append([]*cell.Cell(nil), s.reg.Definitions()...)
	backend := s.backend
	s.mu.Unlock()

	g := new(errgroup.Group)
	limit := s.cfg.Parallelism
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	g.SetLimit(limit)
	for _, c := range cells {
		c := c
		g.Go(func() error {
			_, err := s.pipeline.Compile(ctx, c, defs, backend)
			return err
		})
	}
	return g.Wait()
}

// beginRun installs the interruptible run context, layering the
// configured per-run timeout on top of the caller's context.
func (s *Session) beginRun(ctx context.Context) (context.Context, func()) {
	cancelTimeout := func() {}
	if s.cfg.ExecTimeout > 0 {
		ctx, cancelTimeout = context.WithTimeout(ctx, s.cfg.ExecTimeout)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancelRun = cancel
	s.cancelMu.Unlock()
	return runCtx, func() {
		s.cancelMu.Lock()
		s.cancelRun = nil
		s.cancelMu.Unlock()
		cancel()
		cancelTimeout()
	}
}

// Interrupt cancels the run in progress, if any. Workers are killed;
// interrupted cells return to their pre-run status.
func (s *Session) Interrupt() {
	s.cancelMu.Lock()
	cancel := s.cancelRun
	s.cancelMu.Unlock()
	if cancel != nil {
		cancel()
		s.events.publish(Event{Type: EventInterrupted})
	}
}

// runCell performs one compile-and-execute cycle. Callers hold runMu.
func (s *Session) runCell(ctx context.Context, id CellID) (*Output, error) {
	s.mu.Lock()
	c, ok := s.reg.Get(id)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: execute: %w", cell.ErrNotFound)
	}
	if c.Kind != cell.KindRunnable {
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: cell %q is not runnable", c.Name)
	}
	prev := s.status[id]
	if !prev.CanStartRun() {
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: cell %q is already %s", c.Name, prev)
	}

	// Precondition: every dependency has an output. No automatic runs to
	// fill gaps; stale (dirty) inputs are consumed as-is.
	var missing []string
	inputs := make([][]byte, len(c.Dependencies))
	for i, dep := range c.Dependencies {
		o := s.outputs[dep.Name]
		if o == nil {
			missing = append(missing, dep.Name)
			continue
		}
		inputs[i] = o.Value
	}
	if len(missing) > 0 {
		s.mu.Unlock()
		return nil, &MissingInputsError{Cell: c.Name, Missing: missing}
	}

	snapshot := *c
	defs := append([]*cell.Cell(nil), s.reg.Definitions()...)
	backend := s.backend
	s.setStatus(id, cell.StatusCompiling)
	s.mu.Unlock()

	art, err := s.pipeline.Compile(ctx, &snapshot, defs, backend)
	if err != nil {
		return nil, s.finishFailed(id, &snapshot, prev, err)
	}

	s.mu.Lock()
	s.setStatus(id, cell.StatusRunning)
	s.mu.Unlock()

	res, err := s.coord.Execute(ctx, art, inputs)
	if err != nil {
		return nil, s.finishFailed(id, &snapshot, prev, err)
	}
	return s.commit(id, &snapshot, res)
}

// finishFailed records a failed or interrupted run. Interrupts restore
// the pre-run status; real failures move the cell to Error while keeping
// its last output for dependents.
func (s *Session) finishFailed(id cell.ID, c *cell.Cell, prev cell.Status, runErr error) error {
	if errors.Is(runErr, execpkg.ErrInterrupted) || errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		s.mu.Lock()
		s.setStatus(id, prev)
		s.mu.Unlock()
		s.events.publish(Event{Type: EventInterrupted, Cell: c.Name})
		return ErrInterrupted
	}

	s.mu.Lock()
	s.setStatus(id, cell.StatusError)
	s.mu.Unlock()

	if err := s.store.AppendHistory(&state.HistoryEntry{
		CellName:   c.Name,
		Source:     c.Source,
		SourceHash: c.SourceHash,
		Err:        runErr.Error(),
		When:       time.Now(),
	}); err != nil {
		s.log.Warn("append history", slog.String("cell", c.Name), slog.Any("error", err))
	}
	ev := Event{Type: EventCellError, Cell: c.Name, Error: runErr.Error()}
	var ce *compile.CompileError
	if errors.As(runErr, &ce) {
		ev.Diagnostics = ce.Diagnostics
	}
	s.events.publish(ev)
	return runErr
}

// commit publishes a successful result: output map, store, history, and
// hash-gated dirty propagation to direct dependents.
func (s *Session) commit(id cell.ID, c *cell.Cell, res *execpkg.Result) (*Output, error) {
	out := &state.Output{
		CellName:   c.Name,
		SourceHash: c.SourceHash,
		ReturnType: c.ReturnType,
		Value:      res.Value,
		Display:    res.Display,
		Hash:       res.Hash,
		Duration:   res.Duration,
		When:       time.Now(),
	}

	s.mu.Lock()
	// The cell may have been edited or removed while running; a stale
	// result must not overwrite the newer state.
	current, ok := s.reg.Get(id)
	if !ok || current.SourceHash != c.SourceHash {
		if ok {
			st := cell.StatusPristine
			if s.outputs[current.Name] != nil {
				st = cell.StatusDirty
			}
			s.setStatus(id, st)
		}
		s.mu.Unlock()
		return out, nil
	}

	var oldHash string
	if old := s.outputs[c.Name]; old != nil {
		oldHash = old.Hash
	}
	s.outputs[c.Name] = out
	s.setStatus(id, cell.StatusSuccess)

	// Hash-gated, non-transitive propagation: only direct dependents
	// with a successful output are marked, and only when the output
	// actually changed. Pristine cells are never dirtied.
	var dirtied []string
	if oldHash != out.Hash {
		for _, depID := range s.graph.Dependents(id) {
			dc, ok := s.reg.Get(depID)
			if !ok {
				continue
			}
			if s.status[depID] == cell.StatusSuccess {
				s.setStatus(depID, cell.StatusDirty)
				dirtied = append(dirtied, dc.Name)
			}
		}
	}
	s.mu.Unlock()

	if err := s.store.SaveOutput(out); err != nil {
		s.log.Warn("save output", slog.String("cell", c.Name), slog.Any("error", err))
	}
	if err := s.store.AppendHistory(&state.HistoryEntry{
		CellName:   c.Name,
		Source:     c.Source,
		SourceHash: c.SourceHash,
		Value:      res.Value,
		Display:    res.Display,
		Hash:       res.Hash,
		Duration:   res.Duration,
		When:       out.When,
	}); err != nil {
		s.log.Warn("append history", slog.String("cell", c.Name), slog.Any("error", err))
	}

	s.events.publish(Event{Type: EventCellOutput, Cell: c.Name, Display: res.Display})
	for _, name := range dirtied {
		s.events.publish(Event{Type: EventCellStatus, Cell: name, Status: StatusDirty})
	}
	return out, nil
}

// setStatus applies a validated status transition and announces it.
// Caller holds mu.
func (s *Session) setStatus(id cell.ID, to cell.Status) {
	from := s.status[id]
	if from == to {
		return
	}
	if err := cell.Transition(from, to); err != nil {
		s.log.Error("status transition", slog.String("cell", id.String()), slog.Any("error", err))
		return
	}
	s.status[id] = to
	c, ok := s.reg.Get(id)
	name := id.String()
	if ok {
		name = c.Name
	}
	s.events.publish(Event{Type: EventCellStatus, Cell: name, Status: to})
}

// Restart drops all in-memory outputs and statuses, as if the notebook
// had just been opened with an empty store. Persisted outputs survive;
// a Reload restores them.
func (s *Session) Restart() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.mu.Lock()
	for _, c := range s.reg.Runnable() {
		s.status[c.ID] = cell.StatusPristine
	}
	s.outputs = make(map[string]*state.Output)
	s.mu.Unlock()
	s.events.publish(Event{Type: EventNotebookLoaded})
}

// ClearOutputs is Restart plus deletion of all persisted outputs.
// Execution history is kept.
func (s *Session) ClearOutputs() error {
	s.Restart()
	if err := s.store.ClearOutputs(); err != nil {
		return fmt.Errorf("venus: %w", err)
	}
	return nil
}

// History returns a cell's retained execution records, newest first.
func (s *Session) History(cellName string) ([]*HistoryEntry, error) {
	entries, err := s.store.History(cellName)
	if err != nil {
		return nil, fmt.Errorf("venus: %w", err)
	}
	return entries, nil
}

// SelectHistory restores a past execution record as the cell's current
// output. The restored output is Success when its source matches the
// cell's current source, Dirty otherwise. Direct dependents in Success
// are dirtied when the restored hash differs from the replaced one.
func (s *Session) SelectHistory(cellName string, index int) error {
	entries, err := s.store.History(cellName)
	if err != nil {
		return fmt.Errorf("venus: %w", err)
	}
	if index < 0 || index >= len(entries) {
		return fmt.Errorf("venus: history index %d out of range for %s", index, cellName)
	}
	e := entries[index]
	if e.Err != "" {
		return fmt.Errorf("venus: history entry %d for %s is a failed run", index, cellName)
	}

	out := &state.Output{
		CellName:   cellName,
		SourceHash: e.SourceHash,
		Value:      e.Value,
		Display:    e.Display,
		Hash:       e.Hash,
		Duration:   e.Duration,
		When:       e.When,
	}

	s.mu.Lock()
	c, ok := s.reg.GetByName(cellName)
	if !ok || c.Kind != cell.KindRunnable {
		s.mu.Unlock()
		return fmt.Errorf("venus: %w: %s", cell.ErrNotFound, cellName)
	}
	out.ReturnType = c.ReturnType

	var oldHash string
	if old := s.outputs[cellName]; old != nil {
		oldHash = old.Hash
	}
	s.outputs[cellName] = out

	// Restores rebind state like a reload does, outside the run-time
	// transition table: even a pristine cell may adopt an old output.
	st := cell.StatusDirty
	if e.SourceHash == c.SourceHash {
		st = cell.StatusSuccess
	}
	if s.status[c.ID] != st {
		s.status[c.ID] = st
		s.events.publish(Event{Type: EventCellStatus, Cell: cellName, Status: st})
	}

	var dirtied []string
	if oldHash != out.Hash {
		for _, depID := range s.graph.Dependents(c.ID) {
			dc, ok := s.reg.Get(depID)
			if !ok {
				continue
			}
			if s.status[depID] == cell.StatusSuccess {
				s.setStatus(depID, cell.StatusDirty)
				dirtied = append(dirtied, dc.Name)
			}
		}
	}
	s.mu.Unlock()

	if err := s.store.SaveOutput(out); err != nil {
		s.log.Warn("save output", slog.String("cell", cellName), slog.Any("error", err))
	}
	s.events.publish(Event{Type: EventCellOutput, Cell: cellName, Display: out.Display})
	for _, name := range dirtied {
		s.events.publish(Event{Type: EventCellStatus, Cell: name, Status: StatusDirty})
	}
	return nil
}
