package venus

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ml-rust/venus/internal/cell"
	"github.com/ml-rust/venus/internal/compile"
	execpkg "github.com/ml-rust/venus/internal/exec"
	"github.com/ml-rust/venus/internal/extract"
	"github.com/ml-rust/venus/internal/graph"
	"github.com/ml-rust/venus/internal/history"
	"github.com/ml-rust/venus/internal/state"
)

// Session orchestrates one open notebook: the cell registry, the
// dependency graph, the compile pipeline, the execution coordinator, and
// the persistent state store.
type Session struct {
	id           string
	cfg          Config
	log          *slog.Logger
	notebookPath string
	pkg          string

	// mu guards the registry, graph, statuses, and in-memory outputs.
	// runMu serializes execution entry points against each other.
	mu    sync.Mutex
	runMu sync.Mutex

	reg     *cell.Registry
	graph   *graph.Graph
	status  map[cell.ID]cell.Status
	outputs map[string]*state.Output

	pipeline *compile.Pipeline
	coord    *execpkg.Coordinator
	store    *state.Store
	undo     *history.Manager
	events   *broadcaster
	backend  compile.Backend

	cancelMu  sync.Mutex
	cancelRun func()
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// Open loads the notebook at notebookPath and restores any persisted
// outputs from its data directory.
func Open(notebookPath string, cfg Config, opts ...SessionOption) (*Session, error) {
	dataDir := cfg.dataDirFor(notebookPath)

	store, err := state.Open(filepath.Join(dataDir, "notebook.db"),
		state.WithHistoryLimit(cfg.HistoryLimit))
	if err != nil {
		if mkErr := os.MkdirAll(dataDir, 0o755); mkErr == nil {
			store, err = state.Open(filepath.Join(dataDir, "notebook.db"),
				state.WithHistoryLimit(cfg.HistoryLimit))
		}
		if err != nil {
			return nil, fmt.Errorf("venus: open state store: %w", err)
		}
	}

	s := &Session{
		id:           uuid.NewString(),
		cfg:          cfg,
		log:          slog.Default(),
		notebookPath: notebookPath,
		status:       make(map[cell.ID]cell.Status),
		outputs:      make(map[string]*state.Output),
		store:        store,
		undo:         history.NewManager(cfg.UndoLimit),
		events:       newBroadcaster(),
		backend:      compile.Backend(cfg.Backend),
	}
	if s.backend == "" {
		s.backend = BackendFast
	}
	for _, opt := range opts {
		opt(s)
	}

	workerBin, err := resolveWorkerBin(cfg.WorkerBin)
	if err != nil {
		store.Close()
		return nil, err
	}
	s.coord = execpkg.NewCoordinator(workerBin,
		execpkg.WithParallelism(cfg.Parallelism),
		execpkg.WithLogger(s.log))

	pipelineOpts := []compile.Option{compile.WithVerifier(s.coord.Verify)}
	if cfg.GoBin != "" {
		pipelineOpts = append(pipelineOpts, compile.WithGoBinary(cfg.GoBin))
	}
	s.pipeline, err = compile.NewPipeline(
		filepath.Join(dataDir, "build"),
		filepath.Join(dataDir, "artifacts"),
		pipelineOpts...)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("venus: create pipeline: %w", err)
	}

	if err := s.Reload(); err != nil {
		store.Close()
		return nil, err
	}
	s.log.Debug("session open",
		slog.String("session", s.id),
		slog.String("notebook", notebookPath),
		slog.String("backend", string(s.backend)))
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Close releases the session's database resources.
func (s *Session) Close() error {
	return s.store.Close()
}

// Subscribe registers an event listener. The returned func unsubscribes.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// SetBackend switches the compilation backend for subsequent runs.
// Cached artifacts for the other backend stay on disk.
func (s *Session) SetBackend(b Backend) error {
	switch b {
	case BackendFast, BackendFull:
	default:
		return fmt.Errorf("unknown backend %q", b)
	}
	s.mu.Lock()
	s.backend = b
	s.mu.Unlock()
	return nil
}

// resolveWorkerBin locates the venus-worker binary: explicit config,
// then next to the running executable, then PATH.
func resolveWorkerBin(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "venus-worker")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath("venus-worker"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("venus: venus-worker binary not found; set worker_bin")
}

// Reload re-reads the notebook file from disk, rebuilds the graph, and
// rebinds persisted outputs by cell name. A restored output whose stored
// source hash matches the current cell is current (Success); one whose
// hash differs is stale (Dirty). The undo history does not survive a
// reload.
func (s *Session) Reload() error {
	res, err := extract.File(s.notebookPath)
	if err != nil {
		return fmt.Errorf("venus: %w", err)
	}

	// The registry assigns IDs and source order; the graph is keyed by
	// them, so cells must be registered before the build.
	reg := cell.NewRegistry()
	for _, c := range res.Cells {
		if _, err := reg.Append(c); err != nil {
			return fmt.Errorf("venus: %w", err)
		}
	}
	g, err := graph.Build(reg.Cells())
	if err != nil {
		return fmt.Errorf("venus: %w", err)
	}

	stored, err := s.store.LoadAll()
	if err != nil {
		return fmt.Errorf("venus: restore outputs: %w", err)
	}

	s.mu.Lock()
	s.pkg = res.Package
	s.reg = reg
	s.graph = g
	s.status = make(map[cell.ID]cell.Status)
	s.outputs = make(map[string]*state.Output)
	for _, c := range s.reg.Runnable() {
		st := cell.StatusPristine
		if o, ok := stored[c.Name]; ok {
			s.outputs[c.Name] = o
			if o.SourceHash == c.SourceHash {
				st = cell.StatusSuccess
			} else {
				st = cell.StatusDirty
			}
		}
		s.status[c.ID] = st
	}
	s.undo.Clear()
	s.mu.Unlock()

	s.events.publish(Event{Type: EventNotebookLoaded})
	s.publishUndoState()
	return nil
}

// Cells returns the notebook's cells in source order.
func (s *Session) Cells() []*Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Cell, len(s.reg.Cells()))
	copy(out, s.reg.Cells())
	return out
}

// StatusOf returns a cell's execution status. Definition and narrative
// cells are always Pristine.
func (s *Session) StatusOf(id CellID) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[id]; ok {
		return st
	}
	return StatusPristine
}

// OutputOf returns the current output for a cell name, or nil.
func (s *Session) OutputOf(name string) *Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[name]
}

// Edges returns the current dependency edges.
func (s *Session) Edges() []Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Edges()
}

// SetWidgetValue stores an interactive widget value under name. Widget
// values live outside the output lifecycle; clearing outputs keeps
// them.
func (s *Session) SetWidgetValue(name string, value []byte) error {
	if err := s.store.SetMeta("widget:"+name, string(value)); err != nil {
		return fmt.Errorf("venus: %w", err)
	}
	return nil
}

// WidgetValue returns the stored widget value for name, or nil when
// none was set.
func (s *Session) WidgetValue(name string) ([]byte, error) {
	v, err := s.store.GetMeta("widget:" + name)
	if err != nil {
		return nil, fmt.Errorf("venus: %w", err)
	}
	if v == "" {
		return nil, nil
	}
	return []byte(v), nil
}

// Change reports the outcome of one structural edit: the cell it
// touched and the names of cells whose status became Dirty as a
// consequence.
type Change struct {
	Cell    *Cell
	Dirtied []string
}

// rawSource reconstructs the notebook text for a cell. Extraction strips
// doc comments, so runnable cells get their marker back and narrative
// cells are re-rendered as a comment group; the result parses back to a
// cell of the same kind.
func rawSource(c *cell.Cell) string {
	switch c.Kind {
	case cell.KindRunnable:
		return "//venus:cell\n" + c.Source
	case cell.KindNarrative:
		lines := []string{"//venus:md"}
		for _, line := range strings.Split(c.Source, "\n") {
			if line == "" {
				lines = append(lines, "//")
			} else {
				lines = append(lines, "// "+line)
			}
		}
		return strings.Join(lines, "\n")
	default:
		return c.Source
	}
}

// parseCell parses one cell's source text in isolation.
func (s *Session) parseCell(source string) (*Cell, error) {
	full := fmt.Sprintf("package %s\n\n%s\n", s.pkg, source)
	res, err := extract.Source("cell.go", []byte(full))
	if err != nil {
		return nil, err
	}
	if len(res.Cells) != 1 {
		return nil, fmt.Errorf("cell source must contain exactly one declaration, got %d", len(res.Cells))
	}
	return res.Cells[0], nil
}

// rebuildGraph recomputes the dependency graph from the registry. Caller
// holds mu.
func (s *Session) rebuildGraph() error {
	g, err := graph.Build(s.reg.Cells())
	if err != nil {
		return err
	}
	s.graph = g
	return nil
}

// InsertCell parses source as one cell and inserts it at position at.
// Inserting a definition conservatively dirties every runnable cell
// that has output: new definitions link into every artifact.
func (s *Session) InsertCell(source string, at int) (*Change, error) {
	c, err := s.parseCell(source)
	if err != nil {
		return nil, fmt.Errorf("venus: insert cell: %w", err)
	}

	s.mu.Lock()
	inserted, err := s.reg.Insert(c, at)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: insert cell: %w", err)
	}
	if err := s.rebuildGraph(); err != nil {
		s.reg.Delete(inserted.ID)
		s.rebuildGraph()
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: insert cell: %w", err)
	}
	if inserted.Kind == cell.KindRunnable {
		s.status[inserted.ID] = cell.StatusPristine
	}
	dirtied := s.markEdited(inserted)
	s.undo.Record(history.InsertCell{Name: inserted.Name, Kind: inserted.Kind, Source: rawSource(inserted), At: inserted.SourceOrder})
	s.mu.Unlock()

	s.publishStructural(inserted.Name, dirtied)
	return &Change{Cell: inserted, Dirtied: dirtied}, nil
}

// DeleteCell removes a cell. Deleting a cell that other cells depend on
// is refused; delete or rewire the dependents first. Deleting a
// definition dirties every runnable cell with output, like editing one.
func (s *Session) DeleteCell(id CellID) (*Change, error) {
	s.mu.Lock()
	c, ok := s.reg.Get(id)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: delete cell: %w", cell.ErrNotFound)
	}
	if deps := s.reg.Dependents(c.Name); len(deps) > 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: cannot delete %q: depended on by %s", c.Name, strings.Join(deps, ", "))
	}
	removed, at, err := s.reg.Delete(id)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: delete cell: %w", err)
	}
	if err := s.rebuildGraph(); err != nil {
		s.reg.Insert(removed, at)
		s.rebuildGraph()
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: delete cell: %w", err)
	}
	delete(s.status, id)
	delete(s.outputs, removed.Name)
	dirtied := s.markEdited(removed)
	s.undo.Record(history.DeleteCell{Name: removed.Name, Kind: removed.Kind, Source: rawSource(removed), At: at})
	s.mu.Unlock()

	if err := s.store.DeleteOutput(removed.Name); err != nil {
		s.log.Warn("delete stored output", slog.String("cell", removed.Name), slog.Any("error", err))
	}
	s.publishStructural(removed.Name, dirtied)
	return &Change{Cell: removed, Dirtied: dirtied}, nil
}

// EditCell replaces a cell's source. The cell keeps its identity as long
// as the parsed name is unchanged; changing the name in the source is a
// rename and follows the rename rules. A runnable cell that already has
// output becomes Dirty; a pristine cell stays pristine.
func (s *Session) EditCell(id CellID, source string) (*Change, error) {
	parsed, err := s.parseCell(source)
	if err != nil {
		return nil, fmt.Errorf("venus: edit cell: %w", err)
	}

	s.mu.Lock()
	c, ok := s.reg.Get(id)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: edit cell: %w", cell.ErrNotFound)
	}
	old := *c

	if parsed.Name != c.Name {
		if deps := s.reg.Dependents(c.Name); len(deps) > 0 {
			s.mu.Unlock()
			return nil, fmt.Errorf("venus: cannot rename %q: depended on by %s", c.Name, strings.Join(deps, ", "))
		}
		if err := s.reg.Rename(id, parsed.Name); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("venus: edit cell: %w", err)
		}
	}
	c.Kind = parsed.Kind
	c.Dependencies = parsed.Dependencies
	c.ReturnType = parsed.ReturnType
	c.ReturnsError = parsed.ReturnsError
	c.Doc = parsed.Doc
	c.SetSource(parsed.Source)

	if err := s.rebuildGraph(); err != nil {
		restoreEdit(s.reg, c, &old)
		s.rebuildGraph()
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: edit cell: %w", err)
	}

	if old.Name != c.Name {
		if o, ok := s.outputs[old.Name]; ok {
			o.CellName = c.Name
			s.outputs[c.Name] = o
			delete(s.outputs, old.Name)
		}
	}
	s.undo.Record(history.EditSource{Name: c.Name, OldSource: old.Source, NewSource: c.Source})
	dirtied := s.markEdited(c)
	s.mu.Unlock()

	s.publishStructural(c.Name, dirtied)
	return &Change{Cell: c, Dirtied: dirtied}, nil
}

// restoreEdit rolls a failed edit back. Caller holds mu.
func restoreEdit(reg *cell.Registry, c, old *cell.Cell) {
	if c.Name != old.Name {
		reg.Rename(c.ID, old.Name)
	}
	c.Kind = old.Kind
	c.Dependencies = old.Dependencies
	c.ReturnType = old.ReturnType
	c.ReturnsError = old.ReturnsError
	c.Doc = old.Doc
	c.SetSource(old.Source)
}

// markEdited applies post-edit dirtying and returns the affected cell
// names. Editing a runnable cell dirties only that cell. Editing a
// definition cell conservatively dirties every runnable cell that has
// output: definitions link into every artifact, so any of them may be
// affected. Cells without output are never dirtied. Caller holds mu.
func (s *Session) markEdited(c *cell.Cell) []string {
	var dirtied []string
	mark := func(target *cell.Cell) {
		if s.outputs[target.Name] == nil {
			return
		}
		if s.status[target.ID] == cell.StatusDirty {
			return
		}
		if cell.Transition(s.status[target.ID], cell.StatusDirty) == nil {
			s.status[target.ID] = cell.StatusDirty
			dirtied = append(dirtied, target.Name)
		}
	}
	switch c.Kind {
	case cell.KindRunnable:
		mark(c)
	case cell.KindDefinition:
		for _, rc := range s.reg.Runnable() {
			mark(rc)
		}
	}
	return dirtied
}

// MoveCell shifts a cell one position up or down in source order. Moves
// never change execution semantics; dependencies bind by name. Moving a
// definition still dirties runnable cells with output: definitions link
// into artifacts in source order, so the move changes what a rebuild
// would produce.
func (s *Session) MoveCell(id CellID, dir MoveDirection) (*Change, error) {
	s.mu.Lock()
	c, ok := s.reg.Get(id)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: move cell: %w", cell.ErrNotFound)
	}
	from := c.SourceOrder
	if err := s.reg.Move(id, dir); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: move cell: %w", err)
	}
	if err := s.rebuildGraph(); err != nil {
		s.reg.MoveTo(id, from)
		s.rebuildGraph()
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: move cell: %w", err)
	}
	var dirtied []string
	if c.Kind == cell.KindDefinition {
		dirtied = s.markEdited(c)
	}
	s.undo.Record(history.MoveCell{Name: c.Name, From: from, To: c.SourceOrder})
	s.mu.Unlock()

	s.publishStructural(c.Name, dirtied)
	return &Change{Cell: c, Dirtied: dirtied}, nil
}

// RenameCell changes a cell's name. For runnable cells the function name
// in the source is rewritten to match. Renaming a cell that others
// depend on is refused.
func (s *Session) RenameCell(id CellID, newName string) (*Change, error) {
	s.mu.Lock()
	c, ok := s.reg.Get(id)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: rename cell: %w", cell.ErrNotFound)
	}
	oldName := c.Name
	if deps := s.reg.Dependents(oldName); len(deps) > 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: cannot rename %q: depended on by %s", oldName, strings.Join(deps, ", "))
	}
	if err := s.reg.Rename(id, newName); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: rename cell: %w", err)
	}
	if c.Kind == cell.KindRunnable {
		c.SetSource(strings.Replace(c.Source, "func "+oldName+"(", "func "+newName+"(", 1))
	}
	if err := s.rebuildGraph(); err != nil {
		s.reg.Rename(id, oldName)
		if c.Kind == cell.KindRunnable {
			c.SetSource(strings.Replace(c.Source, "func "+newName+"(", "func "+oldName+"(", 1))
		}
		s.rebuildGraph()
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: rename cell: %w", err)
	}
	if o, ok := s.outputs[oldName]; ok {
		o.CellName = newName
		s.outputs[newName] = o
		delete(s.outputs, oldName)
	}
	// A rename changes the cell's contribution to every artifact key, so
	// it dirties like an edit does.
	dirtied := s.markEdited(c)
	s.undo.Record(history.RenameCell{OldName: oldName, NewName: newName})
	s.mu.Unlock()

	s.publishStructural(newName, dirtied)
	return &Change{Cell: c, Dirtied: dirtied}, nil
}

// DuplicateCell inserts a copy of an existing cell directly after it,
// under the first free name of the form base_2, base_3, and so on. The
// copied source has its declared name rewritten to match; cells whose
// name never appears in their source, such as import blocks, cannot be
// duplicated.
func (s *Session) DuplicateCell(id CellID) (*Change, error) {
	s.mu.Lock()
	c, ok := s.reg.Get(id)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: duplicate cell: %w", cell.ErrNotFound)
	}
	fresh := s.freshName(c.Name)
	at := c.SourceOrder + 1

	var dup *cell.Cell
	if c.Kind == cell.KindNarrative {
		dup = &cell.Cell{Name: fresh, Kind: cell.KindNarrative, Source: c.Source}
	} else {
		src := rawSource(c)
		if c.Kind == cell.KindRunnable {
			src = strings.Replace(src, "func "+c.Name+"(", "func "+fresh+"(", 1)
		} else {
			src = strings.Replace(src, c.Name, fresh, 1)
		}
		parsed, err := s.parseCell(src)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("venus: duplicate cell: %w", err)
		}
		if parsed.Name != fresh {
			s.mu.Unlock()
			return nil, fmt.Errorf("venus: cannot duplicate %q: its name does not appear in its source", c.Name)
		}
		dup = parsed
	}

	inserted, err := s.reg.Insert(dup, at)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: duplicate cell: %w", err)
	}
	if err := s.rebuildGraph(); err != nil {
		s.reg.Delete(inserted.ID)
		s.rebuildGraph()
		s.mu.Unlock()
		return nil, fmt.Errorf("venus: duplicate cell: %w", err)
	}
	if inserted.Kind == cell.KindRunnable {
		s.status[inserted.ID] = cell.StatusPristine
	}
	dirtied := s.markEdited(inserted)
	s.undo.Record(history.DuplicateCell{Name: inserted.Name, Kind: inserted.Kind, Source: rawSource(inserted), At: at})
	s.mu.Unlock()

	s.publishStructural(inserted.Name, dirtied)
	return &Change{Cell: inserted, Dirtied: dirtied}, nil
}

// freshName returns the first name of the form base_n not yet taken.
// Caller holds mu.
func (s *Session) freshName(base string) string {
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d", base, n)
		if _, taken := s.reg.GetByName(candidate); !taken {
			return candidate
		}
	}
}

// CanUndo reports whether an undoable structural edit exists.
func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.undo.CanUndo()
}

// CanRedo reports whether a redoable structural edit exists.
func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.undo.CanRedo()
}

// Undo reverts the most recent structural edit and returns its
// description.
func (s *Session) Undo() (string, error) {
	s.mu.Lock()
	op, ok := s.undo.Undo()
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("venus: nothing to undo")
	}
	dirtied, err := s.applyOp(op, true)
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("venus: undo %s: %w", op.Description(), err)
	}
	s.publishStructural("", dirtied)
	return op.Description(), nil
}

// Redo reapplies the most recently undone structural edit.
func (s *Session) Redo() (string, error) {
	s.mu.Lock()
	op, ok := s.undo.Redo()
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("venus: nothing to redo")
	}
	dirtied, err := s.applyOp(op, false)
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("venus: redo %s: %w", op.Description(), err)
	}
	s.publishStructural("", dirtied)
	return op.Description(), nil
}

// applyOp interprets a recorded operation. invert replays its inverse
// (undo); otherwise the operation itself (redo). It returns the names of
// cells dirtied by the replay. Caller holds mu.
func (s *Session) applyOp(op history.Op, invert bool) ([]string, error) {
	switch o := op.(type) {
	case history.InsertCell:
		if invert {
			return s.removeByName(o.Name)
		}
		return s.insertRaw(o.Name, o.Source, o.At)
	case history.DeleteCell:
		if invert {
			return s.insertRaw(o.Name, o.Source, o.At)
		}
		return s.removeByName(o.Name)
	case history.DuplicateCell:
		if invert {
			return s.removeByName(o.Name)
		}
		return s.insertRaw(o.Name, o.Source, o.At)
	case history.EditSource:
		c, ok := s.reg.GetByName(o.Name)
		if !ok {
			return nil, cell.ErrNotFound
		}
		src := o.OldSource
		if !invert {
			src = o.NewSource
		}
		c.SetSource(src)
		if err := s.rebuildGraph(); err != nil {
			return nil, err
		}
		return s.markEdited(c), nil
	case history.MoveCell:
		c, ok := s.reg.GetByName(o.Name)
		if !ok {
			return nil, cell.ErrNotFound
		}
		to := o.From
		if !invert {
			to = o.To
		}
		if err := s.reg.MoveTo(c.ID, to); err != nil {
			return nil, err
		}
		if err := s.rebuildGraph(); err != nil {
			return nil, err
		}
		var dirtied []string
		if c.Kind == cell.KindDefinition {
			dirtied = s.markEdited(c)
		}
		return dirtied, nil
	case history.RenameCell:
		from, to := o.NewName, o.OldName
		if !invert {
			from, to = o.OldName, o.NewName
		}
		c, ok := s.reg.GetByName(from)
		if !ok {
			return nil, cell.ErrNotFound
		}
		if err := s.reg.Rename(c.ID, to); err != nil {
			return nil, err
		}
		if c.Kind == cell.KindRunnable {
			c.SetSource(strings.Replace(c.Source, "func "+from+"(", "func "+to+"(", 1))
		}
		if out, ok := s.outputs[from]; ok {
			out.CellName = to
			s.outputs[to] = out
			delete(s.outputs, from)
		}
		if err := s.rebuildGraph(); err != nil {
			return nil, err
		}
		return s.markEdited(c), nil
	default:
		return nil, fmt.Errorf("unknown operation %T", op)
	}
}

// removeByName deletes a cell for undo/redo replay. Caller holds mu.
func (s *Session) removeByName(name string) ([]string, error) {
	c, ok := s.reg.GetByName(name)
	if !ok {
		return nil, cell.ErrNotFound
	}
	if deps := s.reg.Dependents(name); len(deps) > 0 {
		return nil, fmt.Errorf("cannot remove %q: depended on by %s", name, strings.Join(deps, ", "))
	}
	if _, _, err := s.reg.Delete(c.ID); err != nil {
		return nil, err
	}
	delete(s.status, c.ID)
	delete(s.outputs, name)
	if err := s.rebuildGraph(); err != nil {
		return nil, err
	}
	return s.markEdited(c), nil
}

// insertRaw re-inserts a cell from its recorded notebook text, keeping
// its recorded name. Caller holds mu.
func (s *Session) insertRaw(name, source string, at int) ([]string, error) {
	full := fmt.Sprintf("package %s\n\n%s\n", s.pkg, source)
	res, err := extract.Source("cell.go", []byte(full))
	if err != nil {
		return nil, err
	}
	if len(res.Cells) != 1 {
		return nil, fmt.Errorf("expected one cell, got %d", len(res.Cells))
	}
	// Generated names, narrative ones in particular, depend on position
	// in the parsed file; the recorded name wins.
	res.Cells[0].Name = name
	c, err := s.reg.Insert(res.Cells[0], at)
	if err != nil {
		return nil, err
	}
	if c.Kind == cell.KindRunnable {
		s.status[c.ID] = cell.StatusPristine
	}
	if err := s.rebuildGraph(); err != nil {
		return nil, err
	}
	return s.markEdited(c), nil
}

// publishStructural announces one structural edit: the graph change,
// the statuses it dirtied, and the new undo availability. cellName may
// be empty for undo/redo replays.
func (s *Session) publishStructural(cellName string, dirtied []string) {
	s.events.publish(Event{Type: EventGraphUpdated, Cell: cellName})
	for _, name := range dirtied {
		s.events.publish(Event{Type: EventCellStatus, Cell: name, Status: StatusDirty})
	}
	s.publishUndoState()
}

// publishUndoState broadcasts current undo and redo availability.
func (s *Session) publishUndoState() {
	s.mu.Lock()
	canUndo, canRedo := s.undo.CanUndo(), s.undo.CanRedo()
	s.mu.Unlock()
	s.events.publish(Event{Type: EventUndoState, CanUndo: canUndo, CanRedo: canRedo})
}
