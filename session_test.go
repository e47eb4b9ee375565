package venus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ml-rust/venus/internal/state"
)

const testNotebook = `package scratch

import "strings"

//venus:md
// # Totals

func sum(xs []int) int {
	s := 0
	for _, x := range xs {
		s += x
	}
	return s
}

//venus:cell
func numbers() []int {
	return []int{1, 2, 3}
}

//venus:cell
func total(numbers []int) int {
	return sum(numbers)
}

//venus:cell
func label(total int) (string, error) {
	return strings.Repeat("*", total), nil
}
`

func newTestSession(t *testing.T, source string) *Session {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "notebook.go")
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))

	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(dir, ".venus")
	cfg.WorkerBin = "/bin/true"

	s, err := Open(path, cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func findCell(t *testing.T, s *Session, name string) *Cell {
	t.Helper()
	for _, c := range s.Cells() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cell %q not found", name)
	return nil
}

func cellNames(s *Session) []string {
	var names []string
	for _, c := range s.Cells() {
		names = append(names, c.Name)
	}
	return names
}

func mustEdit(t *testing.T, s *Session, id CellID, source string) *Change {
	t.Helper()
	change, err := s.EditCell(id, source)
	require.NoError(t, err)
	return change
}

// seedOutput installs a fake successful run so dirtying rules can be
// exercised without compiling anything.
func seedOutput(t *testing.T, s *Session, name, hash string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.reg.GetByName(name)
	require.True(t, ok)
	s.outputs[name] = &state.Output{
		CellName:   name,
		SourceHash: c.SourceHash,
		Value:      []byte(`6`),
		Display:    "6",
		Hash:       hash,
		When:       time.Now(),
	}
	s.status[c.ID] = StatusSuccess
}

func TestOpenLoadsNotebook(t *testing.T) {
	s := newTestSession(t, testNotebook)

	assert.Equal(t, []string{"imports", "md_1", "sum", "numbers", "total", "label"}, cellNames(s))
	for _, name := range []string{"numbers", "total", "label"} {
		c := findCell(t, s, name)
		assert.Equal(t, StatusPristine, s.StatusOf(c.ID))
		assert.Nil(t, s.OutputOf(name))
	}
}

func TestStatusOfUnknownCell(t *testing.T) {
	s := newTestSession(t, testNotebook)
	assert.Equal(t, StatusPristine, s.StatusOf(CellID(9999)))
}

func TestInsertCell(t *testing.T) {
	s := newTestSession(t, testNotebook)

	change, err := s.InsertCell("//venus:cell\nfunc doubled(total int) int {\n\treturn total * 2\n}", 6)
	require.NoError(t, err)
	inserted := change.Cell
	assert.Equal(t, "doubled", inserted.Name)
	assert.Equal(t, KindRunnable, inserted.Kind)
	assert.Equal(t, StatusPristine, s.StatusOf(inserted.ID))
	assert.Empty(t, change.Dirtied)
	assert.Contains(t, cellNames(s), "doubled")
	assert.True(t, s.CanUndo())
}

func TestInsertCellRejectsDuplicateName(t *testing.T) {
	s := newTestSession(t, testNotebook)
	before := cellNames(s)

	_, err := s.InsertCell("//venus:cell\nfunc total() int {\n\treturn 0\n}", 0)
	require.Error(t, err)
	assert.Equal(t, before, cellNames(s))
}

func TestInsertCellRejectsUnresolvedDependency(t *testing.T) {
	s := newTestSession(t, testNotebook)
	before := cellNames(s)

	_, err := s.InsertCell("//venus:cell\nfunc report(missing int) string {\n\treturn \"\"\n}", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
	assert.Equal(t, before, cellNames(s), "failed insert rolls back")
}

func TestEditCellRejectsCycle(t *testing.T) {
	s := newTestSession(t, testNotebook)
	numbers := findCell(t, s, "numbers")
	oldSource := numbers.Source

	_, err := s.EditCell(numbers.ID, "//venus:cell\nfunc numbers(total int) []int {\n\treturn []int{total}\n}")
	require.Error(t, err)
	assert.Equal(t, oldSource, findCell(t, s, "numbers").Source, "failed edit rolls back")
}

func TestDeleteCellRefusedWithDependents(t *testing.T) {
	s := newTestSession(t, testNotebook)
	numbers := findCell(t, s, "numbers")

	_, err := s.DeleteCell(numbers.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depended on by total")
	assert.Contains(t, cellNames(s), "numbers")
}

func TestDeleteAndUndo(t *testing.T) {
	s := newTestSession(t, testNotebook)
	label := findCell(t, s, "label")

	change, err := s.DeleteCell(label.ID)
	require.NoError(t, err)
	assert.Equal(t, "label", change.Cell.Name)
	assert.NotContains(t, cellNames(s), "label")

	desc, err := s.Undo()
	require.NoError(t, err)
	assert.Equal(t, "delete label", desc)
	assert.Contains(t, cellNames(s), "label")

	desc, err = s.Redo()
	require.NoError(t, err)
	assert.Equal(t, "delete label", desc)
	assert.NotContains(t, cellNames(s), "label")
}

func TestEditPristineCellStaysPristine(t *testing.T) {
	s := newTestSession(t, testNotebook)
	numbers := findCell(t, s, "numbers")

	mustEdit(t, s, numbers.ID, "//venus:cell\nfunc numbers() []int {\n\treturn []int{4, 5}\n}")
	assert.Equal(t, StatusPristine, s.StatusOf(numbers.ID))
}

func TestEditCellWithOutputBecomesDirty(t *testing.T) {
	s := newTestSession(t, testNotebook)
	numbers := findCell(t, s, "numbers")
	seedOutput(t, s, "numbers", "h1")

	mustEdit(t, s, numbers.ID, "//venus:cell\nfunc numbers() []int {\n\treturn []int{4, 5}\n}")
	assert.Equal(t, StatusDirty, s.StatusOf(numbers.ID))
	assert.NotNil(t, s.OutputOf("numbers"), "the stale output stays available to dependents")
}

func TestEditDefinitionDirtiesRunnablesWithOutput(t *testing.T) {
	s := newTestSession(t, testNotebook)
	seedOutput(t, s, "numbers", "h1")
	sum := findCell(t, s, "sum")
	total := findCell(t, s, "total")

	mustEdit(t, s, sum.ID, "func sum(xs []int) int {\n\treturn len(xs)\n}")

	numbers := findCell(t, s, "numbers")
	assert.Equal(t, StatusDirty, s.StatusOf(numbers.ID), "definitions link into every artifact")
	assert.Equal(t, StatusPristine, s.StatusOf(total.ID), "cells without output are never dirtied")
}

func TestUndoRedoEdit(t *testing.T) {
	s := newTestSession(t, testNotebook)
	numbers := findCell(t, s, "numbers")
	oldSource := numbers.Source
	newSource := "func numbers() []int {\n\treturn []int{9}\n}"

	mustEdit(t, s, numbers.ID, "//venus:cell\n"+newSource)
	assert.Equal(t, newSource, findCell(t, s, "numbers").Source)

	desc, err := s.Undo()
	require.NoError(t, err)
	assert.Equal(t, "edit numbers", desc)
	assert.Equal(t, oldSource, findCell(t, s, "numbers").Source)

	_, err = s.Redo()
	require.NoError(t, err)
	assert.Equal(t, newSource, findCell(t, s, "numbers").Source)
}

func TestUndoWithEmptyStack(t *testing.T) {
	s := newTestSession(t, testNotebook)
	_, err := s.Undo()
	require.Error(t, err)
	_, err = s.Redo()
	require.Error(t, err)
}

func TestMoveCellAndUndo(t *testing.T) {
	s := newTestSession(t, testNotebook)
	md := findCell(t, s, "md_1")

	_, err := s.MoveCell(md.ID, MoveDown)
	require.NoError(t, err)
	assert.Equal(t, []string{"imports", "sum", "md_1", "numbers", "total", "label"}, cellNames(s))

	desc, err := s.Undo()
	require.NoError(t, err)
	assert.Equal(t, "move md_1", desc)
	assert.Equal(t, []string{"imports", "md_1", "sum", "numbers", "total", "label"}, cellNames(s))
}

func TestRenameCellRefusedWithDependents(t *testing.T) {
	s := newTestSession(t, testNotebook)
	total := findCell(t, s, "total")

	_, err := s.RenameCell(total.ID, "grand_total")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depended on by label")
}

func TestRenameCellRewritesSource(t *testing.T) {
	s := newTestSession(t, testNotebook)
	label := findCell(t, s, "label")
	seedOutput(t, s, "label", "h1")

	_, err := s.RenameCell(label.ID, "banner")
	require.NoError(t, err)

	renamed := findCell(t, s, "banner")
	assert.Contains(t, renamed.Source, "func banner(")
	assert.Nil(t, s.OutputOf("label"))
	require.NotNil(t, s.OutputOf("banner"))
	assert.Equal(t, "banner", s.OutputOf("banner").CellName)

	desc, err := s.Undo()
	require.NoError(t, err)
	assert.Equal(t, "rename label to banner", desc)
	assert.Contains(t, findCell(t, s, "label").Source, "func label(")
}

func TestRecordClearsRedoAcrossSession(t *testing.T) {
	s := newTestSession(t, testNotebook)
	numbers := findCell(t, s, "numbers")

	mustEdit(t, s, numbers.ID, "//venus:cell\nfunc numbers() []int {\n\treturn []int{9}\n}")
	_, err := s.Undo()
	require.NoError(t, err)
	assert.True(t, s.CanRedo())

	mustEdit(t, s, numbers.ID, "//venus:cell\nfunc numbers() []int {\n\treturn []int{7}\n}")
	assert.False(t, s.CanRedo(), "a fresh edit discards the redo branch")
}

func TestReloadRebindsOutputs(t *testing.T) {
	s := newTestSession(t, testNotebook)
	numbers := findCell(t, s, "numbers")
	total := findCell(t, s, "total")

	require.NoError(t, s.store.SaveOutput(&state.Output{
		CellName: "numbers", SourceHash: numbers.SourceHash,
		Value: []byte(`[1,2,3]`), Display: "[1 2 3]", Hash: "h1", When: time.Now(),
	}))
	require.NoError(t, s.store.SaveOutput(&state.Output{
		CellName: "total", SourceHash: "stale-hash",
		Value: []byte(`6`), Display: "6", Hash: "h2", When: time.Now(),
	}))

	require.NoError(t, s.Reload())

	// IDs are reassigned on reload.
	numbers = findCell(t, s, "numbers")
	total = findCell(t, s, "total")
	label := findCell(t, s, "label")
	assert.Equal(t, StatusSuccess, s.StatusOf(numbers.ID), "matching source hash restores Success")
	assert.Equal(t, StatusDirty, s.StatusOf(total.ID), "stale source hash restores Dirty")
	assert.Equal(t, StatusPristine, s.StatusOf(label.ID))
	assert.NotNil(t, s.OutputOf("numbers"))
}

func TestReloadClearsUndoHistory(t *testing.T) {
	s := newTestSession(t, testNotebook)
	numbers := findCell(t, s, "numbers")
	mustEdit(t, s, numbers.ID, "//venus:cell\nfunc numbers() []int {\n\treturn []int{9}\n}")
	require.True(t, s.CanUndo())

	require.NoError(t, s.Reload())
	assert.False(t, s.CanUndo())
}

func TestExecuteCellMissingInputs(t *testing.T) {
	s := newTestSession(t, testNotebook)
	total := findCell(t, s, "total")

	_, err := s.ExecuteCell(context.Background(), total.ID)
	var miss *MissingInputsError
	require.ErrorAs(t, err, &miss)
	assert.Equal(t, "total", miss.Cell)
	assert.Equal(t, []string{"numbers"}, miss.Missing)
	assert.Equal(t, "cell total: missing inputs: numbers", miss.Error())
	assert.Equal(t, StatusPristine, s.StatusOf(total.ID), "a refused run changes nothing")
}

func TestExecuteCellRejectsNonRunnable(t *testing.T) {
	s := newTestSession(t, testNotebook)
	md := findCell(t, s, "md_1")

	_, err := s.ExecuteCell(context.Background(), md.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not runnable")
}

func TestSetBackend(t *testing.T) {
	s := newTestSession(t, testNotebook)
	require.NoError(t, s.SetBackend(BackendFull))
	err := s.SetBackend(Backend("turbo"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestRestart(t *testing.T) {
	s := newTestSession(t, testNotebook)
	seedOutput(t, s, "numbers", "h1")

	s.Restart()

	numbers := findCell(t, s, "numbers")
	assert.Equal(t, StatusPristine, s.StatusOf(numbers.ID))
	assert.Nil(t, s.OutputOf("numbers"))
}

func TestClearOutputsDropsStore(t *testing.T) {
	s := newTestSession(t, testNotebook)
	numbers := findCell(t, s, "numbers")
	require.NoError(t, s.store.SaveOutput(&state.Output{
		CellName: "numbers", SourceHash: numbers.SourceHash,
		Value: []byte(`[1]`), Hash: "h1", When: time.Now(),
	}))

	require.NoError(t, s.ClearOutputs())
	require.NoError(t, s.Reload())
	numbers = findCell(t, s, "numbers")
	assert.Equal(t, StatusPristine, s.StatusOf(numbers.ID), "cleared outputs do not survive a reload")
}

func TestSelectHistoryRestoresOutput(t *testing.T) {
	s := newTestSession(t, testNotebook)
	numbers := findCell(t, s, "numbers")
	seedOutput(t, s, "numbers", "h-current")
	seedOutput(t, s, "total", "h-total")

	require.NoError(t, s.store.AppendHistory(&state.HistoryEntry{
		CellName: "numbers", Source: numbers.Source, SourceHash: numbers.SourceHash,
		Value: []byte(`[7]`), Display: "[7]", Hash: "h-old", When: time.Now(),
	}))

	require.NoError(t, s.SelectHistory("numbers", 0))

	out := s.OutputOf("numbers")
	require.NotNil(t, out)
	assert.Equal(t, "h-old", out.Hash)
	assert.Equal(t, StatusSuccess, s.StatusOf(numbers.ID), "matching source restores Success")

	total := findCell(t, s, "total")
	assert.Equal(t, StatusDirty, s.StatusOf(total.ID), "direct dependents see the changed hash")
}

func TestSelectHistoryStaleSourceIsDirty(t *testing.T) {
	s := newTestSession(t, testNotebook)
	numbers := findCell(t, s, "numbers")

	require.NoError(t, s.store.AppendHistory(&state.HistoryEntry{
		CellName: "numbers", Source: "func numbers() []int { return nil }", SourceHash: "old-hash",
		Value: []byte(`null`), Hash: "h-old", When: time.Now(),
	}))

	require.NoError(t, s.SelectHistory("numbers", 0))
	assert.Equal(t, StatusDirty, s.StatusOf(numbers.ID))
}

func TestSelectHistoryRejectsFailedRuns(t *testing.T) {
	s := newTestSession(t, testNotebook)
	require.NoError(t, s.store.AppendHistory(&state.HistoryEntry{
		CellName: "numbers", Source: "x", SourceHash: "s",
		Err: "compile numbers: undefined: y", When: time.Now(),
	}))

	err := s.SelectHistory("numbers", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed run")

	err = s.SelectHistory("numbers", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestWidgetValuesSurviveClearOutputs(t *testing.T) {
	s := newTestSession(t, testNotebook)
	assert.NotEmpty(t, s.ID())

	require.NoError(t, s.SetWidgetValue("slider", []byte(`42`)))
	require.NoError(t, s.ClearOutputs())

	v, err := s.WidgetValue("slider")
	require.NoError(t, err)
	assert.Equal(t, []byte(`42`), v)

	v, err = s.WidgetValue("unset")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestInterruptWithoutRunIsNoop(t *testing.T) {
	s := newTestSession(t, testNotebook)
	s.Interrupt()
}

func TestSubscribeReceivesEvents(t *testing.T) {
	s := newTestSession(t, testNotebook)
	ch, cancel := s.Subscribe()
	defer cancel()

	_, err := s.InsertCell("//venus:cell\nfunc extra() int {\n\treturn 1\n}", 6)
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, EventGraphUpdated, ev.Type)
		assert.Equal(t, "extra", ev.Cell)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestOpenBuildsDependencyEdges(t *testing.T) {
	s := newTestSession(t, testNotebook)

	numbers := findCell(t, s, "numbers")
	total := findCell(t, s, "total")
	label := findCell(t, s, "label")

	edges := s.Edges()
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.NotEqual(t, e.From, e.To, "no cell depends on itself")
	}
	assert.Contains(t, edges, Edge{From: numbers.ID, To: total.ID, Param: "numbers"})
	assert.Contains(t, edges, Edge{From: total.ID, To: label.ID, Param: "total"})
}

func TestDuplicateCell(t *testing.T) {
	s := newTestSession(t, testNotebook)
	numbers := findCell(t, s, "numbers")

	change, err := s.DuplicateCell(numbers.ID)
	require.NoError(t, err)
	dup := change.Cell
	assert.Equal(t, "numbers_2", dup.Name)
	assert.Equal(t, KindRunnable, dup.Kind)
	assert.Contains(t, dup.Source, "func numbers_2(")
	assert.Equal(t, StatusPristine, s.StatusOf(dup.ID))
	assert.Equal(t, []string{"imports", "md_1", "sum", "numbers", "numbers_2", "total", "label"}, cellNames(s))

	desc, err := s.Undo()
	require.NoError(t, err)
	assert.Equal(t, "duplicate numbers_2", desc)
	assert.NotContains(t, cellNames(s), "numbers_2")

	_, err = s.Redo()
	require.NoError(t, err)
	restored := findCell(t, s, "numbers_2")
	assert.Equal(t, KindRunnable, restored.Kind)
	assert.Equal(t, 4, restored.SourceOrder)
}

func TestDuplicateCellPicksFreeName(t *testing.T) {
	s := newTestSession(t, testNotebook)
	numbers := findCell(t, s, "numbers")

	_, err := s.DuplicateCell(numbers.ID)
	require.NoError(t, err)
	change, err := s.DuplicateCell(numbers.ID)
	require.NoError(t, err)
	assert.Equal(t, "numbers_3", change.Cell.Name)
}

func TestDuplicateNarrativeCell(t *testing.T) {
	s := newTestSession(t, testNotebook)
	md := findCell(t, s, "md_1")

	change, err := s.DuplicateCell(md.ID)
	require.NoError(t, err)
	assert.Equal(t, "md_1_2", change.Cell.Name)
	assert.Equal(t, KindNarrative, change.Cell.Kind)
	assert.Equal(t, md.Source, change.Cell.Source)
}

func TestDuplicateDefinitionDirtiesRunnablesWithOutput(t *testing.T) {
	s := newTestSession(t, testNotebook)
	seedOutput(t, s, "numbers", "h1")
	sum := findCell(t, s, "sum")

	change, err := s.DuplicateCell(sum.ID)
	require.NoError(t, err)
	assert.Equal(t, "sum_2", change.Cell.Name)
	assert.Equal(t, []string{"numbers"}, change.Dirtied)
	assert.Equal(t, StatusDirty, s.StatusOf(findCell(t, s, "numbers").ID))
}

func TestDuplicateImportsRefused(t *testing.T) {
	s := newTestSession(t, testNotebook)
	imports := findCell(t, s, "imports")

	_, err := s.DuplicateCell(imports.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot duplicate")
	assert.NotContains(t, cellNames(s), "imports_2")
}

func TestInsertDefinitionDirtiesRunnablesWithOutput(t *testing.T) {
	s := newTestSession(t, testNotebook)
	seedOutput(t, s, "numbers", "h1")

	change, err := s.InsertCell("const scale = 10", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"numbers"}, change.Dirtied)
	assert.Equal(t, StatusDirty, s.StatusOf(findCell(t, s, "numbers").ID))
}

func TestDeleteDefinitionDirtiesRunnablesWithOutput(t *testing.T) {
	s := newTestSession(t, testNotebook)
	seedOutput(t, s, "numbers", "h1")
	sum := findCell(t, s, "sum")

	change, err := s.DeleteCell(sum.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"numbers"}, change.Dirtied)
	assert.Equal(t, StatusDirty, s.StatusOf(findCell(t, s, "numbers").ID))
}

func TestMoveDefinitionDirtiesRunnablesWithOutput(t *testing.T) {
	s := newTestSession(t, testNotebook)
	seedOutput(t, s, "numbers", "h1")
	sum := findCell(t, s, "sum")

	change, err := s.MoveCell(sum.ID, MoveUp)
	require.NoError(t, err)
	assert.Equal(t, []string{"numbers"}, change.Dirtied)
	assert.Equal(t, StatusDirty, s.StatusOf(findCell(t, s, "numbers").ID))
}

func TestMoveRunnableDirtiesNothing(t *testing.T) {
	s := newTestSession(t, testNotebook)
	seedOutput(t, s, "numbers", "h1")
	label := findCell(t, s, "label")

	change, err := s.MoveCell(label.ID, MoveUp)
	require.NoError(t, err)
	assert.Empty(t, change.Dirtied, "reordering runnables never changes results")
	assert.Equal(t, StatusSuccess, s.StatusOf(findCell(t, s, "numbers").ID))
}

func TestUndoInsertKeepsCellKindOnRedo(t *testing.T) {
	s := newTestSession(t, testNotebook)

	_, err := s.InsertCell("//venus:cell\nfunc extra() int {\n\treturn 1\n}", 6)
	require.NoError(t, err)
	_, err = s.Undo()
	require.NoError(t, err)
	_, err = s.Redo()
	require.NoError(t, err)

	restored := findCell(t, s, "extra")
	assert.Equal(t, KindRunnable, restored.Kind, "the cell marker survives the replay round trip")
	assert.Equal(t, StatusPristine, s.StatusOf(restored.ID))
}

func TestDeleteNarrativeAndUndo(t *testing.T) {
	s := newTestSession(t, testNotebook)
	md := findCell(t, s, "md_1")
	source := md.Source

	_, err := s.DeleteCell(md.ID)
	require.NoError(t, err)
	_, err = s.Undo()
	require.NoError(t, err)

	restored := findCell(t, s, "md_1")
	assert.Equal(t, KindNarrative, restored.Kind)
	assert.Equal(t, source, restored.Source)
	assert.Equal(t, 1, restored.SourceOrder)
}

func TestEditDefinitionReportsDirtied(t *testing.T) {
	s := newTestSession(t, testNotebook)
	seedOutput(t, s, "numbers", "h1")
	sum := findCell(t, s, "sum")

	change := mustEdit(t, s, sum.ID, "func sum(xs []int) int {\n\treturn len(xs)\n}")
	assert.Equal(t, []string{"numbers"}, change.Dirtied)
}

func TestStructuralEditBroadcastsUndoState(t *testing.T) {
	s := newTestSession(t, testNotebook)
	ch, cancel := s.Subscribe()
	defer cancel()

	_, err := s.InsertCell("//venus:cell\nfunc extra() int {\n\treturn 1\n}", 6)
	require.NoError(t, err)

	ev := awaitEvent(t, ch, EventUndoState)
	assert.True(t, ev.CanUndo)
	assert.False(t, ev.CanRedo)

	_, err = s.Undo()
	require.NoError(t, err)
	ev = awaitEvent(t, ch, EventUndoState)
	assert.False(t, ev.CanUndo)
	assert.True(t, ev.CanRedo)
}

func TestCellErrorEventCarriesDiagnostics(t *testing.T) {
	s := newTestSession(t, testNotebook)
	numbers := findCell(t, s, "numbers")
	s.mu.Lock()
	s.status[numbers.ID] = StatusCompiling
	s.mu.Unlock()

	ch, cancel := s.Subscribe()
	defer cancel()

	buildErr := &CompileError{
		CellName:    "numbers",
		Diagnostics: []Diagnostic{{Line: 2, Column: 9, Message: "undefined: x", InCell: true}},
	}
	err := s.finishFailed(numbers.ID, numbers, StatusPristine, buildErr)
	require.Error(t, err)

	ev := awaitEvent(t, ch, EventCellError)
	assert.Equal(t, "numbers", ev.Cell)
	require.Len(t, ev.Diagnostics, 1)
	assert.Equal(t, "undefined: x", ev.Diagnostics[0].Message)
	assert.True(t, ev.Diagnostics[0].InCell)
}

// awaitEvent drains the channel until an event of the wanted type shows
// up, failing the test after a second.
func awaitEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event received", want)
			return Event{}
		}
	}
}

func TestErrInterruptedIdentity(t *testing.T) {
	assert.True(t, errors.Is(ErrInterrupted, ErrInterrupted))
	assert.EqualError(t, ErrInterrupted, "execution interrupted")
}
