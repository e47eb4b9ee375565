package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ml-rust/venus/internal/cell"
)

func TestUndoRedoRoundTrip(t *testing.T) {
	m := NewManager(0)
	assert.False(t, m.CanUndo())
	assert.False(t, m.CanRedo())

	m.Record(InsertCell{Name: "total", Kind: cell.KindRunnable, At: 2})
	require.True(t, m.CanUndo())

	op, ok := m.Undo()
	require.True(t, ok)
	assert.Equal(t, "insert total", op.Description())
	assert.False(t, m.CanUndo())
	require.True(t, m.CanRedo())

	op, ok = m.Redo()
	require.True(t, ok)
	assert.Equal(t, "insert total", op.Description())
	assert.True(t, m.CanUndo())
	assert.False(t, m.CanRedo())
}

func TestRecordClearsRedo(t *testing.T) {
	m := NewManager(0)
	m.Record(EditSource{Name: "a", OldSource: "1", NewSource: "2"})
	m.Record(EditSource{Name: "a", OldSource: "2", NewSource: "3"})

	_, ok := m.Undo()
	require.True(t, ok)
	require.True(t, m.CanRedo())

	// A fresh edit after an undo discards the redoable future.
	m.Record(EditSource{Name: "a", OldSource: "2", NewSource: "4"})
	assert.False(t, m.CanRedo())
	assert.True(t, m.CanUndo())
}

func TestUndoStackIsBounded(t *testing.T) {
	m := NewManager(3)
	for i := 0; i < 10; i++ {
		m.Record(RenameCell{OldName: fmt.Sprintf("c%d", i), NewName: fmt.Sprintf("c%d", i+1)})
	}

	var undone []Op
	for {
		op, ok := m.Undo()
		if !ok {
			break
		}
		undone = append(undone, op)
	}
	require.Len(t, undone, 3)
	// Most recent first; the oldest seven fell off.
	assert.Equal(t, "rename c9 to c10", undone[0].Description())
	assert.Equal(t, "rename c7 to c8", undone[2].Description())
}

func TestPeekDoesNotPop(t *testing.T) {
	m := NewManager(0)
	m.Record(DeleteCell{Name: "total", Kind: cell.KindRunnable, Source: "func total() int { return 0 }", At: 1})

	op, ok := m.PeekUndo()
	require.True(t, ok)
	assert.Equal(t, "delete total", op.Description())
	assert.True(t, m.CanUndo())

	m.Undo()
	op, ok = m.PeekRedo()
	require.True(t, ok)
	assert.Equal(t, "delete total", op.Description())
	assert.True(t, m.CanRedo())
}

func TestClear(t *testing.T) {
	m := NewManager(0)
	m.Record(MoveCell{Name: "a", From: 0, To: 1})
	m.Undo()
	m.Clear()
	assert.False(t, m.CanUndo())
	assert.False(t, m.CanRedo())
}

func TestDescriptions(t *testing.T) {
	assert.Equal(t, "insert a", InsertCell{Name: "a"}.Description())
	assert.Equal(t, "delete a", DeleteCell{Name: "a"}.Description())
	assert.Equal(t, "duplicate a_2", DuplicateCell{Name: "a_2"}.Description())
	assert.Equal(t, "edit a", EditSource{Name: "a"}.Description())
	assert.Equal(t, "move a", MoveCell{Name: "a"}.Description())
	assert.Equal(t, "rename a to b", RenameCell{OldName: "a", NewName: "b"}.Description())
}
