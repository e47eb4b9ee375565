// Package history implements undo/redo for structural notebook edits.
// Operations are plain data describing what happened; applying their
// inverse is the session's job. Recording a new operation clears the redo
// stack, and both stacks are bounded.
package history

import (
	"fmt"

	"github.com/ml-rust/venus/internal/cell"
)

// DefaultLimit bounds the undo stack depth.
const DefaultLimit = 50

// Op is one recorded structural edit.
type Op interface {
	// Description labels the op for "undo X" UI affordances.
	Description() string
}

// InsertCell records a cell added at position At. Source is retained so
// the insertion can be replayed after an undo.
type InsertCell struct {
	Name   string
	Kind   cell.Kind
	Source string
	At     int
}

func (o InsertCell) Description() string { return fmt.Sprintf("insert %s", o.Name) }

// DeleteCell records a removed cell with everything needed to restore it.
type DeleteCell struct {
	Name   string
	Kind   cell.Kind
	Source string
	At     int
}

func (o DeleteCell) Description() string { return fmt.Sprintf("delete %s", o.Name) }

// DuplicateCell records a copy of an existing cell inserted under a
// fresh name. Name and Source describe the copy, not the original.
type DuplicateCell struct {
	Name   string
	Kind   cell.Kind
	Source string
	At     int
}

func (o DuplicateCell) Description() string { return fmt.Sprintf("duplicate %s", o.Name) }

// EditSource records a source change on one cell.
type EditSource struct {
	Name      string
	OldSource string
	NewSource string
}

func (o EditSource) Description() string { return fmt.Sprintf("edit %s", o.Name) }

// MoveCell records a reorder.
type MoveCell struct {
	Name string
	From int
	To   int
}

func (o MoveCell) Description() string { return fmt.Sprintf("move %s", o.Name) }

// RenameCell records a name change.
type RenameCell struct {
	OldName string
	NewName string
}

func (o RenameCell) Description() string {
	return fmt.Sprintf("rename %s to %s", o.OldName, o.NewName)
}

// Manager holds the undo and redo stacks. Not safe for concurrent use;
// the session serializes access.
type Manager struct {
	undo  []Op
	redo  []Op
	limit int
}

// NewManager creates a manager with the given stack limit, or
// DefaultLimit when n <= 0.
func NewManager(n int) *Manager {
	if n <= 0 {
		n = DefaultLimit
	}
	return &Manager{limit: n}
}

// Record pushes a new operation. Any redoable future is discarded: once
// the user edits after an undo, the old timeline is gone.
func (m *Manager) Record(op Op) {
	m.undo = append(m.undo, op)
	if len(m.undo) > m.limit {
		m.undo = m.undo[len(m.undo)-m.limit:]
	}
	m.redo = nil
}

// Undo pops the most recent operation onto the redo stack and returns it.
func (m *Manager) Undo() (Op, bool) {
	if len(m.undo) == 0 {
		return nil, false
	}
	op := m.undo[len(m.undo)-1]
	m.undo = m.undo[:len(m.undo)-1]
	m.redo = append(m.redo, op)
	return op, true
}

// Redo pops the most recently undone operation back onto the undo stack.
func (m *Manager) Redo() (Op, bool) {
	if len(m.redo) == 0 {
		return nil, false
	}
	op := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	m.undo = append(m.undo, op)
	return op, true
}

// CanUndo reports whether an undoable operation exists.
func (m *Manager) CanUndo() bool { return len(m.undo) > 0 }

// CanRedo reports whether a redoable operation exists.
func (m *Manager) CanRedo() bool { return len(m.redo) > 0 }

// PeekUndo returns the next operation Undo would return.
func (m *Manager) PeekUndo() (Op, bool) {
	if len(m.undo) == 0 {
		return nil, false
	}
	return m.undo[len(m.undo)-1], true
}

// PeekRedo returns the next operation Redo would return.
func (m *Manager) PeekRedo() (Op, bool) {
	if len(m.redo) == 0 {
		return nil, false
	}
	return m.redo[len(m.redo)-1], true
}

// Clear drops both stacks. Used on full notebook reload.
func (m *Manager) Clear() {
	m.undo, m.redo = nil, nil
}
