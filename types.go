package venus

import (
	"github.com/ml-rust/venus/internal/cell"
	"github.com/ml-rust/venus/internal/compile"
	"github.com/ml-rust/venus/internal/graph"
	"github.com/ml-rust/venus/internal/state"
)

// Public type aliases for internal types used in the Session API.
// These are Go type aliases (=), identical to the internal types at
// compile time. External consumers use these names; no conversion is
// needed.

type Cell = cell.Cell
type CellID = cell.ID
type Kind = cell.Kind
type Status = cell.Status
type MoveDirection = cell.MoveDirection
type Dependency = cell.Dependency
type Backend = compile.Backend
type CompileError = compile.CompileError
type Diagnostic = compile.Diagnostic
type Edge = graph.Edge
type CycleError = graph.CycleError
type UnresolvedError = graph.UnresolvedError
type DuplicateNameError = graph.DuplicateNameError
type Output = state.Output
type HistoryEntry = state.HistoryEntry

const (
	KindRunnable   = cell.KindRunnable
	KindDefinition = cell.KindDefinition
	KindNarrative  = cell.KindNarrative

	StatusPristine  = cell.StatusPristine
	StatusCompiling = cell.StatusCompiling
	StatusRunning   = cell.StatusRunning
	StatusSuccess   = cell.StatusSuccess
	StatusDirty     = cell.StatusDirty
	StatusError     = cell.StatusError

	MoveUp   = cell.MoveUp
	MoveDown = cell.MoveDown

	BackendFast = compile.BackendFast
	BackendFull = compile.BackendFull
)
