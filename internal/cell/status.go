package cell

import "fmt"

// Status is the lifecycle state of a runnable cell.
type Status string

const (
	// StatusPristine means the cell has never produced output. Pristine
	// cells never transition to Dirty; upstream changes leave them alone.
	StatusPristine Status = "pristine"
	// StatusCompiling means a user-requested run is compiling the cell.
	StatusCompiling Status = "compiling"
	// StatusRunning means the compiled cell is executing in a worker.
	StatusRunning Status = "running"
	// StatusSuccess means the cell has output and it is not known stale.
	StatusSuccess Status = "success"
	// StatusDirty means the cell has output, but a dependency's output
	// changed since the cell last ran.
	StatusDirty Status = "dirty"
	// StatusError means the last compile or run failed.
	StatusError Status = "error"
)

// HasOutput reports whether a cell in this status holds a prior output.
// Only such cells participate in dirty propagation and may satisfy a
// dependent's execution precondition.
func (s Status) HasOutput() bool {
	return s == StatusSuccess || s == StatusDirty
}

// CanStartRun reports whether a user-requested run may begin from s.
// Runs never start automatically; this only gates explicit requests.
func (s Status) CanStartRun() bool {
	switch s {
	case StatusPristine, StatusSuccess, StatusDirty, StatusError:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the state machine. No transition ever fires
// execution by itself; Compiling is entered only on user request.
var validTransitions = map[Status][]Status{
	StatusPristine:  {StatusCompiling},
	StatusCompiling: {StatusRunning, StatusError, StatusPristine, StatusSuccess, StatusDirty},
	StatusRunning:   {StatusSuccess, StatusError, StatusPristine, StatusDirty},
	StatusSuccess:   {StatusCompiling, StatusDirty, StatusPristine},
	StatusDirty:     {StatusCompiling, StatusPristine, StatusSuccess},
	StatusError:     {StatusCompiling, StatusPristine, StatusDirty},
}

// Transition validates a status change. Cancellation restores the pre-run
// status, which is why Compiling and Running may fall back to any pre-run
// state. Clear-outputs returns every cell to Pristine.
func Transition(from, to Status) error {
	for _, allowed := range validTransitions[from] {
		if to == allowed {
			return nil
		}
	}
	return fmt.Errorf("invalid cell status transition %s -> %s", from, to)
}
