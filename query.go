package venus

import (
	"github.com/ml-rust/venus/internal/cell"
)

// QueryBuilder provides a client-facing read API over the session's
// registry and graph. All methods take a consistent snapshot under the
// session lock; results are copies and safe to hold.
type QueryBuilder struct {
	session *Session
}

// Query returns a new QueryBuilder over the session.
func (s *Session) Query() *QueryBuilder {
	return &QueryBuilder{session: s}
}

// ByKind returns cells of the given kind in source order.
func (q *QueryBuilder) ByKind(kind Kind) []*Cell {
	q.session.mu.Lock()
	defer q.session.mu.Unlock()
	var out []*Cell
	for _, c := range q.session.reg.Cells() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// ByStatus returns runnable cells currently in the given status.
func (q *QueryBuilder) ByStatus(st Status) []*Cell {
	q.session.mu.Lock()
	defer q.session.mu.Unlock()
	var out []*Cell
	for _, c := range q.session.reg.Runnable() {
		if q.session.status[c.ID] == st {
			out = append(out, c)
		}
	}
	return out
}

// TopoOrder returns runnable cells in execution order.
func (q *QueryBuilder) TopoOrder() []*Cell {
	q.session.mu.Lock()
	defer q.session.mu.Unlock()
	var out []*Cell
	for _, id := range q.session.graph.Order() {
		if c, ok := q.session.reg.Get(id); ok {
			out = append(out, c)
		}
	}
	return out
}

// Roots returns runnable cells with no dependencies.
func (q *QueryBuilder) Roots() []*Cell {
	q.session.mu.Lock()
	defer q.session.mu.Unlock()
	var out []*Cell
	for _, c := range q.session.reg.Runnable() {
		if len(q.session.graph.Dependencies(c.ID)) == 0 {
			out = append(out, c)
		}
	}
	return out
}

// Leaves returns runnable cells nothing depends on.
func (q *QueryBuilder) Leaves() []*Cell {
	q.session.mu.Lock()
	defer q.session.mu.Unlock()
	var out []*Cell
	for _, c := range q.session.reg.Runnable() {
		if len(q.session.graph.Dependents(c.ID)) == 0 {
			out = append(out, c)
		}
	}
	return out
}

// DependentsOf returns the cells consuming name's output. With
// transitive set, the whole downstream cone is returned in execution
// order; otherwise only direct consumers.
func (q *QueryBuilder) DependentsOf(name string, transitive bool) []*Cell {
	q.session.mu.Lock()
	defer q.session.mu.Unlock()

	id, ok := q.session.graph.Producer(name)
	if !ok {
		return nil
	}
	if !transitive {
		var out []*Cell
		for _, depID := range q.session.graph.Dependents(id) {
			if c, ok := q.session.reg.Get(depID); ok {
				out = append(out, c)
			}
		}
		return out
	}

	reachable := map[cell.ID]bool{}
	var visit func(cell.ID)
	visit = func(from cell.ID) {
		for _, depID := range q.session.graph.Dependents(from) {
			if !reachable[depID] {
				reachable[depID] = true
				visit(depID)
			}
		}
	}
	visit(id)

	var out []*Cell
	for _, oid := range q.session.graph.Order() {
		if reachable[oid] {
			if c, ok := q.session.reg.Get(oid); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

// StatusCounts tallies runnable cells per status.
func (q *QueryBuilder) StatusCounts() map[Status]int {
	q.session.mu.Lock()
	defer q.session.mu.Unlock()
	counts := make(map[Status]int)
	for _, c := range q.session.reg.Runnable() {
		counts[q.session.status[c.ID]]++
	}
	return counts
}
