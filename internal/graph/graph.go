// Package graph builds the reactive dependency graph over runnable cells:
// name resolution, cycle detection, topological ordering, and the level
// partition used for parallel execution.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ml-rust/venus/internal/cell"
)

// Edge is one dependency relation: To consumes From's output through the
// named parameter.
type Edge struct {
	From  cell.ID `json:"from"`
	To    cell.ID `json:"to"`
	Param string  `json:"param"`
}

// Graph is an immutable snapshot of the dependency structure for one cell
// set. Build returns a new Graph after every structural change.
type Graph struct {
	cells    map[cell.ID]*cell.Cell
	producer map[string]cell.ID // output name -> producing cell
	forward  map[cell.ID][]cell.ID
	reverse  map[cell.ID][]cell.ID
	edges    []Edge
	order    []cell.ID
	levels   [][]cell.ID
}

// UnresolvedError reports a declared dependency name with no producing cell.
type UnresolvedError struct {
	Cell    string
	Missing string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("cell %q depends on %q, but no cell produces it", e.Cell, e.Missing)
}

// DuplicateNameError reports two cells sharing one name. Duplicate names
// are a hard error; resolution never guesses precedence.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate cell name %q", e.Name)
}

// CycleError reports a closed dependency path, named in edge order.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s -> %s", strings.Join(e.Cycle, " -> "), e.Cycle[0])
}

// Build resolves declared dependencies across the runnable cells and
// produces the DAG, its topological order, and its level partition.
// Identical cell sets always produce identical orderings: every tie is
// broken by source order, never by map iteration order.
func Build(cells []*cell.Cell) (*Graph, error) {
	g := &Graph{
		cells:    make(map[cell.ID]*cell.Cell, len(cells)),
		producer: make(map[string]cell.ID, len(cells)),
		forward:  make(map[cell.ID][]cell.ID),
		reverse:  make(map[cell.ID][]cell.ID),
	}

	ordered := make([]*cell.Cell, len(cells))
	copy(ordered, cells)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SourceOrder < ordered[j].SourceOrder
	})

	for _, c := range ordered {
		if c.Kind != cell.KindRunnable {
			continue
		}
		if _, dup := g.producer[c.Name]; dup {
			return nil, &DuplicateNameError{Name: c.Name}
		}
		g.cells[c.ID] = c
		g.producer[c.Name] = c.ID
	}

	for _, c := range ordered {
		if c.Kind != cell.KindRunnable {
			continue
		}
		for _, dep := range c.Dependencies {
			from, ok := g.producer[dep.Name]
			if !ok {
				return nil, &UnresolvedError{Cell: c.Name, Missing: dep.Name}
			}
			g.edges = append(g.edges, Edge{From: from, To: c.ID, Param: dep.Name})
			g.forward[from] = append(g.forward[from], c.ID)
			g.reverse[c.ID] = append(g.reverse[c.ID], from)
		}
	}

	if cyc := g.findCycle(ordered); cyc != nil {
		return nil, cyc
	}
	g.computeOrder(ordered)
	return g, nil
}

// findCycle runs a DFS over runnable cells in source order and returns the
// first back-edge cycle as a minimal closed path, or nil.
func (g *Graph) findCycle(ordered []*cell.Cell) *CycleError {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[cell.ID]int, len(g.cells))
	var stack []cell.ID

	var visit func(id cell.ID) *CycleError
	visit = func(id cell.ID) *CycleError {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range g.forward[id] {
			switch color[next] {
			case white:
				if cyc := visit(next); cyc != nil {
					return cyc
				}
			case gray:
				// Close the path at the first occurrence of next.
				var names []string
				for i := len(stack) - 1; i >= 0; i-- {
					names = append([]string{g.cells[stack[i]].Name}, names...)
					if stack[i] == next {
						break
					}
				}
				return &CycleError{Cycle: names}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, c := range ordered {
		if c.Kind != cell.KindRunnable {
			continue
		}
		if color[c.ID] == white {
			if cyc := visit(c.ID); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// computeOrder runs Kahn's algorithm level by level. Cells within a level
// share no dependency relation; levels are emitted in dependency order and
// cells within a level in source order.
func (g *Graph) computeOrder(ordered []*cell.Cell) {
	indegree := make(map[cell.ID]int, len(g.cells))
	for id := range g.cells {
		indegree[id] = len(g.reverse[id])
	}

	remaining := make([]*cell.Cell, 0, len(g.cells))
	for _, c := range ordered {
		if c.Kind == cell.KindRunnable {
			remaining = append(remaining, c)
		}
	}

	for len(remaining) > 0 {
		var level []cell.ID
		var next []*cell.Cell
		for _, c := range remaining {
			if indegree[c.ID] == 0 {
				level = append(level, c.ID)
			} else {
				next = append(next, c)
			}
		}
		if len(level) == 0 {
			break // unreachable once cycles are rejected
		}
		for _, id := range level {
			for _, consumer := range g.forward[id] {
				indegree[consumer]--
			}
			g.order = append(g.order, id)
		}
		g.levels = append(g.levels, level)
		remaining = next
	}
}

// Order returns all runnable cells in topological order.
func (g *Graph) Order() []cell.ID {
	return g.order
}

// Levels returns the parallel execution partition: cells in the same level
// may run concurrently, levels run in sequence.
func (g *Graph) Levels() [][]cell.ID {
	return g.levels
}

// Edges returns all dependency edges.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// Dependencies returns the direct producers of id, in declaration order.
func (g *Graph) Dependencies(id cell.ID) []cell.ID {
	c, ok := g.cells[id]
	if !ok {
		return nil
	}
	out := make([]cell.ID, 0, len(c.Dependencies))
	for _, dep := range c.Dependencies {
		if from, ok := g.producer[dep.Name]; ok {
			out = append(out, from)
		}
	}
	return out
}

// Dependents returns the direct consumers of id's output.
func (g *Graph) Dependents(id cell.ID) []cell.ID {
	return g.forward[id]
}

// Producer returns the cell producing the named output.
func (g *Graph) Producer(name string) (cell.ID, bool) {
	id, ok := g.producer[name]
	return id, ok
}

// Contains reports whether id is a runnable node of this graph.
func (g *Graph) Contains(id cell.ID) bool {
	_, ok := g.cells[id]
	return ok
}
