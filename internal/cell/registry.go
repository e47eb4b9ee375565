package cell

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a cell lookup by id or name fails.
var ErrNotFound = errors.New("cell not found")

// MoveDirection selects where a structural move sends a cell.
type MoveDirection string

const (
	MoveUp   MoveDirection = "up"
	MoveDown MoveDirection = "down"
)

// Registry holds the canonical ordered set of cells for one notebook.
// Names are unique across all kinds at any point in time. The registry is
// not goroutine-safe; the session serializes access.
type Registry struct {
	cells  []*Cell
	byID   map[ID]*Cell
	byName map[string]*Cell
	nextID ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[ID]*Cell),
		byName: make(map[string]*Cell),
	}
}

// Insert adds a cell at the given source position (len(cells) appends).
// The registry assigns the ID, source hash, and source order.
func (r *Registry) Insert(c *Cell, at int) (*Cell, error) {
	if c.Name == "" {
		return nil, errors.New("cell name must not be empty")
	}
	if _, exists := r.byName[c.Name]; exists {
		return nil, fmt.Errorf("duplicate cell name %q", c.Name)
	}
	if at < 0 || at > len(r.cells) {
		at = len(r.cells)
	}

	c.ID = r.nextID
	r.nextID++
	c.SourceHash = HashSource(c.Source)

	r.cells = append(r.cells, nil)
	copy(r.cells[at+1:], r.cells[at:])
	r.cells[at] = c

	r.byID[c.ID] = c
	r.byName[c.Name] = c
	r.renumber()
	return c, nil
}

// Append inserts a cell at the end of the notebook.
func (r *Registry) Append(c *Cell) (*Cell, error) {
	return r.Insert(c, len(r.cells))
}

// Delete removes a cell by id and returns it together with its former
// source position, so callers can record enough to undo the deletion.
func (r *Registry) Delete(id ID) (*Cell, int, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	at := c.SourceOrder
	r.cells = append(r.cells[:at], r.cells[at+1:]...)
	delete(r.byID, id)
	delete(r.byName, c.Name)
	r.renumber()
	return c, at, nil
}

// Move shifts a cell one position up or down in source order.
func (r *Registry) Move(id ID, dir MoveDirection) error {
	c, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	at := c.SourceOrder
	to := at + 1
	if dir == MoveUp {
		to = at - 1
	}
	if to < 0 || to >= len(r.cells) {
		return fmt.Errorf("cannot move cell %q %s", c.Name, dir)
	}
	r.cells[at], r.cells[to] = r.cells[to], r.cells[at]
	r.renumber()
	return nil
}

// MoveTo places a cell at an absolute source position. Used to invert a
// recorded move.
func (r *Registry) MoveTo(id ID, to int) error {
	c, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if to < 0 || to >= len(r.cells) {
		return fmt.Errorf("position %d out of range", to)
	}
	at := c.SourceOrder
	r.cells = append(r.cells[:at], r.cells[at+1:]...)
	r.cells = append(r.cells, nil)
	copy(r.cells[to+1:], r.cells[to:])
	r.cells[to] = c
	r.renumber()
	return nil
}

// Rename changes a cell's name, preserving uniqueness.
func (r *Registry) Rename(id ID, newName string) error {
	c, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if newName == "" {
		return errors.New("cell name must not be empty")
	}
	if other, exists := r.byName[newName]; exists && other != c {
		return fmt.Errorf("duplicate cell name %q", newName)
	}
	delete(r.byName, c.Name)
	c.Name = newName
	r.byName[newName] = c
	return nil
}

// SetSource replaces a cell's source text and recomputes its hash.
func (r *Registry) SetSource(id ID, source string) error {
	c, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.SetSource(source)
	return nil
}

// Get returns a cell by id.
func (r *Registry) Get(id ID) (*Cell, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// GetByName returns a cell by name. Name lookups are the stable way to
// re-bind identity after a structural reload reassigns IDs.
func (r *Registry) GetByName(name string) (*Cell, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Cells returns all cells in source order. The returned slice is shared;
// callers must not mutate it.
func (r *Registry) Cells() []*Cell {
	return r.cells
}

// Runnable returns the runnable cells in source order.
func (r *Registry) Runnable() []*Cell {
	var out []*Cell
	for _, c := range r.cells {
		if c.Kind == KindRunnable {
			out = append(out, c)
		}
	}
	return out
}

// Definitions returns the definition cells in source order.
func (r *Registry) Definitions() []*Cell {
	var out []*Cell
	for _, c := range r.cells {
		if c.Kind == KindDefinition {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of cells of all kinds.
func (r *Registry) Len() int {
	return len(r.cells)
}

// Dependents returns the names of runnable cells that declare a dependency
// on the named cell.
func (r *Registry) Dependents(name string) []string {
	var out []string
	for _, c := range r.cells {
		if c.Kind != KindRunnable {
			continue
		}
		for _, d := range c.Dependencies {
			if d.Name == name {
				out = append(out, c.Name)
				break
			}
		}
	}
	return out
}

func (r *Registry) renumber() {
	for i, c := range r.cells {
		c.SourceOrder = i
	}
}
