// Package cell defines the notebook cell model: identities, kinds, the
// execution status state machine, and the registry that owns the canonical
// cell set for one notebook.
package cell

import (
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// ID identifies a cell within one in-memory graph generation. IDs are
// reassigned on full reload; cross-reload identity is carried by name.
type ID int

func (id ID) String() string {
	return fmt.Sprintf("cell_%d", int(id))
}

// Kind classifies a cell. The state machine and dirtying rules switch on it.
type Kind string

const (
	// KindRunnable is an executable cell with declared dependencies.
	KindRunnable Kind = "runnable"
	// KindDefinition holds shared types, constants, or helper functions.
	// Definition cells never execute, but editing one conservatively
	// dirties every runnable cell that has output.
	KindDefinition Kind = "definition"
	// KindNarrative is markdown documentation. Never executes, never
	// participates in the dependency graph.
	KindNarrative Kind = "narrative"
)

// Dependency is one declared input of a runnable cell. Name binds to the
// producing cell whose name equals it; Type is the declared Go type as
// written in the source.
type Dependency struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Cell is one unit of the notebook. Runnable cells carry dependencies and a
// return type; definition and narrative cells carry only source content.
type Cell struct {
	ID           ID           `json:"id"`
	Name         string       `json:"name"`
	Kind         Kind         `json:"kind"`
	Source       string       `json:"source"`
	SourceHash   string       `json:"source_hash"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
	ReturnType   string       `json:"return_type,omitempty"`
	ReturnsError bool         `json:"returns_error,omitempty"`
	Doc          string       `json:"doc,omitempty"`

	// SourceOrder is the cell's position in the notebook document,
	// distinct from execution order. Used for deterministic tie-breaks.
	SourceOrder int `json:"source_order"`
}

// HashSource computes the content hash used for artifact naming and
// change detection.
func HashSource(source string) string {
	sum := blake3.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// SetSource updates the source text and recomputes the content hash.
func (c *Cell) SetSource(source string) {
	c.Source = source
	c.SourceHash = HashSource(source)
}

// DependencyNames returns the declared dependency names in declaration order.
func (c *Cell) DependencyNames() []string {
	names := make([]string, len(c.Dependencies))
	for i, d := range c.Dependencies {
		names[i] = d.Name
	}
	return names
}
