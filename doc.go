// Package venus implements a reactive notebook engine for Go. A notebook
// is a single Go source file whose marked top-level functions are cells;
// venus extracts them, wires them into a dependency graph by parameter
// name, compiles each cell into an isolated plugin, and executes cells in
// worker subprocesses so a panic in cell code never takes the engine down.
//
// Results are content-addressed end to end: cell source hashes key the
// compilation cache, and output hashes decide whether a change actually
// propagates to dependent cells.
package venus
