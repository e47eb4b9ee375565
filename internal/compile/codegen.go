package compile

import (
	"fmt"
	"strings"

	"github.com/ml-rust/venus/internal/cell"
)

// EntrySymbol returns the exported symbol the worker looks up in a
// compiled plugin.
func EntrySymbol(cellName string) string {
	return "VenusCell_" + cellName
}

// Generated is the wrapper source emitted for one cell plus the line on
// which the cell's own source begins, used to map compiler diagnostics
// back onto the cell.
type Generated struct {
	Code     string
	CellLine int
}

// Generate assembles the plugin source for c: imports first, then every
// definition cell in notebook order, then the cell itself, then the entry
// function. The entry function decodes JSON inputs positionally, calls
// the cell, and encodes the result.
func Generate(c *cell.Cell, defs []*cell.Cell) Generated {
	var b strings.Builder
	line := 1
	writeln := func(s string) {
		b.WriteString(s)
		b.WriteByte('\n')
		line += 1 + strings.Count(s, "\n")
	}

	writeln("// Code generated by venus. DO NOT EDIT.")
	writeln("package main")
	writeln("")
	// Aliased so user imports of the same packages never collide.
	writeln(`import venusjson "encoding/json"`)
	writeln(`import venusfmt "fmt"`)
	writeln("")

	// Import declarations must precede all other declarations, so
	// import-kind definitions are hoisted ahead of the rest.
	var rest []*cell.Cell
	for _, d := range defs {
		if strings.HasPrefix(strings.TrimSpace(d.Source), "import") {
			writeln(d.Source)
			writeln("")
		} else {
			rest = append(rest, d)
		}
	}
	for _, d := range rest {
		writeln(d.Source)
		writeln("")
	}

	cellLine := line
	writeln(c.Source)
	writeln("")

	writeln(fmt.Sprintf("func %s(inputs [][]byte) ([]byte, string, error) {", EntrySymbol(c.Name)))
	args := make([]string, len(c.Dependencies))
	for i, dep := range c.Dependencies {
		writeln(fmt.Sprintf("\tvar arg%d %s", i, dep.Type))
		writeln(fmt.Sprintf("\tif err := venusjson.Unmarshal(inputs[%d], &arg%d); err != nil {", i, i))
		writeln(fmt.Sprintf("\t\treturn nil, \"\", venusfmt.Errorf(\"decode input %s: %%w\", err)", dep.Name))
		writeln("\t}")
		args[i] = fmt.Sprintf("arg%d", i)
	}
	call := fmt.Sprintf("%s(%s)", c.Name, strings.Join(args, ", "))
	if c.ReturnsError {
		writeln(fmt.Sprintf("\tresult, cellErr := %s", call))
		writeln("\tif cellErr != nil {")
		writeln("\t\treturn nil, \"\", cellErr")
		writeln("\t}")
	} else {
		writeln(fmt.Sprintf("\tresult := %s", call))
	}
	writeln("\tvalue, err := venusjson.Marshal(result)")
	writeln("\tif err != nil {")
	writeln("\t\treturn nil, \"\", venusfmt.Errorf(\"encode output: %w\", err)")
	writeln("\t}")
	writeln("\treturn value, venusfmt.Sprintf(\"%v\", result), nil")
	writeln("}")

	return Generated{Code: b.String(), CellLine: cellLine}
}
