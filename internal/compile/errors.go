package compile

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ml-rust/venus/internal/cell"
)

// Diagnostic is one compiler message, repositioned onto the cell's own
// source where the offending line falls inside it.
type Diagnostic struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`

	// InCell is true when Line/Column refer to the cell source rather
	// than the generated wrapper.
	InCell bool `json:"in_cell"`
}

// CompileError reports a failed build with structured diagnostics. The
// cell transitions to Error and its prior output, if any, is preserved.
type CompileError struct {
	CellName    string
	Diagnostics []Diagnostic
	Raw         string
}

func (e *CompileError) Error() string {
	if len(e.Diagnostics) == 0 {
		return fmt.Sprintf("compile %s: %s", e.CellName, strings.TrimSpace(e.Raw))
	}
	d := e.Diagnostics[0]
	msg := fmt.Sprintf("compile %s: %s", e.CellName, d.Message)
	if len(e.Diagnostics) > 1 {
		msg += fmt.Sprintf(" (and %d more)", len(e.Diagnostics)-1)
	}
	return msg
}

// diagLine matches go build output lines like "./main.go:12:6: undefined: x".
var diagLine = regexp.MustCompile(`^(.*\.go):(\d+):(\d+): (.*)$`)

// parseBuildOutput converts go build output into a CompileError. Lines
// pointing into the cell's slice of the wrapper are rebased so line 1 is
// the first line of the cell source.
func parseBuildOutput(c *cell.Cell, gen Generated, out string, runErr error) error {
	cellLines := 1 + strings.Count(c.Source, "\n")
	ce := &CompileError{CellName: c.Name, Raw: out}
	for _, line := range strings.Split(out, "\n") {
		m := diagLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		ln, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		d := Diagnostic{Line: ln, Column: col, Message: m[4]}
		if ln >= gen.CellLine && ln < gen.CellLine+cellLines {
			d.Line = ln - gen.CellLine + 1
			d.InCell = true
		}
		ce.Diagnostics = append(ce.Diagnostics, d)
	}
	if len(ce.Diagnostics) == 0 && strings.TrimSpace(out) == "" {
		ce.Raw = runErr.Error()
	}
	return ce
}
