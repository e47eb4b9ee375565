// Package extract turns a notebook source file into an ordered list of cell
// definitions. A notebook is a single Go file; runnable cells are top-level
// functions carrying a //venus:cell marker, narrative cells are standalone
// comment groups starting with //venus:md, and every other top-level
// declaration becomes a definition cell.
package extract

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"strings"

	"github.com/ml-rust/venus/internal/cell"
)

const (
	cellMarker      = "venus:cell"
	narrativeMarker = "venus:md"
)

// Result is the ordered outcome of extraction. Cells appear in source
// order; the package clause and its name are reported separately.
type Result struct {
	Package string
	Cells   []*cell.Cell
}

// File parses the notebook at path and extracts its cells.
func File(path string) (*Result, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read notebook: %w", err)
	}
	return Source(path, src)
}

// Source extracts cells from notebook source. The filename is used only
// for positions in parse errors.
func Source(filename string, src []byte) (*Result, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse notebook: %w", err)
	}

	res := &Result{Package: file.Name.Name}
	claimed := make(map[*ast.CommentGroup]bool)
	for _, decl := range file.Decls {
		if doc := declDoc(decl); doc != nil {
			claimed[doc] = true
		}
	}

	// Interleave declarations and free-standing narrative comment groups
	// by position so source order is preserved.
	type item struct {
		pos  token.Pos
		decl ast.Decl
		cg   *ast.CommentGroup
	}
	var items []item
	for _, decl := range file.Decls {
		items = append(items, item{pos: decl.Pos(), decl: decl})
	}
	for _, cg := range file.Comments {
		if claimed[cg] || !hasMarker(cg, narrativeMarker) {
			continue
		}
		items = append(items, item{pos: cg.Pos(), cg: cg})
	}
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].pos < items[j-1].pos; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}

	narrative := 0
	seen := make(map[string]int)
	for _, it := range items {
		if it.cg != nil {
			narrative++
			res.Cells = append(res.Cells, &cell.Cell{
				Name:   fmt.Sprintf("md_%d", narrative),
				Kind:   cell.KindNarrative,
				Source: commentText(it.cg, narrativeMarker),
			})
			continue
		}
		c, err := declCell(fset, src, it.decl)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		// Runnable cell names must be unique in the source itself; only
		// generated definition names (imports, repeated blocks) get a
		// disambiguating suffix.
		if c.Kind == cell.KindDefinition {
			seen[c.Name]++
			if n := seen[c.Name]; n > 1 {
				c.Name = fmt.Sprintf("%s_%d", c.Name, n)
			}
		}
		res.Cells = append(res.Cells, c)
	}
	for _, c := range res.Cells {
		c.SourceHash = cell.HashSource(c.Source)
	}
	return res, nil
}

// declCell classifies one top-level declaration.
func declCell(fset *token.FileSet, src []byte, decl ast.Decl) (*cell.Cell, error) {
	switch d := decl.(type) {
	case *ast.FuncDecl:
		if hasMarker(d.Doc, cellMarker) {
			return runnableCell(fset, src, d)
		}
		return &cell.Cell{
			Name:   d.Name.Name,
			Kind:   cell.KindDefinition,
			Source: declSource(fset, src, d),
			Doc:    commentText(d.Doc, ""),
		}, nil
	case *ast.GenDecl:
		name := genDeclName(d)
		return &cell.Cell{
			Name:   name,
			Kind:   cell.KindDefinition,
			Source: declSource(fset, src, d),
			Doc:    commentText(d.Doc, ""),
		}, nil
	default:
		return nil, nil
	}
}

// runnableCell builds a runnable cell from a marked function. The function
// must be a plain top-level function returning a value, optionally with a
// trailing error result.
func runnableCell(fset *token.FileSet, src []byte, d *ast.FuncDecl) (*cell.Cell, error) {
	if d.Recv != nil {
		return nil, fmt.Errorf("cell %q: methods cannot be cells", d.Name.Name)
	}
	results := d.Type.Results
	if results == nil || len(results.List) == 0 {
		return nil, fmt.Errorf("cell %q must declare a return type", d.Name.Name)
	}
	if len(results.List) > 2 {
		return nil, fmt.Errorf("cell %q: at most two results (value, error) are allowed", d.Name.Name)
	}
	if len(results.List) == 2 && types.ExprString(results.List[1].Type) != "error" {
		return nil, fmt.Errorf("cell %q: second result must be error", d.Name.Name)
	}

	var deps []cell.Dependency
	if d.Type.Params != nil {
		for _, field := range d.Type.Params.List {
			typ := types.ExprString(field.Type)
			if len(field.Names) == 0 {
				return nil, fmt.Errorf("cell %q: parameters must be named", d.Name.Name)
			}
			for _, name := range field.Names {
				deps = append(deps, cell.Dependency{Name: name.Name, Type: typ})
			}
		}
	}

	return &cell.Cell{
		Name:         d.Name.Name,
		Kind:         cell.KindRunnable,
		Source:       declSource(fset, src, d),
		Dependencies: deps,
		ReturnType:   types.ExprString(results.List[0].Type),
		ReturnsError: len(results.List) == 2,
		Doc:          commentText(d.Doc, cellMarker),
	}, nil
}

// declSource returns the exact source text of a declaration, excluding its
// doc comment.
func declSource(fset *token.FileSet, src []byte, decl ast.Decl) string {
	start := fset.Position(decl.Pos()).Offset
	end := fset.Position(decl.End()).Offset
	return string(src[start:end])
}

func declDoc(decl ast.Decl) *ast.CommentGroup {
	switch d := decl.(type) {
	case *ast.FuncDecl:
		return d.Doc
	case *ast.GenDecl:
		return d.Doc
	}
	return nil
}

// genDeclName derives a definition cell name from the first declared
// identifier; import blocks are always named "imports".
func genDeclName(d *ast.GenDecl) string {
	switch d.Tok {
	case token.IMPORT:
		return "imports"
	case token.TYPE:
		if len(d.Specs) > 0 {
			if ts, ok := d.Specs[0].(*ast.TypeSpec); ok {
				return ts.Name.Name
			}
		}
	case token.CONST, token.VAR:
		if len(d.Specs) > 0 {
			if vs, ok := d.Specs[0].(*ast.ValueSpec); ok && len(vs.Names) > 0 {
				return vs.Names[0].Name
			}
		}
	}
	return "definition"
}

// hasMarker reports whether a comment group contains the given marker line.
func hasMarker(cg *ast.CommentGroup, marker string) bool {
	if cg == nil {
		return false
	}
	for _, c := range cg.List {
		if strings.TrimSpace(strings.TrimPrefix(c.Text, "//")) == marker {
			return true
		}
	}
	return false
}

// commentText returns a comment group's content with slashes and the given
// marker line stripped.
func commentText(cg *ast.CommentGroup, marker string) string {
	if cg == nil {
		return ""
	}
	var lines []string
	for _, c := range cg.List {
		text := strings.TrimPrefix(c.Text, "//")
		text = strings.TrimPrefix(text, " ")
		if marker != "" && strings.TrimSpace(text) == marker {
			continue
		}
		lines = append(lines, text)
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
