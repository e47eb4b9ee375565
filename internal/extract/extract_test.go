package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ml-rust/venus/internal/cell"
)

const notebook = `package scratch

import "strings"

//venus:md
// # Totals
// This notebook sums a few numbers.

// shared helpers
func sum(xs []int) int {
	s := 0
	for _, x := range xs {
		s += x
	}
	return s
}

// numbers is the data source.
//venus:cell
func numbers() []int {
	return []int{1, 2, 3}
}

//venus:cell
func total(numbers []int) int {
	return sum(numbers)
}

//venus:cell
func label(total int) (string, error) {
	return strings.Repeat("*", total), nil
}
`

func TestSourceExtractsAllKinds(t *testing.T) {
	res, err := Source("notebook.go", []byte(notebook))
	require.NoError(t, err)
	assert.Equal(t, "scratch", res.Package)

	kinds := make(map[string]cell.Kind, len(res.Cells))
	for _, c := range res.Cells {
		kinds[c.Name] = c.Kind
	}
	assert.Equal(t, cell.KindDefinition, kinds["imports"])
	assert.Equal(t, cell.KindNarrative, kinds["md_1"])
	assert.Equal(t, cell.KindDefinition, kinds["sum"])
	assert.Equal(t, cell.KindRunnable, kinds["numbers"])
	assert.Equal(t, cell.KindRunnable, kinds["total"])
	assert.Equal(t, cell.KindRunnable, kinds["label"])
}

func TestFileReadsNotebookFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notebook.go")
	require.NoError(t, os.WriteFile(path, []byte(notebook), 0o644))

	res, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, "scratch", res.Package)
	assert.Len(t, res.Cells, 6)

	_, err = File(filepath.Join(t.TempDir(), "missing.go"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read notebook")
}

func TestSourceOrderIsPreserved(t *testing.T) {
	res, err := Source("notebook.go", []byte(notebook))
	require.NoError(t, err)

	var order []string
	for _, c := range res.Cells {
		order = append(order, c.Name)
	}
	assert.Equal(t, []string{"imports", "md_1", "sum", "numbers", "total", "label"}, order)
}

func TestRunnableCellDetails(t *testing.T) {
	res, err := Source("notebook.go", []byte(notebook))
	require.NoError(t, err)

	byName := make(map[string]*cell.Cell)
	for _, c := range res.Cells {
		byName[c.Name] = c
	}

	total := byName["total"]
	require.NotNil(t, total)
	require.Len(t, total.Dependencies, 1)
	assert.Equal(t, "numbers", total.Dependencies[0].Name)
	assert.Equal(t, "[]int", total.Dependencies[0].Type)
	assert.Equal(t, "int", total.ReturnType)
	assert.False(t, total.ReturnsError)
	assert.NotEmpty(t, total.SourceHash)

	label := byName["label"]
	require.NotNil(t, label)
	assert.Equal(t, "string", label.ReturnType)
	assert.True(t, label.ReturnsError)

	numbers := byName["numbers"]
	require.NotNil(t, numbers)
	assert.Empty(t, numbers.Dependencies)
	assert.Equal(t, "numbers is the data source.", numbers.Doc)
}

func TestSourceExcludesDocFromCellSource(t *testing.T) {
	res, err := Source("notebook.go", []byte(notebook))
	require.NoError(t, err)

	for _, c := range res.Cells {
		if c.Kind == cell.KindRunnable {
			assert.NotContains(t, c.Source, "venus:cell")
			assert.Contains(t, c.Source, "func "+c.Name+"(")
		}
	}
}

func TestNarrativeCellContent(t *testing.T) {
	res, err := Source("notebook.go", []byte(notebook))
	require.NoError(t, err)

	var md *cell.Cell
	for _, c := range res.Cells {
		if c.Kind == cell.KindNarrative {
			md = c
			break
		}
	}
	require.NotNil(t, md)
	assert.Contains(t, md.Source, "# Totals")
	assert.NotContains(t, md.Source, "venus:md")
	assert.NotContains(t, md.Source, "//")
}

func TestCellValidation(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "method receiver",
			src:  "package p\n\ntype T struct{}\n\n//venus:cell\nfunc (t T) bad() int { return 0 }\n",
			want: "methods cannot be cells",
		},
		{
			name: "no return",
			src:  "package p\n\n//venus:cell\nfunc bad() {}\n",
			want: "must declare a return type",
		},
		{
			name: "three results",
			src:  "package p\n\n//venus:cell\nfunc bad() (int, int, error) { return 0, 0, nil }\n",
			want: "at most two results",
		},
		{
			name: "second result not error",
			src:  "package p\n\n//venus:cell\nfunc bad() (int, string) { return 0, \"\" }\n",
			want: "second result must be error",
		},
		{
			name: "unnamed parameter",
			src:  "package p\n\n//venus:cell\nfunc bad([]int) int { return 0 }\n",
			want: "parameters must be named",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Source("notebook.go", []byte(tc.src))
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestDuplicateDefinitionNamesAreDisambiguated(t *testing.T) {
	src := "package p\n\nimport \"fmt\"\n\nimport \"strings\"\n\nvar _ = fmt.Sprint\nvar _ = strings.TrimSpace\n"
	res, err := Source("notebook.go", []byte(src))
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, c := range res.Cells {
		assert.False(t, seen[c.Name], "duplicate name %q", c.Name)
		seen[c.Name] = true
	}
	assert.True(t, seen["imports"])
	assert.True(t, seen["imports_2"])
}

func TestParseErrorIsReported(t *testing.T) {
	_, err := Source("notebook.go", []byte("package p\n\nfunc broken( {\n"))
	require.Error(t, err)
	assert.ErrorContains(t, err, "parse notebook")
}
