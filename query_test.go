package venus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(cells []*Cell) []string {
	var out []string
	for _, c := range cells {
		out = append(out, c.Name)
	}
	return out
}

func TestQueryByKind(t *testing.T) {
	s := newTestSession(t, testNotebook)
	q := s.Query()

	assert.Equal(t, []string{"numbers", "total", "label"}, names(q.ByKind(KindRunnable)))
	assert.Equal(t, []string{"imports", "sum"}, names(q.ByKind(KindDefinition)))
	assert.Equal(t, []string{"md_1"}, names(q.ByKind(KindNarrative)))
}

func TestQueryByStatus(t *testing.T) {
	s := newTestSession(t, testNotebook)
	seedOutput(t, s, "numbers", "h1")

	q := s.Query()
	assert.Equal(t, []string{"numbers"}, names(q.ByStatus(StatusSuccess)))
	assert.Equal(t, []string{"total", "label"}, names(q.ByStatus(StatusPristine)))
	assert.Empty(t, q.ByStatus(StatusError))
}

func TestQueryTopoOrder(t *testing.T) {
	s := newTestSession(t, testNotebook)
	assert.Equal(t, []string{"numbers", "total", "label"}, names(s.Query().TopoOrder()))
}

func TestQueryRootsAndLeaves(t *testing.T) {
	s := newTestSession(t, testNotebook)
	q := s.Query()

	assert.Equal(t, []string{"numbers"}, names(q.Roots()))
	assert.Equal(t, []string{"label"}, names(q.Leaves()))
}

func TestQueryDependentsOf(t *testing.T) {
	s := newTestSession(t, testNotebook)
	q := s.Query()

	assert.Equal(t, []string{"total"}, names(q.DependentsOf("numbers", false)))
	assert.Equal(t, []string{"total", "label"}, names(q.DependentsOf("numbers", true)))
	assert.Empty(t, q.DependentsOf("label", true))
	assert.Nil(t, q.DependentsOf("nonexistent", true))
}

func TestQueryStatusCounts(t *testing.T) {
	s := newTestSession(t, testNotebook)
	seedOutput(t, s, "numbers", "h1")

	counts := s.Query().StatusCounts()
	require.Equal(t, 1, counts[StatusSuccess])
	assert.Equal(t, 2, counts[StatusPristine])
}
