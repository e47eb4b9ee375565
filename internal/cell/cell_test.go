package cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashSourceDeterministic(t *testing.T) {
	a := HashSource("func x() int { return 1 }")
	b := HashSource("func x() int { return 1 }")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c := HashSource("func x() int { return 2 }")
	assert.NotEqual(t, a, c)
}

func TestSetSourceRecomputesHash(t *testing.T) {
	c := &Cell{Name: "x", Kind: KindRunnable}
	c.SetSource("func x() int { return 1 }")
	first := c.SourceHash
	require.NotEmpty(t, first)

	c.SetSource("func x() int { return 2 }")
	assert.NotEqual(t, first, c.SourceHash)

	// Reverting the source reproduces the original hash exactly.
	c.SetSource("func x() int { return 1 }")
	assert.Equal(t, first, c.SourceHash)
}

func TestDependencyNames(t *testing.T) {
	c := &Cell{
		Name: "total",
		Kind: KindRunnable,
		Dependencies: []Dependency{
			{Name: "numbers", Type: "[]int"},
			{Name: "scale", Type: "float64"},
		},
	}
	assert.Equal(t, []string{"numbers", "scale"}, c.DependencyNames())
}

func TestStatusHasOutput(t *testing.T) {
	assert.False(t, StatusPristine.HasOutput())
	assert.False(t, StatusCompiling.HasOutput())
	assert.False(t, StatusRunning.HasOutput())
	assert.True(t, StatusSuccess.HasOutput())
	assert.True(t, StatusDirty.HasOutput())
	assert.False(t, StatusError.HasOutput())
}

func TestStatusCanStartRun(t *testing.T) {
	assert.True(t, StatusPristine.CanStartRun())
	assert.True(t, StatusSuccess.CanStartRun())
	assert.True(t, StatusDirty.CanStartRun())
	assert.True(t, StatusError.CanStartRun())
	assert.False(t, StatusCompiling.CanStartRun())
	assert.False(t, StatusRunning.CanStartRun())
}

func TestStatusTransitions(t *testing.T) {
	// The happy path.
	require.NoError(t, Transition(StatusPristine, StatusCompiling))
	require.NoError(t, Transition(StatusCompiling, StatusRunning))
	require.NoError(t, Transition(StatusRunning, StatusSuccess))
	require.NoError(t, Transition(StatusSuccess, StatusDirty))
	require.NoError(t, Transition(StatusDirty, StatusCompiling))

	// Cancellation restores the pre-run state.
	require.NoError(t, Transition(StatusCompiling, StatusPristine))
	require.NoError(t, Transition(StatusRunning, StatusDirty))

	// Pristine never becomes dirty: no output means nothing is stale.
	assert.Error(t, Transition(StatusPristine, StatusDirty))
	// Success requires a run, never a bare edit.
	assert.Error(t, Transition(StatusPristine, StatusSuccess))
	assert.Error(t, Transition(StatusError, StatusSuccess))
}
