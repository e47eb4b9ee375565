package exec

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ml-rust/venus/internal/compile"
)

func TestTailBufferKeepsTail(t *testing.T) {
	b := newTailBuffer(8)

	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", b.String())

	_, err = b.Write([]byte("defghijk"))
	require.NoError(t, err)
	assert.Equal(t, "defghijk", b.String(), "only the newest 8 bytes survive")

	_, err = b.Write([]byte("XY"))
	require.NoError(t, err)
	assert.Equal(t, "fghijkXY", b.String())
}

func TestTailBufferSingleOversizedWrite(t *testing.T) {
	b := newTailBuffer(4)
	_, err := b.Write([]byte(strings.Repeat("x", 100) + "tail"))
	require.NoError(t, err)
	assert.Equal(t, "tail", b.String())
}

func TestExecuteDetectsUnresponsiveWorker(t *testing.T) {
	// /bin/true exits without ever answering the liveness ping, so the
	// run must fail before any load is attempted.
	c := NewCoordinator("/bin/true",
		WithParallelism(1),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	art := &compile.Artifact{CellName: "total", Path: "/nonexistent.so", EntrySymbol: "VenusCell_total"}
	_, err := c.Execute(context.Background(), art, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not responding")
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "cell total panicked: runtime error: index out of range",
		(&PanicError{Cell: "total", Message: "runtime error: index out of range"}).Error())

	assert.Equal(t, "cell ratio: division by zero",
		(&CellError{Cell: "ratio", Message: "division by zero"}).Error())

	assert.Equal(t, "worker for cell total crashed",
		(&CrashError{Cell: "total"}).Error())
	assert.Equal(t, "worker for cell total crashed: signal: killed",
		(&CrashError{Cell: "total", Stderr: "signal: killed"}).Error())
}
