package ipc

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sent := &Command{
		Op:     OpExecute,
		Cell:   "total",
		Inputs: [][]byte{[]byte(`[1,2,3]`), []byte(`2.5`)},
	}
	require.NoError(t, Write(&buf, sent))

	var got Command
	require.NoError(t, Read(&buf, &got))
	assert.Equal(t, sent, &got)
}

func TestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	sent := &Response{Op: OpOutput, Value: []byte(`6`), Display: "6"}
	require.NoError(t, Write(&buf, sent))

	var got Response
	require.NoError(t, Read(&buf, &got))
	assert.Equal(t, sent, &got)
}

func TestMultipleEnvelopesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &Command{Op: OpPing}))
	require.NoError(t, Write(&buf, &Command{Op: OpShutdown}))

	var first, second Command
	require.NoError(t, Read(&buf, &first))
	require.NoError(t, Read(&buf, &second))
	assert.Equal(t, OpPing, first.Op)
	assert.Equal(t, OpShutdown, second.Op)
}

func TestReadRejectsOversizedHeader(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], MaxMessageSize+1)
	buf.Write(header[:])

	var cmd Command
	err := Read(&buf, &cmd)
	assert.ErrorContains(t, err, "too large")
}

func TestReadTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, &Command{Op: OpPing}))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])

	var cmd Command
	err := Read(truncated, &cmd)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadEmptyStream(t *testing.T) {
	var cmd Command
	err := Read(bytes.NewReader(nil), &cmd)
	assert.ErrorIs(t, err, io.EOF)
}
