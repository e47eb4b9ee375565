// Package ipc defines the wire protocol between the execution coordinator
// and its worker processes: length-prefixed JSON envelopes over the worker's
// stdin/stdout. Format: 4-byte little-endian length followed by the JSON
// body. Values never cross the boundary as pointers, only as bytes.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxMessageSize bounds a single envelope. Larger messages indicate a
// corrupt stream or a runaway output and are rejected.
const MaxMessageSize = 128 << 20

// Command ops, coordinator to worker.
const (
	OpLoad     = "load"
	OpExecute  = "execute"
	OpPing     = "ping"
	OpShutdown = "shutdown"
)

// Response ops, worker to coordinator.
const (
	OpLoaded       = "loaded"
	OpOutput       = "output"
	OpError        = "error"
	OpPanic        = "panic"
	OpPong         = "pong"
	OpShuttingDown = "shutting_down"
)

// Command is sent from the coordinator to a worker.
type Command struct {
	Op string `json:"op"`

	// Load fields.
	Path   string `json:"path,omitempty"`   // artifact location on disk
	Symbol string `json:"symbol,omitempty"` // entry point symbol name
	Cell   string `json:"cell,omitempty"`   // cell name for error reporting

	// Execute fields: one serialized value per dependency, in
	// dependency-graph order.
	Inputs [][]byte `json:"inputs,omitempty"`
}

// Response is sent from a worker back to the coordinator.
type Response struct {
	Op string `json:"op"`

	// Output fields.
	Value   []byte `json:"value,omitempty"`   // serialized cell output
	Display string `json:"display,omitempty"` // rendered form for the UI

	// Error and panic fields.
	Message string `json:"message,omitempty"`
}

// Write encodes v as one length-prefixed envelope.
func Write(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode ipc message: %w", err)
	}
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write ipc header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write ipc body: %w", err)
	}
	return nil
}

// Read decodes one length-prefixed envelope into v.
func Read(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("read ipc header: %w", err)
	}
	n := binary.LittleEndian.Uint32(header[:])
	if n > MaxMessageSize {
		return fmt.Errorf("ipc message too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read ipc body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode ipc message: %w", err)
	}
	return nil
}
