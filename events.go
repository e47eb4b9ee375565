package venus

import (
	"sync"
	"time"

	"github.com/ml-rust/venus/internal/cell"
	"github.com/ml-rust/venus/internal/compile"
)

// EventType tags what a session event describes.
type EventType string

const (
	// EventNotebookLoaded fires after a load or reload completes.
	EventNotebookLoaded EventType = "notebook_loaded"
	// EventCellStatus fires on every cell status transition.
	EventCellStatus EventType = "cell_status"
	// EventCellOutput fires when a cell produces a new output.
	EventCellOutput EventType = "cell_output"
	// EventCellError fires when compilation or execution fails.
	EventCellError EventType = "cell_error"
	// EventGraphUpdated fires after a structural edit rebuilds the graph.
	EventGraphUpdated EventType = "graph_updated"
	// EventUndoState fires whenever undo or redo availability changes.
	EventUndoState EventType = "undo_state"
	// EventInterrupted fires when an execution is cancelled.
	EventInterrupted EventType = "interrupted"
)

// Event is one session notification, delivered to every subscriber.
type Event struct {
	Type    EventType   `json:"type"`
	Cell    string      `json:"cell,omitempty"`
	Status  cell.Status `json:"status,omitempty"`
	Display string      `json:"display,omitempty"`
	Error   string      `json:"error,omitempty"`
	Time    time.Time   `json:"time"`

	// Diagnostics carries structured compiler messages on cell_error
	// events caused by a failed build.
	Diagnostics []compile.Diagnostic `json:"diagnostics,omitempty"`

	// CanUndo and CanRedo accompany undo_state events.
	CanUndo bool `json:"can_undo,omitempty"`
	CanRedo bool `json:"can_redo,omitempty"`
}

// broadcaster fans events out to subscribers. Sends never block: a
// subscriber that falls behind loses events rather than stalling the
// engine.
type broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

// subscribe registers a new subscriber and returns its channel plus an
// unsubscribe func.
func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

func (b *broadcaster) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
