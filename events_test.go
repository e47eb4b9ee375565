package venus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := newBroadcaster()
	ch1, cancel1 := b.subscribe()
	ch2, cancel2 := b.subscribe()
	defer cancel1()
	defer cancel2()

	b.publish(Event{Type: EventCellStatus, Cell: "total", Status: StatusRunning})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventCellStatus, ev.Type)
			assert.Equal(t, "total", ev.Cell)
			assert.False(t, ev.Time.IsZero(), "publish stamps the time")
		case <-time.After(time.Second):
			t.Fatal("no event received")
		}
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := newBroadcaster()
	ch, cancel := b.subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic on the closed channel.
	b.publish(Event{Type: EventNotebookLoaded})

	// A second cancel is harmless.
	cancel()
}

func TestBroadcasterDropsWhenSubscriberFallsBehind(t *testing.T) {
	b := newBroadcaster()
	ch, cancel := b.subscribe()
	defer cancel()

	// Nobody is draining; publishing past the buffer must not block.
	for i := 0; i < 200; i++ {
		b.publish(Event{Type: EventCellOutput, Cell: "total"})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			require.Less(t, received, 200, "overflow events are dropped, not queued")
			return
		}
	}
}
