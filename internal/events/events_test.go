package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(Event{Type: EventTaskStart, Task: TaskHealthCheck})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventTaskStart, ev.Type)
			assert.Equal(t, TaskHealthCheck, ev.Task)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("expected event was not delivered")
		}
	}
}

func TestBus_PublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	bus.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			bus.Publish(Event{Type: EventTaskComplete, Task: TaskPatternScan})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestBus_CloseClosesChannels(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	bus.Close()

	_, ok := <-ch
	require.False(t, ok)
}
