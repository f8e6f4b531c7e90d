package eventhub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	h := New[string]()
	ch, cancel := h.Subscribe("task-1", 4)
	defer cancel()

	h.Publish("task-1", "hello")

	select {
	case got := <-ch:
		assert.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDoesNotCrossKeys(t *testing.T) {
	h := New[string]()
	ch, cancel := h.Subscribe("task-1", 4)
	defer cancel()

	h.Publish("task-2", "other")

	select {
	case got := <-ch:
		t.Fatalf("unexpected delivery across keys: %v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishOrderingPerSubscriber(t *testing.T) {
	h := New[int]()
	ch, cancel := h.Subscribe("task-1", 8)
	defer cancel()

	for i := 0; i < 5; i++ {
		h.Publish("task-1", i)
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, i, <-ch)
	}
}

func TestPublishDropsForSlowSubscriberWithoutBlocking(t *testing.T) {
	h := New[int]()
	ch, cancel := h.Subscribe("task-1", 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish("task-1", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber channel")
	}

	// At least one event made it through; excess were dropped, not queued.
	select {
	case <-ch:
	default:
		t.Fatal("expected at least one delivered event")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := New[string]()
	ch, cancel := h.Subscribe("task-1", 1)

	cancel()
	assert.NotPanics(t, cancel)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after cancel")
}

func TestSubscribeWithReplayDeliversPastEventsFirst(t *testing.T) {
	h := New[int]()
	ch, cancel := h.SubscribeWithReplay("task-1", 8, []int{1, 2, 3})
	defer cancel()

	h.Publish("task-1", 4)

	for i := 1; i <= 4; i++ {
		got, ok := <-ch
		require.True(t, ok)
		assert.Equal(t, i, got)
	}
}

func TestSubscriberCount(t *testing.T) {
	h := New[int]()
	assert.Equal(t, 0, h.SubscriberCount("task-1"))

	_, cancel1 := h.Subscribe("task-1", 1)
	_, cancel2 := h.Subscribe("task-1", 1)
	assert.Equal(t, 2, h.SubscriberCount("task-1"))

	cancel1()
	assert.Equal(t, 1, h.SubscriberCount("task-1"))

	cancel2()
	assert.Equal(t, 0, h.SubscriberCount("task-1"))
}
