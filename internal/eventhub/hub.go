// Package eventhub implements the control plane's process-local
// publish/subscribe fan-out (component 4.B). It bridges repository writes
// to live listeners without persisting anything itself; the Repository
// owns durability, the Hub only owns delivery.
//
// A Hub is generic over the event payload type the way the teacher's
// ResponseSlot[T] is generic over a single awaited response; here the slot
// is replaced with a fan-out channel per subscriber.
package eventhub

import "sync"

type subscriber[T any] struct {
	ch chan T
}

// Hub fans out events published under a key to every live subscriber of
// that key. Publish is non-blocking: a subscriber whose channel is full
// misses the event rather than stalling the publisher or other
// subscribers. Events published under the same key are delivered to a
// given subscriber in publication order, since delivery to that
// subscriber's channel happens on the publisher's goroutine under the
// hub's lock.
type Hub[T any] struct {
	mu   sync.Mutex
	subs map[string][]*subscriber[T]
}

// New creates an empty Hub.
func New[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[string][]*subscriber[T])}
}

// Publish delivers event to every subscriber currently registered under
// key. It never blocks: a subscriber that cannot keep up is dropped for
// this event only.
func (h *Hub[T]) Publish(key string, event T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Sending under the lock keeps a concurrent cancel from closing a
	// channel mid-send; the non-blocking select keeps the hold short.
	for _, s := range h.subs[key] {
		select {
		case s.ch <- event:
		default:
		}
	}
}

// Subscribe registers a new listener under key and returns its delivery
// channel along with an idempotent cancel function. buffer sizes the
// channel; a larger buffer tolerates slower consumers before events are
// dropped for them.
func (h *Hub[T]) Subscribe(key string, buffer int) (<-chan T, func()) {
	return h.SubscribeWithReplay(key, buffer, nil)
}

// SubscribeWithReplay is like Subscribe but first seeds the subscriber's
// channel with replay (in order), before the subscriber is registered to
// receive live publishes. Callers typically hold their own lock across
// the call so no publish can be missed or duplicated between the replay
// snapshot and registration.
func (h *Hub[T]) SubscribeWithReplay(key string, buffer int, replay []T) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	if buffer < len(replay) {
		buffer = len(replay)
	}
	sub := &subscriber[T]{ch: make(chan T, buffer)}
	for _, ev := range replay {
		sub.ch <- ev
	}

	h.mu.Lock()
	h.subs[key] = append(h.subs[key], sub)
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			list := h.subs[key]
			for i, s := range list {
				if s == sub {
					h.subs[key] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// SubscriberCount reports how many listeners are currently registered
// under key. Intended for tests and diagnostics.
func (h *Hub[T]) SubscriberCount(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}
