package service

import (
	"log/slog"
	"sync"

	"github.com/Strob0t/PostForge/internal/domain/event"
	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
)

// EventBus is the process-wide publish/subscribe channel for run changes.
// Delivery is synchronous and in subscription order. There is no replay: a
// late subscriber catches up by reading the repository.
type EventBus struct {
	mu        sync.RWMutex
	nextID    int
	listeners []subscription
}

type subscription struct {
	id int
	fn event.Listener
}

// NewEventBus creates an EventBus with no listeners.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers l and returns a function that removes it. The returned
// function is safe to call more than once.
func (b *EventBus) Subscribe(l event.Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, subscription{id: id, fn: l})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.listeners {
			if s.id == id {
				b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// ListenerCount returns the number of registered listeners.
func (b *EventBus) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// PublishRunUpdated broadcasts a snapshot of r.
func (b *EventBus) PublishRunUpdated(r run.Run) {
	b.publish(event.Envelope{Type: event.TypeRunUpdated, Payload: r.Clone()})
}

// PublishLogAdded broadcasts a step log row.
func (b *EventBus) PublishLogAdded(l steplog.Log) {
	b.publish(event.Envelope{Type: event.TypeLogAdded, Payload: l})
}

func (b *EventBus) publish(env event.Envelope) {
	b.mu.RLock()
	snapshot := make([]subscription, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.RUnlock()

	for _, s := range snapshot {
		deliver(s.fn, env)
	}
}

// deliver isolates the publisher from a panicking listener.
func deliver(fn event.Listener, env event.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event listener panicked", "type", env.Type, "panic", r)
		}
	}()
	fn(env)
}
