// Package messagequeue defines the message queue port (interface) used to
// relay run events to consumers outside the process.
package messagequeue

import (
	"context"

	"github.com/Strob0t/PostForge/internal/domain/event"
)

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject without waiting for
	// downstream acknowledgement.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain flushes pending publishes and closes the connection.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject suffixes appended to the configured prefix, e.g. "postforge.runs.updated".
const (
	SubjectRunUpdated = "runs.updated"
	SubjectLogAdded   = "runs.log"
)

// SubjectFor maps an event type to its full subject under prefix.
// Unknown types map to "" and are not relayed.
func SubjectFor(prefix string, t event.Type) string {
	var suffix string
	switch t {
	case event.TypeRunUpdated:
		suffix = SubjectRunUpdated
	case event.TypeLogAdded:
		suffix = SubjectLogAdded
	default:
		return ""
	}
	if prefix == "" {
		return suffix
	}
	return prefix + "." + suffix
}
