package nats

import (
	"context"
	"log/slog"

	"github.com/Strob0t/PostForge/internal/domain/event"
	"github.com/Strob0t/PostForge/internal/port/messagequeue"
)

// Relay forwards event bus envelopes to the message queue. Publish failures
// are logged and dropped; the bus is best-effort.
type Relay struct {
	q      messagequeue.Queue
	prefix string
	log    *slog.Logger
}

// NewRelay creates a relay publishing under prefix.
func NewRelay(q messagequeue.Queue, prefix string, log *slog.Logger) *Relay {
	return &Relay{q: q, prefix: prefix, log: log}
}

// Listen is an event.Listener.
func (r *Relay) Listen(env event.Envelope) {
	subject := messagequeue.SubjectFor(r.prefix, env.Type)
	if subject == "" {
		return
	}
	data, err := env.Marshal()
	if err != nil {
		r.log.Error("relay marshal failed", "type", env.Type, "error", err)
		return
	}
	if err := r.q.Publish(context.Background(), subject, data); err != nil {
		r.log.Warn("relay publish failed", "subject", subject, "error", err)
	}
}
