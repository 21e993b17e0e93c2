package ws

import (
	"context"

	"github.com/Strob0t/PostForge/internal/domain/event"
	"github.com/Strob0t/PostForge/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// BroadcastEvent marshals the envelope once and queues it for every client.
func (h *Hub) BroadcastEvent(_ context.Context, env event.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		h.log.Error("marshal ws event", "type", env.Type, "error", err)
		return
	}
	h.broadcast(data)
}

// Listen is an event.Listener that forwards bus events to clients.
func (h *Hub) Listen(env event.Envelope) {
	h.BroadcastEvent(context.Background(), env)
}
