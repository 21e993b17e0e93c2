// Package broadcast defines the port for pushing run events to connected clients.
package broadcast

import (
	"context"

	"github.com/Strob0t/PostForge/internal/domain/event"
)

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends an envelope to every client connected right now.
	// Clients that connect later do not receive it.
	BroadcastEvent(ctx context.Context, env event.Envelope)
}
