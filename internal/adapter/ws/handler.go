// Package ws implements the WebSocket adapter that streams run events to
// dashboard clients.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// conn wraps a single WebSocket connection and its outbound buffer.
type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

// Hub manages all active WebSocket connections and broadcasts messages.
// Each connection has its own writer goroutine; a client whose buffer is
// full is disconnected rather than allowed to stall the broadcaster.
type Hub struct {
	mu             sync.RWMutex
	conns          map[*conn]struct{}
	originPatterns []string
	log            *slog.Logger
}

// NewHub creates a new WebSocket hub. An empty origin list accepts any
// origin; CORS is enforced by the HTTP middleware in that case.
func NewHub(log *slog.Logger, originPatterns ...string) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		conns:          make(map[*conn]struct{}),
		originPatterns: originPatterns,
		log:            log,
	}
}

// HandleWS upgrades the request to a WebSocket and registers the connection.
// Clients should fetch current state over REST after connecting: the hub
// does not replay events sent before the connection was registered.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: h.originPatterns}
	if len(h.originPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	wsConn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: wsConn, send: make(chan []byte, sendBuffer), cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("websocket connected", "remote", r.RemoteAddr)

	go h.writeLoop(ctx, c)

	// Read loop detects disconnects and consumes pings.
	go func() {
		defer h.remove(c)
		for {
			if _, _, err := wsConn.Read(ctx); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) writeLoop(ctx context.Context, c *conn) {
	defer func() { _ = c.ws.Close(websocket.StatusNormalClosure, "") }()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.log.Debug("websocket write failed", "error", err)
				h.remove(c)
				return
			}
		}
	}
}

// broadcast queues data on every connection without blocking.
func (h *Hub) broadcast(data []byte) {
	var slow []*conn

	h.mu.RLock()
	for c := range h.conns {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("websocket client too slow, disconnecting")
		h.remove(c)
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.cancel()
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		h.log.Info("websocket disconnected")
	}
}
