// Package ws implements the WebSocket adapter that streams orchestrator
// events to dashboard clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	writeTimeout = 5 * time.Second
	queueSize    = 256
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	FeatureID string          `json:"featureId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection. A non-empty featureID limits the
// connection to events of that workflow.
type conn struct {
	ws        *websocket.Conn
	cancel    context.CancelFunc
	featureID string
}

func (c *conn) wants(featureID string) bool {
	return c.featureID == "" || featureID == "" || c.featureID == featureID
}

// Hub manages all active WebSocket connections and broadcasts messages.
// Events are queued and written in order by a single delivery goroutine.
type Hub struct {
	mu             sync.RWMutex
	conns          map[*conn]struct{}
	originPatterns []string

	out       chan Message
	done      chan struct{}
	closeOnce sync.Once
	workers   sync.WaitGroup
	dropped   atomic.Int64
}

// NewHub creates a new WebSocket hub. allowedOrigin is the dashboard origin
// permitted to connect; empty or "*" accepts any origin.
func NewHub(allowedOrigin string) *Hub {
	h := &Hub{
		conns: make(map[*conn]struct{}),
		out:   make(chan Message, queueSize),
		done:  make(chan struct{}),
	}
	if allowedOrigin != "" && allowedOrigin != "*" {
		if u, err := url.Parse(allowedOrigin); err == nil && u.Host != "" {
			h.originPatterns = []string{u.Host}
		}
	}
	h.workers.Add(1)
	go h.deliver()
	return h
}

func (h *Hub) deliver() {
	defer h.workers.Done()
	for {
		select {
		case <-h.done:
			return
		case msg := <-h.out:
			h.Broadcast(context.Background(), msg)
		}
	}
}

// enqueue hands msg to the delivery goroutine. It never blocks: when the
// queue is full or the hub is closed the message is dropped.
func (h *Hub) enqueue(msg Message) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.out <- msg:
	default:
		if n := h.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("websocket queue full, dropping event", "type", msg.Type, "feature_id", msg.FeatureID, "dropped", n)
		}
	}
}

// DroppedCount returns the number of events dropped on a full queue.
func (h *Hub) DroppedCount() int64 {
	return h.dropped.Load()
}

// HandleWS upgrades the request to a WebSocket. The optional "feature" query
// parameter subscribes the client to a single workflow.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.originPatterns,
		InsecureSkipVerify: len(h.originPatterns) == 0,
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	// The request context ends when the handler returns; the connection outlives it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{ws: ws, cancel: cancel, featureID: r.URL.Query().Get("feature")}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr, "feature", c.featureID)

	// Read loop (to detect disconnects and consume pings)
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Broadcast writes a message to every client subscribed to its feature. It
// blocks until every write finishes or times out; event producers go through
// BroadcastEvent instead.
func (h *Hub) Broadcast(ctx context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if c.wants(msg.FeatureID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		err := c.ws.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			slog.Debug("websocket write failed", "error", err)
			h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close stops delivery and disconnects every client. Queued events that were
// not yet written are discarded.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.cancel()
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}
	h.workers.Wait()
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected", "feature", c.featureID)
	}
}
