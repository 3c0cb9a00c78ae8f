package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"licensecore/internal/events"
)

// Message types written to clients besides engine events
const (
	TypeConnection = "connection"
	TypeStatus     = "status"
)

// Message is the envelope of every frame on the event stream
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	TraceID   string      `json:"trace_id,omitempty"`
}

// HubStats is a snapshot of hub counters
type HubStats struct {
	ActiveClients    int   `json:"active_clients"`
	TotalConnections int64 `json:"total_connections"`
	MessagesSent     int64 `json:"messages_sent"`
	Dropped          int64 `json:"dropped"`
}

// Option configures a Hub
type Option func(*Hub)

// WithConnectionCounter tracks open connections on counter
func WithConnectionCounter(counter metric.Int64UpDownCounter) Option {
	return func(h *Hub) { h.conns = counter }
}

// WithSnapshot sends snapshot() to every client right after it connects so
// the presentation layer starts from current state
func WithSnapshot(snapshot func() interface{}) Option {
	return func(h *Hub) { h.snapshot = snapshot }
}

// Hub maintains the set of active clients and broadcasts messages to them.
// Client send channels are owned by the run loop.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	running bool
	quit    chan struct{}
	done    chan struct{}
	stats   HubStats

	conns    metric.Int64UpDownCounter
	snapshot func() interface{}
	logger   *slog.Logger
}

// NewHub creates a stopped hub
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket.hub")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start runs the hub loop. Calling it twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	go h.run()
}

// Stop disconnects every client and waits for the loop to exit. A stopped
// hub cannot be restarted.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.done
}

func (h *Hub) run() {
	defer close(h.done)
	ctx := context.Background()

	for {
		select {
		case <-h.quit:
			for c := range h.clients {
				h.drop(ctx, c)
			}
			h.logger.Info("hub stopped")
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.addConn(c.context(), 1)
			h.mu.Lock()
			h.stats.TotalConnections++
			h.stats.ActiveClients = len(h.clients)
			h.mu.Unlock()

			h.logger.InfoContext(c.context(), "client registered",
				slog.String("client_id", c.id),
				slog.String("remote_addr", c.remoteAddr),
				slog.Int("total_clients", len(h.clients)))
			h.greet(c)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c.context(), c)
				h.logger.InfoContext(c.context(), "client unregistered",
					slog.String("client_id", c.id),
					slog.Duration("connection_duration", time.Since(c.connectedAt)),
					slog.Int("total_clients", len(h.clients)))
			}

		case message := <-h.broadcast:
			sent := 0
			for c := range h.clients {
				select {
				case c.send <- message:
					sent++
				default:
					h.logger.WarnContext(c.context(), "client send buffer full, disconnecting",
						slog.String("client_id", c.id))
					h.drop(c.context(), c)
					h.mu.Lock()
					h.stats.Dropped++
					h.mu.Unlock()
				}
			}
			h.mu.Lock()
			h.stats.MessagesSent += int64(sent)
			h.mu.Unlock()
		}
	}
}

// drop removes c and closes its send channel. Run loop only.
func (h *Hub) drop(ctx context.Context, c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.addConn(ctx, -1)
	h.mu.Lock()
	h.stats.ActiveClients = len(h.clients)
	h.mu.Unlock()
}

func (h *Hub) addConn(ctx context.Context, delta int64) {
	if h.conns != nil {
		h.conns.Add(ctx, delta)
	}
}

// greet queues the connection message and the optional status snapshot
func (h *Hub) greet(c *Client) {
	frames := []Message{{
		Type: TypeConnection,
		Data: map[string]interface{}{
			"status":    "connected",
			"client_id": c.id,
		},
		Timestamp: time.Now().UTC(),
		TraceID:   c.traceID,
	}}
	if h.snapshot != nil {
		frames = append(frames, Message{Type: TypeStatus, Data: h.snapshot(), Timestamp: time.Now().UTC()})
	}

	for _, m := range frames {
		data, err := json.Marshal(m)
		if err != nil {
			h.logger.Error("failed to marshal greeting", slog.String("error", err.Error()))
			return
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client buffer full while greeting", slog.String("client_id", c.id))
		}
	}
}

// Register adds a client. A stopped hub closes the connection instead.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.quit:
		_ = c.conn.Close()
	}
}

// Unregister removes a client. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Broadcast queues an envelope for every client. It never blocks once the
// hub is stopped.
func (h *Hub) Broadcast(messageType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: messageType, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		h.logger.Error("failed to marshal broadcast",
			slog.String("message_type", messageType),
			slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- payload:
	case <-h.quit:
	}
}

// PublishEvent broadcasts an engine event under its own type
func (h *Hub) PublishEvent(e events.Event) {
	h.Broadcast(string(e.Type), e)
}

// Forward relays bus events to clients until ctx is cancelled
func (h *Hub) Forward(ctx context.Context, bus *events.Bus) {
	ch, cancel := bus.Channel(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.quit:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			h.PublishEvent(e)
		}
	}
}

// Stats returns current counters
func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	return h.Stats().ActiveClients
}
