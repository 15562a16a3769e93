// Package wsbus pushes gateway notifications to WebSocket clients.
//
// Clients connect to the hub's HTTP handler and may narrow what they receive
// with a topic pattern, using the same rules as bus.Bus:
//
//	ws://gateway:9090/ws/notifications?topic=DATA/*
//
// Every frame is a bus.Envelope JSON document. A client whose send buffer is
// full is disconnected rather than slowing down the gateway.
package wsbus

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/bus"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/health"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/metric"
	"github.com/eclipse-sensinact/org.eclipse.sensinact.gateway-sub021/notification"
)

const (
	sinkName = "websocket"

	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

type client struct {
	conn    *websocket.Conn
	pattern string
	send    chan []byte
	done    chan struct{}

	connectedAt time.Time
	closeOnce   sync.Once
	closed      atomic.Bool
}

// Hub is a notification.Sink and an http.Handler
type Hub struct {
	upgrader   websocket.Upgrader
	sendBuffer int
	logger     *slog.Logger
	metrics    *metric.Metrics

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	published atomic.Int64
	dropped   atomic.Int64
}

var (
	_ notification.Sink = (*Hub)(nil)
	_ http.Handler      = (*Hub)(nil)
)

// NewHub creates a hub buffering up to sendBuffer frames per client
func NewHub(sendBuffer int, logger *slog.Logger, metrics *metric.Metrics) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sendBuffer: sendBuffer,
		logger:     logger.With("sink", sinkName),
		metrics:    metrics,
		clients:    make(map[*client]struct{}),
		shutdown:   make(chan struct{}),
	}
}

// ServeHTTP upgrades the request and registers the client
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("topic")
	if pattern == "" {
		pattern = "*"
	}
	if err := bus.ValidatePattern(pattern); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	select {
	case <-h.shutdown:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:        conn,
		pattern:     pattern,
		send:        make(chan []byte, h.sendBuffer),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}

	count, ok := h.register(c)
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	h.logger.Debug("WebSocket client connected",
		"remote", r.RemoteAddr,
		"pattern", pattern,
		"clients", count)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// register adds c and accounts for its two loops unless the hub is closed.
// Close shuts the hub under clientsMu, so its Wait sees every Add made here.
func (h *Hub) register(c *client) (int, bool) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	select {
	case <-h.shutdown:
		return 0, false
	default:
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	return len(h.clients), true
}

// readLoop drains client frames so control messages are processed
func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer h.removeClient(c, "closed")

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-h.shutdown:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			h.removeClient(c, "shutdown")
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.removeClient(c, "write_error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.removeClient(c, "ping_error")
				return
			}
		}
	}
}

func (h *Hub) removeClient(c *client, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)

		h.clientsMu.Lock()
		delete(h.clients, c)
		count := len(h.clients)
		h.clientsMu.Unlock()

		_ = c.conn.Close()
		h.logger.Debug("WebSocket client removed",
			"reason", reason,
			"connected_for", time.Since(c.connectedAt),
			"clients", count)
	})
}

// Deliver queues the notification for every client whose pattern matches
func (h *Hub) Deliver(topic string, n notification.Notification) {
	h.clientsMu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if !c.closed.Load() && bus.Match(c.pattern, topic) {
			targets = append(targets, c)
		}
	}
	h.clientsMu.RUnlock()

	if len(targets) == 0 {
		return
	}

	_, data, err := bus.Encode(topic, n)
	if err != nil {
		h.metrics.RecordSinkError(sinkName)
		h.logger.Error("Failed to encode notification", "topic", topic, "error", err)
		return
	}

	for _, c := range targets {
		select {
		case c.send <- data:
			h.published.Add(1)
			h.metrics.RecordSinkPublished(sinkName)
		default:
			h.dropped.Add(1)
			h.metrics.RecordSinkError(sinkName)
			h.logger.Warn("Dropping slow WebSocket client", "pattern", c.pattern)
			h.removeClient(c, "slow")
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Health is always healthy while the hub runs; counters show drops
func (h *Hub) Health() health.Status {
	var st health.Status
	select {
	case <-h.shutdown:
		st = health.NewUnhealthy(sinkName, "stopped")
	default:
		st = health.NewHealthy(sinkName, "accepting clients")
	}
	h.metrics.RecordHealth(sinkName, st.Healthy)
	return st.WithMetrics(&health.Metrics{
		Published:  h.published.Load(),
		ErrorCount: h.dropped.Load(),
	})
}

// Close disconnects every client and waits for their goroutines
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		h.clientsMu.Lock()
		close(h.shutdown)
		h.clientsMu.Unlock()
	})
	h.wg.Wait()
}
