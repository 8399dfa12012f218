// Package wshub implements the OSCQuery WebSocket hub: the connected client
// set, per-client path-prefix subscriptions, and notification fan-out.
package wshub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/defektu/oscquery/metric"
	"github.com/defektu/oscquery/osc"
)

// Commands of the OSCQuery WebSocket protocol.
const (
	CommandListen      = "LISTEN"
	CommandIgnore      = "IGNORE"
	CommandPathChanged = "PATH_CHANGED"
	CommandPathRenamed = "PATH_RENAMED"
)

// Command is the JSON frame shape for both directions.
type Command struct {
	Command string          `json:"COMMAND"`
	Data    json.RawMessage `json:"DATA,omitempty"`
}

// RenameData is the DATA payload of a PATH_RENAMED notification.
type RenameData struct {
	Old string `json:"OLD"`
	New string `json:"NEW"`
}

// OSCHandler receives OSC messages decoded from binary WebSocket frames.
type OSCHandler func(path string, args []any)

// HubDeps holds runtime dependencies for the hub.
type HubDeps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	OSCHandler      OSCHandler
}

// Hub owns the WebSocket client registry and performs broadcasts. Broadcast
// frames are serialized once and enqueued per client; each client has a
// single writer goroutine, so per-client delivery order matches enqueue
// order.
type Hub struct {
	logger     *slog.Logger
	metrics    *metric.Metrics
	oscHandler OSCHandler

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]struct{}

	running atomic.Bool
}

// NewHub creates a WebSocket hub.
func NewHub(deps HubDeps) *Hub {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "ws-hub")
	}

	return &Hub{
		logger:     logger,
		metrics:    deps.MetricsRegistry.CoreMetrics(),
		oscHandler: deps.OSCHandler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The OSCQuery surface is open by design of the protocol; CORS
			// on the HTTP side is equally permissive.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		clients: make(map[*Client]struct{}),
	}
}

// Start marks the hub as accepting connections.
func (h *Hub) Start() {
	h.running.Store(true)
}

// Running reports whether the hub is accepting connections. HOST_INFO
// advertises the LISTEN/PATH_CHANGED extensions only while true.
func (h *Hub) Running() bool {
	return h.running.Load()
}

// ServeHTTP upgrades an HTTP request to a WebSocket connection and registers
// the client. It satisfies http.Handler so the hub can be attached to the
// query server's mux or to a standalone listener.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.running.Load() {
		http.Error(w, "hub not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	client := newClient(h, conn)
	h.register(client)

	go client.writePump()
	go client.readPump()
}

// register adds a client to the hub.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClientsActive.Inc()
		h.metrics.WSClientsTotal.Inc()
	}
	h.logger.Debug("WebSocket client connected", "client", c.ID(), "remote", c.conn.RemoteAddr())
}

// unregister removes a client and closes its socket. Safe to call multiple
// times; only the first call takes effect.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if !present {
		return
	}

	c.close()
	if h.metrics != nil {
		h.metrics.WSClientsActive.Dec()
		h.metrics.SubscriptionsSet.Sub(float64(c.subscriptionCount()))
	}
	h.logger.Debug("WebSocket client disconnected", "client", c.ID())
}

// snapshot copies the client set so broadcasts tolerate concurrent removal.
func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastPathChanged notifies subscribers whose prefix matches path.
func (h *Hub) BroadcastPathChanged(path string) {
	data, err := json.Marshal(path)
	if err != nil {
		return
	}
	frame, err := json.Marshal(Command{Command: CommandPathChanged, Data: data})
	if err != nil {
		return
	}

	if h.metrics != nil {
		h.metrics.Notifications.WithLabelValues(CommandPathChanged).Inc()
	}

	for _, c := range h.snapshot() {
		if !c.matches(path) {
			continue
		}
		h.send(c, websocket.TextMessage, frame)
	}
}

// BroadcastPathRenamed notifies every client of a rename; renames are not
// subject to prefix filtering.
func (h *Hub) BroadcastPathRenamed(oldPath, newPath string) {
	data, err := json.Marshal(RenameData{Old: oldPath, New: newPath})
	if err != nil {
		return
	}
	frame, err := json.Marshal(Command{Command: CommandPathRenamed, Data: data})
	if err != nil {
		return
	}

	if h.metrics != nil {
		h.metrics.Notifications.WithLabelValues(CommandPathRenamed).Inc()
	}

	for _, c := range h.snapshot() {
		h.send(c, websocket.TextMessage, frame)
	}
}

// BroadcastOSC encodes an OSC message once and delivers the binary frame to
// subscribers whose prefix matches the path.
func (h *Hub) BroadcastOSC(path string, args []any) {
	frame, skipped := osc.Encode(path, args)
	if len(skipped) > 0 {
		h.logger.Warn("unsupported argument types skipped in OSC broadcast",
			"path", path, "indices", skipped)
		if h.metrics != nil {
			h.metrics.OSCEncodeSkipped.Add(float64(len(skipped)))
		}
	}

	if h.metrics != nil {
		h.metrics.Notifications.WithLabelValues("OSC").Inc()
	}

	for _, c := range h.snapshot() {
		if !c.matches(path) {
			continue
		}
		h.send(c, websocket.BinaryMessage, frame)
	}
}

// send enqueues a frame for one client. A client whose queue is stalled or
// whose socket already failed is deregistered; the broadcast continues for
// the remaining clients.
func (h *Hub) send(c *Client, messageType int, data []byte) {
	if c.enqueue(messageType, data) {
		if h.metrics != nil {
			kind := "json"
			if messageType == websocket.BinaryMessage {
				kind = "osc"
			}
			h.metrics.WSMessagesOut.WithLabelValues(kind).Inc()
		}
		return
	}

	if h.metrics != nil {
		h.metrics.WSSendFailures.Inc()
	}
	h.unregister(c)
}

// Stop disconnects every client and stops accepting new ones. Sockets are
// closed directly so shutdown does not hang on stalled clients.
func (h *Hub) Stop() {
	h.running.Store(false)

	for _, c := range h.snapshot() {
		h.unregister(c)
	}
}
