package wshub

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/defektu/oscquery/osc"
)

// sendQueueSize bounds per-client outbound buffering; a client that cannot
// drain this many frames is considered stalled and is deregistered.
const sendQueueSize = 64

type outFrame struct {
	messageType int
	data        []byte
}

// Client is one WebSocket connection plus its subscribed path prefixes. The
// subscription set is owned by the connection's read goroutine; broadcasts
// take the read lock only.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	send chan outFrame
	done chan struct{}

	subsMu sync.RWMutex
	subs   map[string]struct{}

	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan outFrame, sendQueueSize),
		done: make(chan struct{}),
		subs: make(map[string]struct{}),
	}
}

// ID returns the client's connection identifier.
func (c *Client) ID() string {
	return c.id
}

// close tears down the socket and wakes the writer. Only the first call
// takes effect.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// enqueue hands a frame to the writer goroutine. It reports false when the
// client is gone or its queue is full.
func (c *Client) enqueue(messageType int, data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- outFrame{messageType: messageType, data: data}:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// writePump delivers queued frames in order until the client goes away.
func (c *Client) writePump() {
	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteMessage(frame.messageType, frame.data); err != nil {
				c.hub.unregister(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump classifies inbound frames: binary OSC messages are decoded and
// handed to the server's OSC hook, anything else is parsed as a JSON
// command. The pump deregisters the client on close or error.
func (c *Client) readPump() {
	defer c.hub.unregister(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		if osc.IsOSCFrame(data) {
			c.handleOSC(data)
			continue
		}
		c.handleCommand(data)
	}
}

func (c *Client) handleOSC(data []byte) {
	h := c.hub

	msg, err := osc.Decode(data)
	if err != nil {
		h.logger.Warn("malformed OSC frame from WebSocket client",
			"client", c.id, "error", err)
		if h.metrics != nil {
			h.metrics.OSCMalformed.Inc()
		}
		return
	}

	if h.metrics != nil {
		h.metrics.WSMessagesIn.WithLabelValues("osc").Inc()
		h.metrics.OSCDecoded.Inc()
	}

	if h.oscHandler != nil {
		h.oscHandler(msg.Path, msg.Args)
	}
}

func (c *Client) handleCommand(data []byte) {
	h := c.hub

	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		h.logger.Debug("unparseable WebSocket frame ignored", "client", c.id, "error", err)
		return
	}

	if h.metrics != nil {
		h.metrics.WSMessagesIn.WithLabelValues("json").Inc()
	}

	switch cmd.Command {
	case CommandListen:
		if path, ok := commandPath(cmd.Data); ok {
			c.subscribe(path)
		}
	case CommandIgnore:
		if path, ok := commandPath(cmd.Data); ok {
			c.unsubscribe(path)
		}
	default:
		// Unknown commands are ignored.
	}
}

// commandPath extracts the string DATA of a LISTEN/IGNORE command.
func commandPath(data json.RawMessage) (string, bool) {
	var path string
	if err := json.Unmarshal(data, &path); err != nil {
		return "", false
	}
	return path, true
}

func (c *Client) subscribe(path string) {
	c.subsMu.Lock()
	_, existed := c.subs[path]
	c.subs[path] = struct{}{}
	c.subsMu.Unlock()

	if !existed && c.hub.metrics != nil {
		c.hub.metrics.SubscriptionsSet.Inc()
	}
	c.hub.logger.Debug("client subscribed", "client", c.id, "prefix", path)
}

func (c *Client) unsubscribe(path string) {
	c.subsMu.Lock()
	_, existed := c.subs[path]
	delete(c.subs, path)
	c.subsMu.Unlock()

	if existed && c.hub.metrics != nil {
		c.hub.metrics.SubscriptionsSet.Dec()
	}
	c.hub.logger.Debug("client unsubscribed", "client", c.id, "prefix", path)
}

func (c *Client) subscriptionCount() int {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return len(c.subs)
}

// matches implements subscription matching: an empty set receives
// everything; otherwise the path must equal a subscribed prefix or extend it
// across a path boundary.
func (c *Client) matches(path string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()

	if len(c.subs) == 0 {
		return true
	}
	for sub := range c.subs {
		if path == sub || strings.HasPrefix(path, sub+"/") {
			return true
		}
	}
	return false
}
