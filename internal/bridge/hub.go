// Package bridge fans inspector events out to connected UI clients:
// enriched records, schema updates, and reflection status transitions
// broadcast as websocket events, with a small REST surface for the
// pull-model calls.
package bridge

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub manages websocket connections and broadcasts bridge events to all
// of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	broadcast chan []byte

	register   chan *Client
	unregister chan *Client
}

// Client represents one websocket connection into the bridge.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty Hub. Callers must run Run in its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the hub's event loop; it owns h.clients and must run in exactly
// one goroutine for the session's lifetime.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// client buffer full, drop rather than block the hub
				}
			}
			h.mu.RUnlock()
		}
	}
}

// event is the discriminated envelope every bridge broadcast uses, so a
// single websocket stream can carry on_record/on_schema_updated/
// on_reflection_status without a second channel.
type event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// broadcastEvent marshals and enqueues one event; a full broadcast buffer
// drops the event rather than blocking the caller; the core never
// applies backpressure to capture.
func (h *Hub) broadcastEvent(kind string, data any) {
	payload, err := json.Marshal(event{Type: kind, Data: data})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- payload:
	default:
	}
}

// ClientCount reports how many websocket clients are currently attached.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a new client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// NewClient wraps an already-upgraded websocket connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// WritePump pumps queued events to the underlying connection until it
// closes or the send channel is closed by Unregister.
func (c *Client) WritePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// ReadPump drains inbound frames (the bridge is broadcast-only) until the
// connection closes, then unregisters the client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
