// Package ws is the WebSocket transport: connection registry, per-room
// subscriber sets and named-event fan-out. It knows nothing about rooms or
// battles beyond their string IDs.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Envelope is one inbound frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	ID    string          `json:"id,omitempty"`
}

// Outgoing is one outbound frame.
type Outgoing struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	ID    string `json:"id,omitempty"`
}

// EventFunc handles one inbound frame from a client.
type EventFunc func(c *Client, env Envelope)

// DisconnectFunc runs after a client's connection is gone.
type DisconnectFunc func(c *Client)

// Hub tracks live connections and their room subscriptions. Delivery is
// at-least-once within a connection's lifetime and per-recipient ordered:
// every client drains its own buffered queue through a single writer.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client // roomID -> connID -> client

	onEvent      EventFunc
	onDisconnect DisconnectFunc
}

// NewHub creates a hub.
func NewHub(onEvent EventFunc, onDisconnect DisconnectFunc) *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		rooms:        make(map[string]map[string]*Client),
		onEvent:      onEvent,
		onDisconnect: onDisconnect,
	}
}

// add registers a client.
func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	slog.Debug("connection registered", "conn_id", c.ID)
}

// remove unregisters a client and every subscription it held.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	for roomID, subs := range h.rooms {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
	slog.Debug("connection removed", "conn_id", c.ID)
}

// JoinRoomChannel subscribes a connection to a room channel.
func (h *Hub) JoinRoomChannel(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][connID] = c
}

// LeaveRoomChannel unsubscribes a connection from a room channel.
func (h *Hub) LeaveRoomChannel(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.rooms, roomID)
	}
}

// Broadcast queues a named event for every subscriber of a room.
func (h *Hub) Broadcast(roomID, event string, payload any) {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.rooms[roomID]))
	for _, c := range h.rooms[roomID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	msg := Outgoing{Event: event, Data: payload}
	for _, c := range targets {
		c.enqueue(msg)
	}
}

// Send queues a named event for one connection.
func (h *Hub) Send(connID, event string, payload any) {
	h.SendReply(connID, event, payload, "")
}

// SendReply queues a named event carrying a request correlation ID.
func (h *Hub) SendReply(connID, event string, payload any, requestID string) {
	h.mu.Lock()
	c, ok := h.clients[connID]
	h.mu.Unlock()
	if !ok {
		return
	}
	c.enqueue(Outgoing{Event: event, Data: payload, ID: requestID})
}

// Subscribers reports how many connections listen on a room channel.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}
