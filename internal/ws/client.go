package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client is one live WebSocket connection.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn

	send      chan Outgoing
	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an upgraded connection and starts its pumps.
func (h *Hub) NewClient(conn *websocket.Conn) *Client {
	c := &Client{
		ID:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan Outgoing, sendBuffer),
		done: make(chan struct{}),
	}
	h.add(c)
	go c.writePump()
	go c.readPump()
	return c
}

// enqueue hands a frame to the writer. A client that cannot drain its queue
// is dropped rather than allowed to stall the room.
func (c *Client) enqueue(msg Outgoing) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		slog.Warn("send buffer full, dropping connection", "conn_id", c.ID)
		c.Close()
	}
}

// Close tears the connection down once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.hub.remove(c)
		if c.hub.onDisconnect != nil {
			c.hub.onDisconnect(c)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("read error", "conn_id", c.ID, "error", err)
			}
			return
		}
		if env.Event == "" {
			continue
		}
		if c.hub.onEvent != nil {
			c.hub.onEvent(c, env)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Debug("write error", "conn_id", c.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
