package hub

import (
	"time"

	"github.com/gofiber/contrib/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // must be less than pongWait

	// Control commands are small JSON envelopes
	maxMessageSize = 4 * 1024

	sendBuffer = 64
)

// Handler receives text messages read from a client. It runs on the
// client's read goroutine; replies go through Client.Send.
type Handler func(c *Client, data []byte)

// Client is one websocket connection attached to a hub.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message
	handle Handler
}

// NewClient registers a connection with the hub. handle may be nil for
// receive-only clients. It returns nil if the hub has stopped.
func NewClient(hub *Hub, conn *websocket.Conn, handle Handler) *Client {
	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		handle: handle,
	}
	select {
	case hub.register <- client:
		return client
	case <-hub.done:
		return nil
	}
}

// Send queues a message for this client only. It reports false when the
// client is gone or its buffer is full.
func (c *Client) Send(msg Message) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Run pumps the connection until it closes.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if c.handle != nil && kind == websocket.TextMessage {
			c.handle(c, data)
			// Training can hold the handler longer than pongWait
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}
}

// writePump is the only goroutine that writes to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			frame := websocket.TextMessage
			if msg.Kind == KindFrame {
				frame = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(frame, msg.Data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
