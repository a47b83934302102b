package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds a single inbound frame.
	maxMessageSize = 4096
)

var (
	// ErrSendQueueFull is returned by Send when the client is not draining
	// its queue. The client is closed as a consequence.
	ErrSendQueueFull = errors.New("ws: client send queue full")

	// ErrClientClosed is returned by Send after the client has been closed.
	ErrClientClosed = errors.New("ws: client closed")
)

// client is one WebSocket connection. It implements registry.Sender.
type client struct {
	id   string // registry session id, set once before the pumps start
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(conn *websocket.Conn, bufSize int) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, bufSize),
	}
}

// Send queues msg for the write pump without blocking. A full queue closes
// the client so a stalled socket cannot hold up anyone else.
func (c *client) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		c.closed = true
		close(c.send)
		return ErrSendQueueFull
	}
}

// close stops the write pump, which then closes the connection. Safe to call
// more than once.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump drains the send queue to the connection and sends periodic ping
// frames. Runs in its own goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				// Queue closed: hub shutdown, overflow or disconnect.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump hands every data frame to onMessage until the connection fails or
// closes. It blocks, so the caller's deferred cleanup runs on disconnect.
func (c *client) readPump(onMessage func([]byte)) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		onMessage(data)
	}
}
