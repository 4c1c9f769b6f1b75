package arena

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Connection is one live websocket session. The hub writes through the buffered send
// channel; a dedicated writer goroutine drains it onto the socket.
type Connection struct {
	id      string
	remote  string
	ws      *websocket.Conn
	send    chan []byte
	limiter *SlidingWindowLimiter

	mu       sync.Mutex
	playerID string
	closed   bool
}

func newConnection(id, remote string, ws *websocket.Conn, buffer int, limiter *SlidingWindowLimiter) *Connection {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Connection{
		id:      id,
		remote:  remote,
		ws:      ws,
		send:    make(chan []byte, buffer),
		limiter: limiter,
	}
}

// ID returns the connection identifier assigned at upgrade time.
func (c *Connection) ID() string { return c.id }

// Remote returns the peer address reported by the HTTP request.
func (c *Connection) Remote() string { return c.remote }

// PlayerID returns the player bound by the most recent accepted message, if any.
func (c *Connection) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// Outbound exposes the queued payloads. The channel is closed once the hub gives up on
// the connection.
func (c *Connection) Outbound() <-chan []byte { return c.send }

func (c *Connection) bind(playerID string) {
	c.mu.Lock()
	c.playerID = playerID
	c.mu.Unlock()
}

// enqueue never blocks. It reports false when the connection is closed or its buffer is full.
func (c *Connection) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel once; the writer then closes the socket.
func (c *Connection) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
