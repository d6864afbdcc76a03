package ws

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"presence-service/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 * 1024
)

var pingPeriod = (pongWait * 9) / 10

// Client is one user's live websocket connection. Events read from the
// connection are handled one at a time, in order; outbound events go
// through a buffered channel drained by the write pump.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	info ConnInfo

	done      chan struct{}
	closeOnce sync.Once
	detached  atomic.Bool
}

func newClient(hub *Hub, conn *websocket.Conn, info ConnInfo, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, buffer),
		info: info,
		done: make(chan struct{}),
	}
}

// UserID returns the identity that owns the connection.
func (c *Client) UserID() string {
	return c.info.UserID
}

// Info returns the connection metadata.
func (c *Client) Info() ConnInfo {
	return c.info
}

// enqueue hands payload to the write pump without blocking. It reports
// false when the connection is closing or its buffer is full.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close asks the write pump to flush pending events and close the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) readPump(ctx context.Context) {
	reason := "closed"
	defer func() {
		c.hub.Disconnect(c, reason)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.hub.heartbeat(c)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			reason = err.Error()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("websocket read error user_id=%s conn_id=%s: %v", c.info.UserID, c.info.ConnID, err)
				observability.IncWSEvent("ws_error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.HandleEvent(ctx, c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				log.Printf("websocket write error user_id=%s conn_id=%s: %v", c.info.UserID, c.info.ConnID, err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				log.Printf("websocket ping error user_id=%s conn_id=%s: %v", c.info.UserID, c.info.ConnID, err)
				return
			}
		case <-c.done:
			c.drain()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) drain() {
	for {
		select {
		case payload := <-c.send:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) write(messageType int, payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, payload)
}
