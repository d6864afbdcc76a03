package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"presence-service/internal/models"
)

const writeWait = 10 * time.Second

// Conn is a user's websocket session with the presence service.
type Conn struct {
	ws      *websocket.Conn
	userID  string
	events  chan models.Event
	dropped atomic.Uint64

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewClientMessageID returns a fresh correlation id for an outgoing message.
func NewClientMessageID() string {
	return uuid.NewString()
}

// Dial opens the realtime channel at rawURL (e.g. ws://host:3001/ws) as userID.
// token may be empty when the server runs without authentication.
func Dial(ctx context.Context, rawURL, userID, token string) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", rawURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}

	c := &Conn{
		ws:     ws,
		userID: userID,
		events: make(chan models.Event, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// UserID returns the identity the connection was opened with.
func (c *Conn) UserID() string {
	return c.userID
}

// Events delivers inbound events. It is closed when the connection ends.
// Events arriving while the buffer is full are dropped and counted by
// Dropped; the read loop keeps running so the server's pings are answered.
func (c *Conn) Events() <-chan models.Event {
	return c.events
}

// Dropped returns how many inbound events were discarded because Events
// was not drained.
func (c *Conn) Dropped() uint64 {
	return c.dropped.Load()
}

// SendMessage emits send_message to peer. clientMessageID correlates the
// server's record with the caller's optimistic copy.
func (c *Conn) SendMessage(to, content, clientMessageID string) error {
	return c.emit(models.EventSendMessage, models.SendMessagePayload{
		From:            c.userID,
		To:              to,
		Content:         content,
		ClientMessageID: clientMessageID,
	})
}

// TypingStart tells peer the user started typing.
func (c *Conn) TypingStart(to string) error {
	return c.emit(models.EventTypingStart, models.TypingPayload{From: c.userID, To: to})
}

// TypingStop tells peer the user stopped typing.
func (c *Conn) TypingStop(to string) error {
	return c.emit(models.EventTypingStop, models.TypingPayload{From: c.userID, To: to})
}

// Close ends the session with a normal closure.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) emit(name string, data any) error {
	payload, err := models.NewEvent(name, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		select {
		case <-c.done:
			return
		default:
		}
		select {
		case c.events <- ev:
		default:
			c.dropped.Add(1)
		}
	}
}
