package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"presence-service/internal/models"
	"presence-service/internal/observability"
	"presence-service/internal/repositories"
)

// PresenceRecorder receives presence side effects. The hub calls it while
// holding the registry lock so calls for one user arrive in registration
// order; implementations must not block.
type PresenceRecorder interface {
	Online(userID string)
	Offline(userID string)
	Heartbeat(userID string)
}

// Options tunes a Hub.
type Options struct {
	MaxMessageLength int
	SendBuffer       int
}

// Hub routes events between registered connections.
type Hub struct {
	registry *Registry
	messages repositories.MessageStore
	recorder PresenceRecorder
	opts     Options
}

// NewHub creates a hub over registry. recorder may be nil.
func NewHub(registry *Registry, messages repositories.MessageStore, recorder PresenceRecorder, opts Options) *Hub {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 4000
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &Hub{registry: registry, messages: messages, recorder: recorder, opts: opts}
}

// IsOnline reports whether userID currently has a registered connection.
func (h *Hub) IsOnline(userID string) bool {
	_, ok := h.registry.Lookup(userID)
	return ok
}

// Online lists the connected user ids.
func (h *Hub) Online() []string {
	return h.registry.Online()
}

// Connect registers client as its user's active connection. A previous
// connection of the same user is told it was replaced and closed.
func (h *Hub) Connect(client *Client) {
	userID := client.info.UserID
	prev := h.registry.RegisterFunc(userID, client, func(*Client) {
		if h.recorder != nil {
			h.recorder.Online(userID)
		}
	})
	if prev != nil {
		prev.detached.Store(true)
		if payload, err := models.NewEvent(models.EventSessionReplaced, map[string]string{"conn_id": client.info.ConnID}); err == nil {
			prev.enqueue(payload)
		}
		prev.Close()
		observability.IncWSEvent("session_replaced")
		h.publishLifecycle("ws_replaced", prev.info, "superseded by "+client.info.ConnID)
		log.Printf("connection superseded user_id=%s old_conn=%s new_conn=%s", userID, prev.info.ConnID, client.info.ConnID)
	}

	observability.SetWSActive(h.registry.Len())
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle("ws_connect", client.info, "")
}

// Disconnect unregisters client and closes it. It runs on every close path;
// repeated calls for the same client are ignored.
func (h *Hub) Disconnect(client *Client, reason string) {
	userID := client.info.UserID
	h.registry.UnregisterFunc(userID, client, func() {
		if h.recorder != nil {
			h.recorder.Offline(userID)
		}
	})
	client.Close()
	if client.detached.Swap(true) {
		return
	}
	observability.SetWSActive(h.registry.Len())
	observability.IncWSEvent("ws_disconnect")
	h.publishLifecycle("ws_disconnect", client.info, reason)
}

// Close disconnects every registered client with reason. It is called on
// shutdown, after the listener stops accepting upgrades, so each user is
// recorded offline before the presence recorder drains.
func (h *Hub) Close(reason string) {
	clients := h.registry.Clients()
	for _, c := range clients {
		h.Disconnect(c, reason)
	}
	if len(clients) > 0 {
		log.Printf("hub closed reason=%s clients=%d", reason, len(clients))
	}
}

// HandleEvent decodes one inbound envelope and dispatches it. Failures are
// reported to the sender as message_error events and never propagate.
func (h *Hub) HandleEvent(ctx context.Context, client *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("event handler panic user_id=%s conn_id=%s: %v", client.info.UserID, client.info.ConnID, r)
		}
	}()

	var env models.Event
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		h.reject(client, models.ErrorPayload{Event: env.Event, Reason: models.ReasonInvalidPayload, Message: "malformed event"})
		return
	}
	switch env.Event {
	case models.EventSendMessage:
		observability.IncWSEvent(env.Event)
		var payload models.SendMessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			h.reject(client, models.ErrorPayload{Event: env.Event, Reason: models.ReasonInvalidPayload, Message: "malformed payload"})
			observability.IncMessage("rejected")
			return
		}
		if _, err := h.SendMessage(ctx, client.info.UserID, payload); err != nil {
			h.reject(client, models.ErrorPayload{
				Event:           env.Event,
				Reason:          reasonFor(err),
				ClientMessageID: payload.ClientMessageID,
				Message:         err.Error(),
			})
		}
	case models.EventTypingStart, models.EventTypingStop:
		observability.IncWSEvent(env.Event)
		var payload models.TypingPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			h.reject(client, models.ErrorPayload{Event: env.Event, Reason: models.ReasonInvalidPayload, Message: "malformed payload"})
			return
		}
		if err := h.RelayTyping(client.info.UserID, payload, env.Event == models.EventTypingStart); err != nil {
			h.reject(client, models.ErrorPayload{Event: env.Event, Reason: reasonFor(err), Message: err.Error()})
		}
	default:
		observability.IncWSEvent("unknown")
		h.reject(client, models.ErrorPayload{Event: env.Event, Reason: models.ReasonUnknownEvent, Message: "unknown event"})
	}
}

func (h *Hub) heartbeat(client *Client) {
	if h.recorder == nil {
		return
	}
	if cur, ok := h.registry.Lookup(client.info.UserID); ok && cur == client {
		h.recorder.Heartbeat(client.info.UserID)
	}
}

func (h *Hub) reject(client *Client, payload models.ErrorPayload) {
	data, err := models.NewEvent(models.EventMessageError, payload)
	if err != nil {
		return
	}
	if !client.enqueue(data) {
		log.Printf("dropped message_error user_id=%s reason=%s", client.info.UserID, payload.Reason)
	}
}

func (h *Hub) publishLifecycle(event string, info ConnInfo, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	_ = observability.PublishEvent(context.Background(), observability.RoutingKeyPresence, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
