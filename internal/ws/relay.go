package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"presence-service/internal/models"
	"presence-service/internal/observability"
)

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrInvalidTyping  = errors.New("invalid typing signal")
	ErrSenderMismatch = errors.New("sender does not match connection")
	ErrPersistFailed  = errors.New("message could not be stored")
)

var tracer = otel.Tracer("presence-service/ws")

// SendMessage stores a message and forwards it to the recipient's live
// connection, if any. The message is persisted before any forward is
// attempted and is never forwarded when persistence fails. sender is the
// authenticated identity; when non-empty it must match req.From.
func (h *Hub) SendMessage(ctx context.Context, sender string, req models.SendMessagePayload) (models.Message, error) {
	if err := h.validateMessage(sender, req); err != nil {
		observability.IncMessage("rejected")
		return models.Message{}, err
	}

	ctx, span := tracer.Start(ctx, "relay.send_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("message.from", req.From),
		attribute.String("message.to", req.To),
		attribute.Bool("message.has_client_id", req.ClientMessageID != ""),
	)

	msg, err := h.messages.CreateMessage(ctx, models.NewMessage{
		From:            req.From,
		To:              req.To,
		Content:         req.Content,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		observability.IncMessage("failed")
		log.Printf("message persist failed from=%s to=%s client_message_id=%s: %v", req.From, req.To, req.ClientMessageID, err)
		return models.Message{}, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	observability.IncMessage("persisted")

	delivered := h.deliver(msg)
	span.SetAttributes(attribute.Bool("message.delivered", delivered))

	_ = observability.PublishEvent(ctx, observability.RoutingKeyMessages, observability.EventEnvelope{
		EventType: "chat_events",
		EventName: "message_sent",
		Payload: map[string]interface{}{
			"id":                msg.ID,
			"from":              msg.From,
			"to":                msg.To,
			"client_message_id": msg.ClientMessageID,
			"delivered":         delivered,
			"timestamp":         msg.Timestamp,
		},
	}, observability.BuildHeaders("", span.SpanContext().TraceID().String()))

	return msg, nil
}

// RelayTyping forwards a typing start/stop signal to the addressed peer.
// Unreachable peers are ignored; nothing is stored.
func (h *Hub) RelayTyping(sender string, signal models.TypingPayload, start bool) error {
	if signal.From == "" || signal.To == "" {
		observability.IncTyping("rejected")
		return ErrInvalidTyping
	}
	if sender != "" && signal.From != sender {
		observability.IncTyping("rejected")
		return ErrSenderMismatch
	}

	target, ok := h.registry.Lookup(signal.To)
	if !ok {
		observability.IncTyping("dropped")
		return nil
	}

	event := models.EventUserTypingStop
	if start {
		event = models.EventUserTypingStart
	}
	payload, err := models.NewEvent(event, models.TypingPayload{From: signal.From, To: signal.To})
	if err != nil {
		return err
	}
	if !target.enqueue(payload) {
		observability.IncTyping("dropped")
		return nil
	}
	observability.IncTyping("forwarded")
	return nil
}

func (h *Hub) validateMessage(sender string, req models.SendMessagePayload) error {
	if req.From == "" || req.To == "" || strings.TrimSpace(req.Content) == "" {
		return fmt.Errorf("%w: from, to and content are required", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(req.Content) > h.opts.MaxMessageLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrInvalidMessage, h.opts.MaxMessageLength)
	}
	if sender != "" && req.From != sender {
		return ErrSenderMismatch
	}
	return nil
}

// deliver looks the recipient up after persistence completed and enqueues
// receive_message. A recipient whose buffer is full is disconnected; the
// message stays available through history.
func (h *Hub) deliver(msg models.Message) bool {
	target, ok := h.registry.Lookup(msg.To)
	if !ok {
		observability.IncMessage("offline")
		return false
	}

	payload, err := models.NewEvent(models.EventReceiveMessage, msg)
	if err != nil {
		log.Printf("encode receive_message id=%s: %v", msg.ID, err)
		return false
	}
	if !target.enqueue(payload) {
		observability.IncMessage("dropped")
		log.Printf("recipient send buffer full user_id=%s conn_id=%s, disconnecting", msg.To, target.info.ConnID)
		h.Disconnect(target, "send buffer full")
		return false
	}
	observability.IncMessage("delivered")
	return true
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrSenderMismatch):
		return models.ReasonSenderMismatch
	case errors.Is(err, ErrPersistFailed):
		return models.ReasonPersistFailed
	default:
		return models.ReasonInvalidPayload
	}
}
