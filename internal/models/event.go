package models

import "encoding/json"

// Websocket event names.
const (
	EventSendMessage     = "send_message"
	EventReceiveMessage  = "receive_message"
	EventTypingStart     = "typing_start"
	EventTypingStop      = "typing_stop"
	EventUserTypingStart = "user_typing_start"
	EventUserTypingStop  = "user_typing_stop"
	EventMessageError    = "message_error"
	EventSessionReplaced = "session_replaced"
)

// Rejection reasons carried by message_error events.
const (
	ReasonInvalidPayload = "invalid_payload"
	ReasonSenderMismatch = "sender_mismatch"
	ReasonPersistFailed  = "persist_failed"
	ReasonUnknownEvent   = "unknown_event"
)

// Event is the envelope exchanged over the websocket in both directions.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SendMessagePayload is the body of a send_message event.
type SendMessagePayload struct {
	From            string `json:"from"`
	To              string `json:"to"`
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// TypingPayload is the body of typing events in both directions.
type TypingPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ErrorPayload is sent back to the originating connection when an event is rejected.
type ErrorPayload struct {
	Event           string `json:"event"`
	Reason          string `json:"reason"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
	Message         string `json:"message,omitempty"`
}

// NewEvent marshals data into an envelope ready to be written to a connection.
func NewEvent(name string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Event: name, Data: raw})
}
