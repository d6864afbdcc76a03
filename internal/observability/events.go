package observability

// Routing keys for published events.
const (
	RoutingKeyPresence = "ws_events.presence"
	RoutingKeyMessages = "chat.messages"
)

// EventEnvelope wraps connection lifecycle events on the presence topic.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// BuildHeaders returns the AMQP headers carrying request and trace ids,
// omitting empty values.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
