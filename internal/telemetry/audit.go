package telemetry

import (
	"context"
	"log"
	"time"

	"presence-service/internal/observability"
)

// RoutingKeyAudit is the topic audit envelopes are published under.
const RoutingKeyAudit = "audit.presence"

// Publisher is the event publisher the emitter writes to.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// AuditEmitter publishes user-action audit records for the HTTP handlers.
type AuditEmitter struct {
	publisher   Publisher
	service     string
	environment string
	now         func() time.Time
}

// AuditEnvelope is the wire shape published under RoutingKeyAudit.
type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        string       `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

// AuditPayload describes one user action and how it ended.
type AuditPayload struct {
	Action  string `json:"action"`
	Outcome string `json:"outcome"`
	Target  string `json:"target,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// NewAuditEmitter returns an emitter stamping envelopes with service and
// environment. publisher may be nil, in which case Emit does nothing.
func NewAuditEmitter(publisher Publisher, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Emit publishes an audit envelope. A nil emitter does nothing; publish
// failures are logged and counted.
func (e *AuditEmitter) Emit(ctx context.Context, requestID, userID string, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}

	if err := e.publisher.PublishJSON(ctx, RoutingKeyAudit, envelope, observability.BuildHeaders(requestID, "")); err != nil {
		observability.IncAMQPPublishError()
		log.Printf("audit publish failed action=%s request_id=%s: %v", payload.Action, requestID, err)
	}
}
