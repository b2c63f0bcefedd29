package telemetry

import (
	"context"
	"log"
	"time"

	"hobbymeet-sync/internal/observability"
)

// Publisher delivers JSON events with transport headers.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

const (
	AuditSessionStarted = "session_started"
	AuditSessionEnded   = "session_ended"
	AuditManual         = "manual"
)

// AuditEmitter publishes session audit records.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Action string `json:"action"`
	Level  string `json:"level"`
	Text   string `json:"text"`
	Reason string `json:"reason,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Emit publishes a free-form audit line.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	e.record(ctx, AuditPayload{Action: AuditManual, Level: level, Text: text}, requestID, userID)
}

// SessionStarted records a login or a resumed session.
func (e *AuditEmitter) SessionStarted(ctx context.Context, requestID, userID string) {
	e.record(ctx, AuditPayload{Action: AuditSessionStarted, Level: "INFO", Text: "session started"}, requestID, optional(userID))
}

// SessionEnded records a logout or a rejected credential.
func (e *AuditEmitter) SessionEnded(ctx context.Context, requestID, userID, reason string) {
	e.record(ctx, AuditPayload{Action: AuditSessionEnded, Level: "INFO", Text: "session ended", Reason: reason}, requestID, optional(userID))
}

func (e *AuditEmitter) record(ctx context.Context, payload AuditPayload, requestID string, userID *string) {
	if e == nil || e.publisher == nil {
		return
	}

	log.Printf("audit emit: action=%s level=%s request_id=%s user_id=%s text=%q", payload.Action, payload.Level, requestID, deref(userID), payload.Text)
	envelope := AuditEnvelope{
		SchemaVersion: 2,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}
	headers := observability.BuildHeaders(requestID, "")
	if err := e.publisher.PublishJSON(ctx, e.routingKey, envelope, headers); err != nil {
		log.Printf("audit publish failed action=%s: %v", payload.Action, err)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
