package observability

import (
	"context"
	"time"
)

// Routing keys for realtime lifecycle events.
const (
	RoutingSessionEvents = "ws_events.session"
	RoutingUIEvents      = "ws_events.ui"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// Identity describes who owns a websocket connection.
type Identity struct {
	UserID   string `json:"user_id,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	IP       string `json:"ip,omitempty"`
}

// WSEvent is the payload of every ws_events message.
type WSEvent struct {
	Kind       string `json:"kind"`
	ResourceID string `json:"resource_id,omitempty"`
	Event      string `json:"event"`
	ConnID     string `json:"conn_id,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason"`
}

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

// PublishWSEvent counts a websocket event and publishes it on routingKey.
func PublishWSEvent(ctx context.Context, routingKey string, ev WSEvent, identity Identity, since time.Time, headers map[string]string) {
	if !since.IsZero() {
		ev.DurationMS = time.Since(since).Milliseconds()
	}
	IncWSEvent(ev.Kind, ev.Event)
	_ = PublishEvent(ctx, routingKey, EventEnvelope{
		EventType: "ws_events",
		EventName: ev.Event,
		Payload: map[string]interface{}{
			"ws":       ev,
			"identity": identity,
		},
	}, headers)
}
