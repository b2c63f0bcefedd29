package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/observability"
)

// UIHandler upgrades UI clients onto the change stream.
type UIHandler struct {
	hub      *Hub
	snapshot func() models.SessionStatus
}

// NewUIHandler constructs a UIHandler. snapshot supplies the session status
// sent to every new subscriber.
func NewUIHandler(hub *Hub, snapshot func() models.SessionStatus) *UIHandler {
	return &UIHandler{hub: hub, snapshot: snapshot}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle serves GET /ws/updates?room_id=.
func (h *UIHandler) Handle(c *gin.Context) {
	room := c.Query("room_id")

	ctx, span := otel.Tracer("hobbymeet-sync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	status := h.snapshot()
	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := SubscriberInfo{
		ConnID:    newConnID(),
		UserID:    status.UserID,
		DeviceID:  c.GetHeader("X-Device-Id"),
		IP:        observability.IPFromRequest(c.Request),
		RequestID: requestID,
		TraceID:   traceID,
		Since:     time.Now(),
	}
	pubCtx := context.WithoutCancel(ctx)
	event := func(name, reason string, since time.Time) {
		observability.PublishWSEvent(pubCtx, observability.RoutingUIEvents, observability.WSEvent{
			Kind:       "ui",
			ResourceID: room,
			Event:      name,
			ConnID:     info.ConnID,
			Reason:     reason,
		}, info.identity(), since, info.headers())
	}

	h.hub.Add(conn, room, info)
	observability.IncWSActive("ui")
	event("ws_connect", "", time.Time{})
	_ = h.hub.Send(conn, models.Change{Kind: models.ChangeSession, Payload: status})

	go func() {
		var closeReason string
		defer func() {
			if h.hub.Remove(conn) {
				observability.DecWSActive("ui")
			}
			event("ws_disconnect", closeReason, info.Since)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					event("ws_error", closeReason, info.Since)
				}
				return
			}
		}
	}()
}
