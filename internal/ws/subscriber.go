package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/observability"
)

const uiWriteWait = 5 * time.Second

// SubscriberInfo identifies a UI websocket subscriber in logs and events.
type SubscriberInfo struct {
	ConnID    string
	UserID    string
	DeviceID  string
	IP        string
	RequestID string
	TraceID   string
	Since     time.Time
}

func (i SubscriberInfo) identity() observability.Identity {
	return observability.Identity{UserID: i.UserID, DeviceID: i.DeviceID, IP: i.IP}
}

func (i SubscriberInfo) headers() map[string]string {
	return observability.BuildHeaders(i.RequestID, i.TraceID)
}

type subscriber struct {
	conn *websocket.Conn
	room string
	info SubscriberInfo

	writeMu sync.Mutex
}

// wants reports whether the subscriber receives change. Changes without a
// room reach every subscriber; an unfiltered subscriber receives everything.
func (s *subscriber) wants(change models.Change) bool {
	return s.room == "" || change.RoomID == "" || change.RoomID == s.room
}

func (s *subscriber) write(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(uiWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func newConnID() string {
	return uuid.NewString()
}
