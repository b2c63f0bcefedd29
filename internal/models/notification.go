package models

import (
	"encoding/json"
	"time"
)

// NotificationType is the closed set of notification kinds pushed by the backend.
type NotificationType string

const (
	NotificationJoinRequest NotificationType = "join_request"
	NotificationMessage     NotificationType = "message"
	NotificationRating      NotificationType = "rating"
	NotificationEventUpdate NotificationType = "event_update"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationJoinRequest, NotificationMessage, NotificationRating, NotificationEventUpdate:
		return true
	}
	return false
}

// Notification describes cross-cutting activity for the logged in user.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	RoomID    string           `json:"room_id,omitempty"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
}

// Unread reports whether the notification has not been read yet.
func (n Notification) Unread() bool {
	return n.ReadAt == nil
}
