package models

import "time"

// MessageStatus is the local delivery state of a chat message.
type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

// Message represents a chat message in an event room.
type Message struct {
	ID        string        `db:"id" json:"id"`
	ClientID  string        `db:"client_id" json:"client_id,omitempty"`
	RoomID    string        `db:"room_id" json:"room_id"`
	SenderID  string        `db:"sender_id" json:"sender_id"`
	Text      string        `db:"text" json:"text"`
	SentAt    time.Time     `db:"sent_at" json:"sent_at"`
	DeletedAt *time.Time    `db:"deleted_at" json:"deleted_at,omitempty"`
	Status    MessageStatus `db:"status" json:"status"`
	Error     string        `db:"-" json:"error,omitempty"`
}

// Pending reports whether the message is a local entry awaiting its server echo.
func (m Message) Pending() bool {
	return m.Status == MessageStatusPending
}

// Deleted reports whether the message was deleted for everyone.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}
