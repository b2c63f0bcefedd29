package models

import "time"

// Event names exchanged with the backend over the realtime transport.
const (
	EventRoomJoin        = "room:join"
	EventRoomLeave       = "room:leave"
	EventMessageSend     = "message:send"
	EventMessageNew      = "message:new"
	EventMessageDeleted  = "message:deleted"
	EventTypingStart     = "typing:start"
	EventTypingStop      = "typing:stop"
	EventNotificationNew = "notification:new"
)

// RoomPayload is sent with join and leave signals.
type RoomPayload struct {
	RoomID string `json:"room_id"`
}

// SendMessagePayload is emitted for a local send. The server echoes ClientID back.
type SendMessagePayload struct {
	RoomID   string `json:"room_id"`
	ClientID string `json:"client_id"`
	Text     string `json:"text"`
}

// MessageDeletedPayload announces a delete-for-all.
type MessageDeletedPayload struct {
	RoomID    string    `json:"room_id"`
	MessageID string    `json:"message_id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// TypingPayload carries typing start/stop signals in both directions.
type TypingPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id,omitempty"`
}

// Change is fanned out to UI surfaces whenever synchronized view-state moves.
type Change struct {
	Kind    string      `json:"kind"`
	RoomID  string      `json:"room_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// Change kinds.
const (
	ChangeSession       = "session"
	ChangeMessage       = "message"
	ChangeMessageFailed = "message_failed"
	ChangeDeletion      = "delete_for_all"
	ChangeTyping        = "typing"
	ChangeNotification  = "notification"
	ChangeUnread        = "unread"
)
