package chat

import (
	"encoding/json"
	"log"
	"strings"

	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/observability"
	"hobbymeet-sync/internal/ws"
)

// Connection is what the sender needs from the session manager.
type Connection interface {
	Current() ws.Transport
	UserID() string
}

// Sender performs optimistic sends: the entry shows up in the log at once and
// is confirmed by the ack or the server echo, or flagged failed.
type Sender struct {
	reducer  *Reducer
	conn     Connection
	onChange func(models.Change)
}

func NewSender(reducer *Reducer, conn Connection, onChange func(models.Change)) *Sender {
	if onChange == nil {
		onChange = func(models.Change) {}
	}
	return &Sender{reducer: reducer, conn: conn, onChange: onChange}
}

// Send appends an optimistic entry and emits it. On emit failure the entry
// is returned flagged failed together with the error.
func (s *Sender) Send(roomID, text string) (models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, ErrEmptyMessage
	}
	userID := s.conn.UserID()
	if userID == "" {
		return models.Message{}, ErrNoSession
	}

	msg := s.reducer.AppendOptimistic(models.Message{
		RoomID:   roomID,
		SenderID: userID,
		Text:     text,
	})
	s.onChange(models.Change{Kind: models.ChangeMessage, RoomID: roomID, Payload: msg})
	return s.emit(msg)
}

// Retry resends a failed entry under its original client id.
func (s *Sender) Retry(roomID, clientID string) (models.Message, error) {
	msg, ok := s.reducer.Requeue(roomID, clientID)
	if !ok {
		return models.Message{}, ErrUnknownMessage
	}
	s.onChange(models.Change{Kind: models.ChangeMessage, RoomID: roomID, Payload: msg})
	return s.emit(msg)
}

func (s *Sender) emit(msg models.Message) (models.Message, error) {
	t := s.conn.Current()
	if t == nil {
		return s.fail(msg, ws.ErrNotConnected), ws.ErrNotConnected
	}
	payload := models.SendMessagePayload{RoomID: msg.RoomID, ClientID: msg.ClientID, Text: msg.Text}
	if err := t.Emit(models.EventMessageSend, payload, s.ack(msg.RoomID, msg.ClientID)); err != nil {
		return s.fail(msg, err), err
	}
	observability.IncMessageOutcome("sent")
	return msg, nil
}

func (s *Sender) ack(roomID, clientID string) ws.AckFunc {
	return func(data json.RawMessage, err error) {
		if err != nil {
			s.fail(models.Message{RoomID: roomID, ClientID: clientID}, err)
			return
		}
		var echo models.Message
		if len(data) == 0 || json.Unmarshal(data, &echo) != nil || echo.ID == "" {
			return
		}
		msg, outcome := s.reducer.Confirm(roomID, clientID, echo.ID, echo.SentAt)
		if outcome == Reconciled {
			observability.IncMessageOutcome("acked")
			s.onChange(models.Change{Kind: models.ChangeMessage, RoomID: roomID, Payload: msg})
		}
	}
}

func (s *Sender) fail(msg models.Message, cause error) models.Message {
	failed, ok := s.reducer.MarkFailed(msg.RoomID, msg.ClientID, cause)
	if !ok {
		return msg
	}
	observability.IncMessageOutcome("failed")
	log.Printf("chat send failed room_id=%s client_id=%s: %v", msg.RoomID, msg.ClientID, cause)
	s.onChange(models.Change{Kind: models.ChangeMessageFailed, RoomID: msg.RoomID, Payload: failed})
	return failed
}
