package realtime

import (
	"encoding/json"
	"log"

	"hobbymeet-sync/internal/chat"
	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/observability"
	"hobbymeet-sync/internal/ws"
)

// attach subscribes the inbound handlers to a freshly created transport.
func (s *Synchronizer) attach(t ws.Transport) {
	group := ws.NewGroup(t)
	group.On(models.EventMessageNew, s.onMessage)
	group.On(models.EventMessageDeleted, s.onMessageDeleted)
	group.On(models.EventTypingStart, s.onTyping(true))
	group.On(models.EventTypingStop, s.onTyping(false))
	group.On(models.EventNotificationNew, s.onNotification)

	s.mu.Lock()
	prev := s.group
	s.group = group
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// detach removes every handler attach registered.
func (s *Synchronizer) detach(ws.Transport) {
	s.mu.Lock()
	group := s.group
	s.group = nil
	s.mu.Unlock()

	if group != nil {
		group.Close()
	}
}

func (s *Synchronizer) onMessage(data json.RawMessage) {
	var msg models.Message
	if err := ws.Decode(data, &msg); err != nil {
		log.Printf("realtime bad %s payload: %v", models.EventMessageNew, err)
		return
	}
	if msg.Status == "" {
		msg.Status = models.MessageStatusSent
	}

	stored, outcome := s.reducer.ApplyEntry(msg)
	observability.IncMessageOutcome(outcome.String())
	switch outcome {
	case chat.Added, chat.Reconciled:
		s.archive(stored)
		s.publish(models.Change{Kind: models.ChangeMessage, RoomID: stored.RoomID, Payload: stored})
	}
}

func (s *Synchronizer) onMessageDeleted(data json.RawMessage) {
	var p models.MessageDeletedPayload
	if err := ws.Decode(data, &p); err != nil {
		log.Printf("realtime bad %s payload: %v", models.EventMessageDeleted, err)
		return
	}
	msg, ok := s.reducer.MarkDeleted(p.RoomID, p.MessageID, p.DeletedAt)
	if !ok {
		return
	}
	s.archive(msg)
	s.publish(models.Change{Kind: models.ChangeDeletion, RoomID: p.RoomID, Payload: msg})
}

func (s *Synchronizer) onTyping(start bool) ws.Handler {
	return func(data json.RawMessage) {
		var p models.TypingPayload
		if err := ws.Decode(data, &p); err != nil {
			log.Printf("realtime bad typing payload: %v", err)
			return
		}
		if start {
			s.typing.Start(p.RoomID, p.UserID)
			return
		}
		s.typing.Stop(p.RoomID, p.UserID)
	}
}

func (s *Synchronizer) onNotification(data json.RawMessage) {
	var n models.Notification
	if err := ws.Decode(data, &n); err != nil {
		log.Printf("realtime bad %s payload: %v", models.EventNotificationNew, err)
		return
	}
	s.relay.OnPush(n)
}
