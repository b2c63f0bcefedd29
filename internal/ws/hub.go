package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/observability"
)

// Hub fans view-state changes out to UI websocket subscribers.
type Hub struct {
	subscribers map[*websocket.Conn]*subscriber
	mu          sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[*websocket.Conn]*subscriber)}
}

// Add registers conn. A non-empty room restricts room-scoped changes to that
// room.
func (h *Hub) Add(conn *websocket.Conn, room string, info SubscriberInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[conn] = &subscriber{conn: conn, room: room, info: info}
}

// Remove unregisters conn and reports whether it was registered.
func (h *Hub) Remove(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[conn]; !ok {
		return false
	}
	delete(h.subscribers, conn)
	return true
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish sends change to every interested subscriber. Subscribers that fail
// a write are closed and dropped.
func (h *Hub) Publish(change models.Change) {
	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		if s.wants(change) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(change)
	if err != nil {
		log.Printf("ui hub marshal failed kind=%s: %v", change.Kind, err)
		return
	}
	for _, s := range targets {
		if s.conn == nil {
			continue
		}
		if err := s.write(payload); err != nil {
			log.Printf("websocket write error conn_id=%s: %v", s.info.ConnID, err)
			s.conn.Close()
			if h.Remove(s.conn) {
				observability.DecWSActive("ui")
				h.publishWSError(s, err)
			}
		}
	}
}

// Send writes change to conn only.
func (h *Hub) Send(conn *websocket.Conn, change models.Change) error {
	h.mu.RLock()
	s, ok := h.subscribers[conn]
	h.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return s.write(payload)
}

func (h *Hub) publishWSError(s *subscriber, err error) {
	observability.PublishWSEvent(context.Background(), observability.RoutingUIEvents, observability.WSEvent{
		Kind:       "ui",
		ResourceID: s.room,
		Event:      "ws_error",
		ConnID:     s.info.ConnID,
		Reason:     err.Error(),
	}, s.info.identity(), s.info.Since, s.info.headers())
}
