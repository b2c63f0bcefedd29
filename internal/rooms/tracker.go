// Package rooms turns "viewing a room" into join and leave signals on the
// realtime transport.
package rooms

import (
	"log"
	"sync"
	"time"

	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/ws"
)

// Connection is the part of the session manager the tracker depends on.
type Connection interface {
	Current() ws.Transport
	Connected() bool
	Epoch() uint64
	OnceConnected(fn func()) (cancel func())
	OnStateChange(fn func(models.SessionStatus)) (cancel func())
}

// Membership is the joined state of one room.
type Membership struct {
	RoomID   string    `json:"room_id"`
	JoinedAt time.Time `json:"joined_at"`
	Active   bool      `json:"active"`
}

// Tracker keeps at most one active room and emits exactly one join per room
// per connection.
type Tracker struct {
	conn Connection
	now  func() time.Time

	mu          sync.Mutex
	active      string
	joinedAt    time.Time
	joinedEpoch uint64
	pending     string
	waiting     bool
	cancelWait  func()
	stopWatch   func()
}

func NewTracker(conn Connection, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	t := &Tracker{conn: conn, now: now}
	t.stopWatch = conn.OnStateChange(t.onState)
	return t
}

// Enter makes roomID the active room, leaving the previous one first. When
// the transport is not connected the join is deferred until it is.
func (t *Tracker) Enter(roomID string) {
	if roomID == "" {
		return
	}
	t.mu.Lock()
	if !t.conn.Connected() {
		// Server-side membership died with the connection.
		t.active = ""
		t.pending = roomID
		register := !t.waiting
		t.waiting = true
		t.mu.Unlock()
		if register {
			t.awaitConnect()
		}
		return
	}
	defer t.mu.Unlock()

	if t.active == roomID {
		return
	}
	t.clearPendingLocked()
	if t.active != "" {
		t.emitLocked(models.EventRoomLeave, t.active)
		t.active = ""
	}
	t.joinLocked(roomID)
}

// Exit leaves roomID if it is the active room. Stale ids are ignored and a
// room that never got joined is forgotten silently.
func (t *Tracker) Exit(roomID string) {
	if roomID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == roomID {
		t.clearPendingLocked()
		return
	}
	if t.active != roomID {
		return
	}
	if t.conn.Connected() {
		t.emitLocked(models.EventRoomLeave, roomID)
	}
	t.active = ""
}

// Active returns the active room id or "".
func (t *Tracker) Active() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Pending returns the room waiting for a connection, if any.
func (t *Tracker) Pending() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Membership returns the active membership.
func (t *Tracker) Membership() (Membership, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == "" {
		return Membership{}, false
	}
	return Membership{RoomID: t.active, JoinedAt: t.joinedAt, Active: true}, true
}

// Reset forgets all membership without emitting. Used on logout.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearPendingLocked()
	t.active = ""
	t.joinedEpoch = 0
}

// Close detaches the tracker from the connection.
func (t *Tracker) Close() {
	t.Reset()
	if t.stopWatch != nil {
		t.stopWatch()
	}
}

func (t *Tracker) awaitConnect() {
	cancel := t.conn.OnceConnected(t.joinPending)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.waiting {
		t.cancelWait = cancel
		return
	}
	cancel()
}

func (t *Tracker) joinPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waiting = false
	t.cancelWait = nil
	if t.pending == "" {
		return
	}
	roomID := t.pending
	t.pending = ""
	if t.active == roomID {
		return
	}
	t.joinLocked(roomID)
}

// onState joins a deferred room or rejoins the active one on a new
// connection epoch. It runs before OnceConnected continuations.
func (t *Tracker) onState(status models.SessionStatus) {
	if status.State != models.ConnStateConnected {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != "" {
		roomID := t.pending
		t.pending = ""
		t.joinLocked(roomID)
		return
	}
	if t.active == "" || t.joinedEpoch == status.Epoch {
		return
	}
	log.Printf("rooms rejoin room_id=%s epoch=%d", t.active, status.Epoch)
	t.joinLocked(t.active)
}

// joinLocked emits a join. On failure the room stays pending until the next
// connect.
func (t *Tracker) joinLocked(roomID string) {
	if !t.emitLocked(models.EventRoomJoin, roomID) {
		t.active = ""
		t.pending = roomID
		return
	}
	t.active = roomID
	t.joinedAt = t.now()
	t.joinedEpoch = t.conn.Epoch()
}

func (t *Tracker) clearPendingLocked() {
	t.pending = ""
	t.waiting = false
	if t.cancelWait != nil {
		t.cancelWait()
		t.cancelWait = nil
	}
}

func (t *Tracker) emitLocked(event, roomID string) bool {
	tr := t.conn.Current()
	if tr == nil {
		return false
	}
	if err := tr.Emit(event, models.RoomPayload{RoomID: roomID}, nil); err != nil {
		log.Printf("rooms emit failed event=%s room_id=%s: %v", event, roomID, err)
		return false
	}
	return true
}
