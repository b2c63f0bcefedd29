// Package chat keeps the per-room message logs: deduplicated, in arrival
// order, with optimistic local entries reconciled against server echoes.
package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"hobbymeet-sync/internal/models"
)

// DefaultReconcileWindow bounds the content match used for echoes that carry
// no client id.
const DefaultReconcileWindow = 5 * time.Second

var (
	ErrEmptyMessage   = errors.New("message text is empty")
	ErrNoSession      = errors.New("no authenticated session")
	ErrUnknownMessage = errors.New("message not found")
)

// Outcome is the result of applying an inbound message.
type Outcome int

const (
	Rejected Outcome = iota
	Added
	Reconciled
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Added:
		return "added"
	case Reconciled:
		return "reconciled"
	case Duplicate:
		return "duplicate"
	default:
		return "rejected"
	}
}

type roomLog struct {
	entries   []models.Message
	byID      map[string]int
	byClient  map[string]int
	readIndex int
}

func newRoomLog() *roomLog {
	return &roomLog{
		byID:      make(map[string]int),
		byClient:  make(map[string]int),
		readIndex: -1,
	}
}

func (l *roomLog) reindex() {
	l.byID = make(map[string]int, len(l.entries))
	l.byClient = make(map[string]int, len(l.entries))
	for i, m := range l.entries {
		if m.ID != "" {
			l.byID[m.ID] = i
		}
		if m.ClientID != "" {
			l.byClient[m.ClientID] = i
		}
	}
}

type ReducerConfig struct {
	ReconcileWindow time.Duration
	Now             func() time.Time
	// Self returns the local user id; own messages never count as unread.
	Self func() string
}

// Reducer holds the message log of every room the session has seen.
type Reducer struct {
	window time.Duration
	now    func() time.Time
	self   func() string

	mu    sync.Mutex
	rooms map[string]*roomLog
}

func NewReducer(cfg ReducerConfig) *Reducer {
	if cfg.ReconcileWindow <= 0 {
		cfg.ReconcileWindow = DefaultReconcileWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Self == nil {
		cfg.Self = func() string { return "" }
	}
	return &Reducer{
		window: cfg.ReconcileWindow,
		now:    cfg.Now,
		self:   cfg.Self,
		rooms:  make(map[string]*roomLog),
	}
}

// Ingest appends msg unless its id is already known. It reports whether the
// log grew.
func (r *Reducer) Ingest(msg models.Message) bool {
	return r.Apply(msg) == Added
}

// Apply ingests a server message, reconciling it with a local entry when it
// is the echo of an optimistic send.
func (r *Reducer) Apply(msg models.Message) Outcome {
	_, outcome := r.ApplyEntry(msg)
	return outcome
}

// ApplyEntry is Apply that also returns the entry as stored in the log. A
// reconciled entry keeps the client id of the local send.
func (r *Reducer) ApplyEntry(msg models.Message) (models.Message, Outcome) {
	if msg.ID == "" || msg.RoomID == "" {
		return models.Message{}, Rejected
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	log := r.roomLocked(msg.RoomID)
	if idx, ok := log.byID[msg.ID]; ok {
		return log.entries[idx], Duplicate
	}

	if idx, ok := r.matchLocked(log, msg); ok {
		entry := &log.entries[idx]
		entry.ID = msg.ID
		entry.Text = msg.Text
		entry.Status = models.MessageStatusSent
		entry.Error = ""
		if !msg.SentAt.IsZero() {
			entry.SentAt = msg.SentAt
		}
		if msg.DeletedAt != nil {
			entry.DeletedAt = msg.DeletedAt
		}
		log.byID[msg.ID] = idx
		return *entry, Reconciled
	}

	msg.Status = models.MessageStatusSent
	msg.Error = ""
	log.entries = append(log.entries, msg)
	idx := len(log.entries) - 1
	log.byID[msg.ID] = idx
	if msg.ClientID != "" {
		log.byClient[msg.ClientID] = idx
	}
	return msg, Added
}

// matchLocked finds the local entry msg echoes: by client id when the server
// returns one, otherwise the earliest unconfirmed entry of the same sender and
// text within the reconcile window.
func (r *Reducer) matchLocked(log *roomLog, msg models.Message) (int, bool) {
	if msg.ClientID != "" {
		idx, ok := log.byClient[msg.ClientID]
		if ok && log.entries[idx].ID == "" {
			return idx, true
		}
		return 0, false
	}

	at := msg.SentAt
	if at.IsZero() {
		at = r.now()
	}
	for i, e := range log.entries {
		if e.ID != "" || e.SenderID != msg.SenderID || e.Text != msg.Text {
			continue
		}
		if d := at.Sub(e.SentAt); d <= r.window && d >= -r.window {
			return i, true
		}
	}
	return 0, false
}

// AppendOptimistic records a local send before the server confirms it.
func (r *Reducer) AppendOptimistic(draft models.Message) models.Message {
	if draft.ClientID == "" {
		draft.ClientID = uuid.NewString()
	}
	draft.ID = ""
	draft.SentAt = r.now()
	draft.Status = models.MessageStatusPending
	draft.Error = ""

	r.mu.Lock()
	defer r.mu.Unlock()
	log := r.roomLocked(draft.RoomID)
	log.entries = append(log.entries, draft)
	log.byClient[draft.ClientID] = len(log.entries) - 1
	return draft
}

// Confirm attaches the server id from a send acknowledgement. When the echo
// already landed as its own entry, the local entry is folded into it.
func (r *Reducer) Confirm(roomID, clientID, serverID string, sentAt time.Time) (models.Message, Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log, ok := r.rooms[roomID]
	if !ok {
		return models.Message{}, Rejected
	}
	idx, ok := log.byClient[clientID]
	if !ok {
		return models.Message{}, Rejected
	}
	entry := &log.entries[idx]
	if entry.ID != "" {
		return *entry, Duplicate
	}
	if serverID == "" {
		return *entry, Rejected
	}
	if held, taken := log.byID[serverID]; taken {
		return r.foldLocked(log, idx, held), Reconciled
	}
	entry.ID = serverID
	entry.Status = models.MessageStatusSent
	entry.Error = ""
	if !sentAt.IsZero() {
		entry.SentAt = sentAt
	}
	log.byID[serverID] = idx
	return *entry, Reconciled
}

// foldLocked drops the optimistic entry at local in favour of the server
// entry at held, which inherits the client id.
func (r *Reducer) foldLocked(log *roomLog, local, held int) models.Message {
	clientID := log.entries[local].ClientID
	if log.entries[held].ClientID == "" {
		log.entries[held].ClientID = clientID
	}
	log.entries = append(log.entries[:local], log.entries[local+1:]...)
	if log.readIndex >= local {
		log.readIndex--
	}
	if held > local {
		held--
	}
	log.reindex()
	return log.entries[held]
}

// MarkFailed flags an unconfirmed local entry as failed. The entry stays in
// the log until discarded or retried.
func (r *Reducer) MarkFailed(roomID, clientID string, cause error) (models.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.localLocked(roomID, clientID)
	if !ok || entry.ID != "" {
		return models.Message{}, false
	}
	entry.Status = models.MessageStatusFailed
	if cause != nil {
		entry.Error = cause.Error()
	}
	return *entry, true
}

// Requeue turns a failed entry back into a pending one for a resend.
func (r *Reducer) Requeue(roomID, clientID string) (models.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.localLocked(roomID, clientID)
	if !ok || entry.Status != models.MessageStatusFailed {
		return models.Message{}, false
	}
	entry.Status = models.MessageStatusPending
	entry.Error = ""
	entry.SentAt = r.now()
	return *entry, true
}

// Discard removes a failed local entry.
func (r *Reducer) Discard(roomID, clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	log, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	idx, ok := log.byClient[clientID]
	if !ok || log.entries[idx].Status != models.MessageStatusFailed {
		return false
	}
	log.entries = append(log.entries[:idx], log.entries[idx+1:]...)
	if log.readIndex >= idx {
		log.readIndex--
	}
	log.reindex()
	return true
}

// MarkDeleted applies a delete-for-all from the server.
func (r *Reducer) MarkDeleted(roomID, id string, at time.Time) (models.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	log, ok := r.rooms[roomID]
	if !ok {
		return models.Message{}, false
	}
	idx, ok := log.byID[id]
	if !ok {
		return models.Message{}, false
	}
	entry := &log.entries[idx]
	if entry.DeletedAt != nil {
		return *entry, false
	}
	if at.IsZero() {
		at = r.now()
	}
	entry.DeletedAt = &at
	return *entry, true
}

// MarkRead advances the read boundary of roomID to uptoID. The boundary
// never moves backwards.
func (r *Reducer) MarkRead(roomID, uptoID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	log, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	idx, ok := log.byID[uptoID]
	if !ok || idx <= log.readIndex {
		return false
	}
	log.readIndex = idx
	return true
}

// MarkAllRead moves the boundary to the newest confirmed message.
func (r *Reducer) MarkAllRead(roomID string) bool {
	r.mu.Lock()
	log, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	last := ""
	for i := len(log.entries) - 1; i >= 0; i-- {
		if log.entries[i].ID != "" {
			last = log.entries[i].ID
			break
		}
	}
	r.mu.Unlock()
	if last == "" {
		return false
	}
	return r.MarkRead(roomID, last)
}

// Unread counts confirmed messages from other users past the read boundary.
func (r *Reducer) Unread(roomID string) int {
	self := r.self()
	r.mu.Lock()
	defer r.mu.Unlock()

	log, ok := r.rooms[roomID]
	if !ok {
		return 0
	}
	n := 0
	for _, m := range log.entries[log.readIndex+1:] {
		if m.ID == "" || m.Deleted() || (self != "" && m.SenderID == self) {
			continue
		}
		n++
	}
	return n
}

// Messages returns a copy of the room log in arrival order.
func (r *Reducer) Messages(roomID string) []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	log, ok := r.rooms[roomID]
	if !ok {
		return []models.Message{}
	}
	out := make([]models.Message, len(log.entries))
	copy(out, log.entries)
	return out
}

// Len returns the number of entries in the room log.
func (r *Reducer) Len(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if log, ok := r.rooms[roomID]; ok {
		return len(log.entries)
	}
	return 0
}

// Reset drops every room log.
func (r *Reducer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[string]*roomLog)
}

func (r *Reducer) roomLocked(roomID string) *roomLog {
	log, ok := r.rooms[roomID]
	if !ok {
		log = newRoomLog()
		r.rooms[roomID] = log
	}
	return log
}

func (r *Reducer) localLocked(roomID, clientID string) (*models.Message, bool) {
	log, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	idx, ok := log.byClient[clientID]
	if !ok {
		return nil, false
	}
	return &log.entries[idx], true
}
