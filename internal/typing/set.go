package typing

import (
	"sort"
	"sync"
	"time"

	"hobbymeet-sync/internal/timers"
)

type entry struct {
	timer timers.Timer
	gen   uint64
}

// Set tracks the users typing in each room, excluding self. An entry expires
// after ttl without a refreshing start.
type Set struct {
	ttl      time.Duration
	after    timers.AfterFunc
	self     func() string
	onChange func(roomID string, users []string)

	mu    sync.Mutex
	seq   uint64
	rooms map[string]map[string]*entry
}

// NewSet builds a Set whose entries expire after ttl, usually three times the
// debounce window.
func NewSet(ttl time.Duration, after timers.AfterFunc, self func() string, onChange func(string, []string)) *Set {
	if ttl <= 0 {
		ttl = 3 * DefaultWindow
	}
	if after == nil {
		after = timers.Real
	}
	if self == nil {
		self = func() string { return "" }
	}
	if onChange == nil {
		onChange = func(string, []string) {}
	}
	return &Set{
		ttl:      ttl,
		after:    after,
		self:     self,
		onChange: onChange,
		rooms:    make(map[string]map[string]*entry),
	}
}

// Start adds or refreshes userID in roomID.
func (s *Set) Start(roomID, userID string) {
	if roomID == "" || userID == "" || userID == s.self() {
		return
	}
	s.mu.Lock()
	users, ok := s.rooms[roomID]
	if !ok {
		users = make(map[string]*entry)
		s.rooms[roomID] = users
	}
	e, existed := users[userID]
	if existed {
		e.timer.Stop()
	} else {
		e = &entry{}
		users[userID] = e
	}
	s.seq++
	gen := s.seq
	e.gen = gen
	e.timer = s.after(s.ttl, func() { s.expire(roomID, userID, gen) })
	var snapshot []string
	if !existed {
		snapshot = s.listLocked(roomID)
	}
	s.mu.Unlock()

	if !existed {
		s.onChange(roomID, snapshot)
	}
}

// Stop removes userID from roomID.
func (s *Set) Stop(roomID, userID string) {
	s.mu.Lock()
	removed := s.removeLocked(roomID, userID, 0)
	snapshot := s.listLocked(roomID)
	s.mu.Unlock()

	if removed {
		s.onChange(roomID, snapshot)
	}
}

// ClearRoom forgets every typing user of roomID.
func (s *Set) ClearRoom(roomID string) {
	s.mu.Lock()
	users := s.rooms[roomID]
	for _, e := range users {
		e.timer.Stop()
	}
	delete(s.rooms, roomID)
	s.mu.Unlock()

	if len(users) > 0 {
		s.onChange(roomID, []string{})
	}
}

// Reset clears every room without notifying.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, users := range s.rooms {
		for _, e := range users {
			e.timer.Stop()
		}
	}
	s.rooms = make(map[string]map[string]*entry)
}

// Typing returns the sorted user ids typing in roomID.
func (s *Set) Typing(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(roomID)
}

func (s *Set) expire(roomID, userID string, gen uint64) {
	s.mu.Lock()
	removed := s.removeLocked(roomID, userID, gen)
	snapshot := s.listLocked(roomID)
	s.mu.Unlock()

	if removed {
		s.onChange(roomID, snapshot)
	}
}

// removeLocked drops the entry; a non-zero gen must match the entry.
func (s *Set) removeLocked(roomID, userID string, gen uint64) bool {
	users, ok := s.rooms[roomID]
	if !ok {
		return false
	}
	e, ok := users[userID]
	if !ok || (gen != 0 && e.gen != gen) {
		return false
	}
	e.timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(s.rooms, roomID)
	}
	return true
}

func (s *Set) listLocked(roomID string) []string {
	out := make([]string, 0, len(s.rooms[roomID]))
	for id := range s.rooms[roomID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
