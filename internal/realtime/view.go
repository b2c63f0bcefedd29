package realtime

import (
	"sync"

	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/typing"
)

// ChatView is one mounted chat surface over the shared connection. It owns
// its typing debouncer and state listener and releases both on Close.
type ChatView struct {
	s         *Synchronizer
	roomID    string
	debouncer *typing.Debouncer
	stopWatch func()
	closeOnce sync.Once
}

// OpenChat enters roomID and returns its view. A previously open view is
// closed first.
func (s *Synchronizer) OpenChat(roomID string) *ChatView {
	s.mu.Lock()
	prev := s.view
	s.mu.Unlock()
	if prev != nil {
		if prev.roomID == roomID {
			return prev
		}
		prev.Close()
	}

	v := &ChatView{
		s:         s,
		roomID:    roomID,
		debouncer: typing.NewDebouncer(s.manager, s.deps.TypingWindow, s.deps.AfterFunc),
	}
	v.stopWatch = s.manager.OnStateChange(func(status models.SessionStatus) {
		if status.State != models.ConnStateConnected {
			v.debouncer.OnRoomExit()
		}
	})

	s.mu.Lock()
	s.view = v
	s.mu.Unlock()

	s.rooms.Enter(roomID)
	return v
}

// CloseChat closes the open view when it shows roomID, or just leaves the
// room otherwise.
func (s *Synchronizer) CloseChat(roomID string) {
	if view := s.viewFor(roomID); view != nil {
		view.Close()
		return
	}
	s.rooms.Exit(roomID)
}

func (v *ChatView) RoomID() string { return v.roomID }

// Input records a keystroke.
func (v *ChatView) Input() {
	v.debouncer.OnInputChange(v.roomID)
}

func (v *ChatView) Send(text string) (models.Message, error) {
	v.debouncer.OnSend()
	return v.s.sender.Send(v.roomID, text)
}

func (v *ChatView) Messages() []models.Message {
	return v.s.reducer.Messages(v.roomID)
}

func (v *ChatView) Typing() []string {
	return v.s.typing.Typing(v.roomID)
}

// Close stops typing, leaves the room and unsubscribes the view. Idempotent.
func (v *ChatView) Close() {
	v.closeOnce.Do(func() {
		v.debouncer.Close()
		v.stopWatch()
		v.s.rooms.Exit(v.roomID)
		v.s.typing.ClearRoom(v.roomID)

		v.s.mu.Lock()
		if v.s.view == v {
			v.s.view = nil
		}
		v.s.mu.Unlock()
	})
}
