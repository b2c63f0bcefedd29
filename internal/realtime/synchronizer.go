// Package realtime composes the connection manager, room tracker, message
// reducer, typing and notification components around one transport.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"hobbymeet-sync/internal/chat"
	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/notifications"
	"hobbymeet-sync/internal/observability"
	"hobbymeet-sync/internal/rooms"
	"hobbymeet-sync/internal/session"
	"hobbymeet-sync/internal/telemetry"
	"hobbymeet-sync/internal/timers"
	"hobbymeet-sync/internal/typing"
	"hobbymeet-sync/internal/ws"
)

// API is the REST surface consumed by the synchronizer.
type API interface {
	notifications.API
	RoomMessages(ctx context.Context, roomID string) ([]models.Message, error)
}

// Archive persists confirmed messages for offline history.
type Archive interface {
	Save(ctx context.Context, msg models.Message) error
	ListByRoom(ctx context.Context, roomID string, limit int) ([]models.Message, error)
}

// Notifier receives every view-state change.
type Notifier interface {
	Publish(change models.Change)
}

type Deps struct {
	Store     session.CredentialStore
	Transport session.TransportFactory
	API       API
	Archive   Archive
	Notifier  Notifier
	Audit     *telemetry.AuditEmitter

	MaxRetries    int
	RetryInterval time.Duration
	TypingWindow  time.Duration
	PollInterval  time.Duration
	AfterFunc     timers.AfterFunc
	Now           func() time.Time
}

const historyLimit = 200

type Synchronizer struct {
	deps Deps

	manager *session.Manager
	rooms   *rooms.Tracker
	reducer *chat.Reducer
	sender  *chat.Sender
	typing  *typing.Set
	relay   *notifications.Relay

	mu         sync.Mutex
	group      *ws.Group
	view       *ChatView
	stopPoll   context.CancelFunc
	cancelHook func()
}

func New(deps Deps) *Synchronizer {
	if deps.AfterFunc == nil {
		deps.AfterFunc = timers.Real
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TypingWindow <= 0 {
		deps.TypingWindow = typing.DefaultWindow
	}

	s := &Synchronizer{deps: deps}
	s.manager = session.NewManager(session.Config{
		MaxRetries:    deps.MaxRetries,
		RetryInterval: deps.RetryInterval,
		AfterFunc:     deps.AfterFunc,
		Now:           deps.Now,
	}, deps.Store, deps.Transport)
	s.manager.OnTransport(s.attach, s.detach)
	s.cancelHook = s.manager.OnStateChange(func(status models.SessionStatus) {
		s.publish(models.Change{Kind: models.ChangeSession, Payload: status})
	})

	s.rooms = rooms.NewTracker(s.manager, deps.Now)
	s.reducer = chat.NewReducer(chat.ReducerConfig{Now: deps.Now, Self: s.manager.UserID})
	s.sender = chat.NewSender(s.reducer, s.manager, s.publish)
	s.typing = typing.NewSet(3*deps.TypingWindow, deps.AfterFunc, s.manager.UserID, func(roomID string, users []string) {
		s.publish(models.Change{Kind: models.ChangeTyping, RoomID: roomID, Payload: users})
	})
	s.relay = notifications.NewRelay(deps.API, notifications.Config{
		PollInterval: deps.PollInterval,
		AfterFunc:    deps.AfterFunc,
		Now:          deps.Now,
	}, s.publish)
	return s
}

func (s *Synchronizer) Manager() *session.Manager { return s.manager }

func (s *Synchronizer) Rooms() *rooms.Tracker { return s.rooms }

func (s *Synchronizer) Reducer() *chat.Reducer { return s.reducer }

func (s *Synchronizer) Relay() *notifications.Relay { return s.relay }

func (s *Synchronizer) Status() models.SessionStatus { return s.manager.Status() }

// Login stores token and connects. A transient connect failure keeps the
// session and leaves retries running; a credential failure clears it.
func (s *Synchronizer) Login(ctx context.Context, token string) (models.SessionStatus, error) {
	sess, err := session.Parse(token, s.deps.Now())
	if err != nil {
		return s.manager.Status(), err
	}
	if current := s.manager.UserID(); current != "" && current != sess.UserID {
		s.Logout(ctx)
	}
	if err := s.deps.Store.SetToken(ctx, token); err != nil {
		return s.manager.Status(), fmt.Errorf("store credential: %w", err)
	}
	if err := s.start(ctx); err != nil {
		return s.manager.Status(), err
	}
	s.deps.Audit.SessionStarted(ctx, observability.RequestIDFromContext(ctx), sess.UserID)
	return s.manager.Status(), nil
}

// Resume reconnects with a persisted credential. It reports false when no
// usable credential is stored.
func (s *Synchronizer) Resume(ctx context.Context) (bool, error) {
	token, err := s.deps.Store.GetToken(ctx)
	if err != nil {
		return false, err
	}
	if _, err := session.Parse(token, s.deps.Now()); err != nil {
		if errors.Is(err, session.ErrNoCredential) {
			return false, nil
		}
		log.Printf("realtime resume dropped stored credential: %v", err)
		return false, s.deps.Store.ClearToken(ctx)
	}
	if err := s.start(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Reconnect re-runs the connect flow, for use after a Failed state.
func (s *Synchronizer) Reconnect(ctx context.Context) error {
	return s.start(ctx)
}

func (s *Synchronizer) start(ctx context.Context) error {
	err := s.manager.EnsureConnected(ctx)
	if session.IsCredentialError(err) {
		_ = s.deps.Store.ClearToken(ctx)
		return err
	}
	if err != nil {
		log.Printf("realtime connect pending retry: %v", err)
	}

	s.mu.Lock()
	if s.stopPoll == nil {
		pollCtx, cancel := context.WithCancel(context.Background())
		s.stopPoll = cancel
		s.relay.StartPolling(pollCtx)
	}
	s.mu.Unlock()
	return nil
}

// Logout tears the connection down before clearing state so no inbound
// event lands in a reset component.
func (s *Synchronizer) Logout(ctx context.Context) {
	userID := s.manager.UserID()
	if userID == "" {
		if token, err := s.deps.Store.GetToken(ctx); err == nil {
			if sess, err := session.Parse(token, s.deps.Now()); err == nil {
				userID = sess.UserID
			}
		}
	}

	s.mu.Lock()
	view := s.view
	s.mu.Unlock()
	if view != nil {
		view.Close()
	}

	s.manager.Teardown()
	s.reset()
	if err := s.deps.Store.ClearToken(ctx); err != nil {
		log.Printf("realtime clear credential failed: %v", err)
	}
	if userID != "" {
		s.deps.Audit.SessionEnded(ctx, observability.RequestIDFromContext(ctx), userID, "logout")
	}
}

// Close releases everything without touching the stored credential.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	view := s.view
	s.mu.Unlock()
	if view != nil {
		view.Close()
	}
	s.manager.Teardown()
	s.reset()
	s.rooms.Close()
	s.cancelHook()
}

func (s *Synchronizer) reset() {
	s.mu.Lock()
	if s.stopPoll != nil {
		s.stopPoll()
		s.stopPoll = nil
	}
	s.mu.Unlock()

	s.relay.Reset()
	s.reducer.Reset()
	s.typing.Reset()
	s.rooms.Reset()
}

// LoadHistory merges the REST history of roomID into its log, falling back to
// the local archive when the backend is unreachable.
func (s *Synchronizer) LoadHistory(ctx context.Context, roomID string) (int, error) {
	msgs, err := s.deps.API.RoomMessages(ctx, roomID)
	if err != nil {
		if s.deps.Archive == nil {
			return 0, err
		}
		log.Printf("realtime history from archive room_id=%s: %v", roomID, err)
		if msgs, err = s.deps.Archive.ListByRoom(ctx, roomID, historyLimit); err != nil {
			return 0, err
		}
	}

	added := 0
	for _, msg := range msgs {
		if s.reducer.Ingest(msg) {
			added++
			s.archive(msg)
		}
	}
	if added > 0 {
		s.publish(models.Change{Kind: models.ChangeMessage, RoomID: roomID})
	}
	return added, nil
}

// Send posts text to roomID, stopping the typing indicator of the open view.
func (s *Synchronizer) Send(roomID, text string) (models.Message, error) {
	if view := s.viewFor(roomID); view != nil {
		return view.Send(text)
	}
	return s.sender.Send(roomID, text)
}

func (s *Synchronizer) Retry(roomID, clientID string) (models.Message, error) {
	return s.sender.Retry(roomID, clientID)
}

// Discard drops a failed local entry.
func (s *Synchronizer) Discard(roomID, clientID string) bool {
	if !s.reducer.Discard(roomID, clientID) {
		return false
	}
	s.publish(models.Change{Kind: models.ChangeMessage, RoomID: roomID})
	return true
}

// MarkRead advances the read boundary of roomID; an empty uptoID marks all.
func (s *Synchronizer) MarkRead(roomID, uptoID string) bool {
	var moved bool
	if uptoID == "" {
		moved = s.reducer.MarkAllRead(roomID)
	} else {
		moved = s.reducer.MarkRead(roomID, uptoID)
	}
	if moved {
		s.publish(models.Change{Kind: models.ChangeUnread, RoomID: roomID, Payload: s.reducer.Unread(roomID)})
	}
	return moved
}

// Input forwards a keystroke to the open view of roomID.
func (s *Synchronizer) Input(roomID string) bool {
	view := s.viewFor(roomID)
	if view == nil {
		return false
	}
	view.Input()
	return true
}

func (s *Synchronizer) Typing(roomID string) []string {
	return s.typing.Typing(roomID)
}

// View returns the open chat view or nil.
func (s *Synchronizer) View() *ChatView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Synchronizer) viewFor(roomID string) *ChatView {
	view := s.View()
	if view == nil || view.roomID != roomID {
		return nil
	}
	return view
}

func (s *Synchronizer) publish(change models.Change) {
	if s.deps.Notifier != nil {
		s.deps.Notifier.Publish(change)
	}
}

func (s *Synchronizer) archive(msg models.Message) {
	if s.deps.Archive == nil || msg.ID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.deps.Archive.Save(ctx, msg); err != nil {
		log.Printf("realtime archive failed id=%s room_id=%s: %v", msg.ID, msg.RoomID, err)
	}
}
