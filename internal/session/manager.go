package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/observability"
	"hobbymeet-sync/internal/timers"
	"hobbymeet-sync/internal/ws"
)

// TransportFactory builds a fresh, disconnected transport.
type TransportFactory func() ws.Transport

// DefaultMaxRetries bounds reconnect attempts when Config leaves it unset.
const DefaultMaxRetries = 5

type Config struct {
	MaxRetries    int
	RetryInterval time.Duration
	AfterFunc     timers.AfterFunc
	Now           func() time.Time
}

type listener struct {
	id uint64
	fn func(models.SessionStatus)
}

type continuation struct {
	id uint64
	fn func()
}

// Manager owns the single realtime transport of the logged in user and drives
// it through the connection state machine.
type Manager struct {
	cfg     Config
	store   CredentialStore
	factory TransportFactory

	mu          sync.Mutex
	state       models.ConnState
	transport   ws.Transport
	group       *ws.Group
	session     *Session
	lastErr     error
	epoch       uint64
	gen         uint64
	attempt     int
	retry       timers.Timer
	connectedAt time.Time

	seq           uint64
	listeners     []listener
	continuations []continuation
	created       []func(ws.Transport)
	released      []func(ws.Transport)
}

func NewManager(cfg Config, store CredentialStore, factory TransportFactory) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = timers.Real
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	observability.SetConnState(models.ConnStateDisconnected)
	return &Manager{
		cfg:     cfg,
		store:   store,
		factory: factory,
		state:   models.ConnStateDisconnected,
	}
}

// EnsureConnected connects with the stored credential, creating the transport
// on first use. It is a no-op while connected or while an attempt is in
// flight. A transient failure schedules background retries and is returned.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case models.ConnStateConnected, models.ConnStateConnecting, models.ConnStateReconnecting:
		m.mu.Unlock()
		return nil
	}
	m.attempt = 0
	m.lastErr = nil
	status := m.transitionLocked(models.ConnStateConnecting)
	gen := m.gen
	m.mu.Unlock()

	m.notify(status)
	return m.connect(ctx, gen)
}

func (m *Manager) connect(ctx context.Context, gen uint64) error {
	token, err := m.store.GetToken(ctx)
	if err != nil {
		return m.fail(gen, fmt.Errorf("read credential: %w", err))
	}
	sess, err := Parse(token, m.cfg.Now())
	if err != nil {
		return m.fail(gen, err)
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return ErrTornDown
	}
	m.session = sess
	t := m.transport
	var hooks []func(ws.Transport)
	if t == nil {
		t = m.factory()
		m.transport = t
		m.group = ws.NewGroup(t)
		m.group.On(ws.EventDisconnect, func(data json.RawMessage) {
			m.handleDisconnect(gen, data)
		})
		hooks = append(hooks, m.created...)
	}
	m.mu.Unlock()

	for _, fn := range hooks {
		fn(t)
	}

	err = t.Connect(ctx, token)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if err == nil {
			t.Disconnect()
		}
		return ErrTornDown
	}
	if err != nil {
		m.mu.Unlock()
		return m.fail(gen, err)
	}
	m.epoch++
	m.attempt = 0
	m.lastErr = nil
	m.connectedAt = m.cfg.Now()
	status := m.transitionLocked(models.ConnStateConnected)
	conts := m.continuations
	m.continuations = nil
	epoch := m.epoch
	m.mu.Unlock()

	log.Printf("session connected user_id=%s epoch=%d", sess.UserID, epoch)
	m.publish("ws_connect", sess.UserID, "", time.Time{})
	m.notify(status)
	for _, c := range conts {
		c.fn()
	}
	return nil
}

// fail classifies err: credential errors are terminal, anything else is
// retried with linear backoff until the budget is spent.
func (m *Manager) fail(gen uint64, err error) error {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return err
	}
	userID := m.userIDLocked()

	if IsCredentialError(err) {
		m.lastErr = err
		m.session = nil
		status := m.transitionLocked(models.ConnStateFailed)
		m.mu.Unlock()

		log.Printf("session credential rejected user_id=%s: %v", userID, err)
		m.publish("ws_failed", userID, err.Error(), time.Time{})
		m.notify(status)
		return err
	}

	m.attempt++
	if m.attempt > m.cfg.MaxRetries {
		err = fmt.Errorf("%w after %d attempts: %v", ErrRetryBudgetSpent, m.attempt-1, err)
		m.lastErr = err
		status := m.transitionLocked(models.ConnStateFailed)
		m.mu.Unlock()

		log.Printf("session reconnect gave up user_id=%s: %v", userID, err)
		m.publish("ws_failed", userID, err.Error(), time.Time{})
		m.notify(status)
		return err
	}

	m.lastErr = err
	attempt := m.attempt
	delay := time.Duration(attempt) * m.cfg.RetryInterval
	status := m.transitionLocked(models.ConnStateReconnecting)
	m.retry = m.cfg.AfterFunc(delay, func() { m.retryTick(gen) })
	m.mu.Unlock()

	observability.IncReconnectAttempt()
	log.Printf("session reconnect scheduled user_id=%s attempt=%d delay=%s: %v", userID, attempt, delay, err)
	m.publish("ws_error", userID, err.Error(), time.Time{})
	m.notify(status)
	return err
}

func (m *Manager) retryTick(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != models.ConnStateReconnecting {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.mu.Unlock()

	_ = m.connect(context.Background(), gen)
}

func (m *Manager) handleDisconnect(gen uint64, data json.RawMessage) {
	var info ws.DisconnectInfo
	_ = ws.Decode(data, &info)
	if info.Initiated {
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.state != models.ConnStateConnected {
		m.mu.Unlock()
		return
	}
	m.attempt = 0
	since := m.connectedAt
	userID := m.userIDLocked()
	m.mu.Unlock()

	m.publish("ws_disconnect", userID, info.Reason, since)
	_ = m.fail(gen, fmt.Errorf("%w: %s", ErrConnectionLost, info.Reason))
}

// Teardown releases the transport and drops retries and pending
// continuations. Safe to call in any state.
func (m *Manager) Teardown() {
	m.mu.Lock()
	m.gen++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	t, group := m.transport, m.group
	m.transport, m.group = nil, nil
	m.continuations = nil
	userID := m.userIDLocked()
	m.session = nil
	m.lastErr = nil
	m.attempt = 0
	since := m.connectedAt
	status := m.transitionLocked(models.ConnStateDisconnected)
	hooks := append([]func(ws.Transport){}, m.released...)
	m.mu.Unlock()

	if group != nil {
		group.Close()
	}
	if t != nil {
		for _, fn := range hooks {
			fn(t)
		}
		t.Disconnect()
		m.publish("ws_disconnect", userID, "teardown", since)
		log.Printf("session torn down user_id=%s", userID)
	}
	m.notify(status)
}

// Current returns the transport or nil.
func (m *Manager) Current() ws.Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport
}

func (m *Manager) State() models.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the transport is live.
func (m *Manager) Connected() bool {
	return m.State() == models.ConnStateConnected
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Epoch increments on every successful connect.
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// Session returns a copy of the current identity.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// UserID returns the current user or "".
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userIDLocked()
}

func (m *Manager) Status() models.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// OnStateChange registers fn for every state transition.
func (m *Manager) OnStateChange(fn func(models.SessionStatus)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := m.seq
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// OnceConnected runs fn after the next successful connect, or immediately
// when already connected. Teardown drops pending continuations.
func (m *Manager) OnceConnected(fn func()) (cancel func()) {
	m.mu.Lock()
	if m.state == models.ConnStateConnected {
		m.mu.Unlock()
		fn()
		return func() {}
	}
	m.seq++
	id := m.seq
	m.continuations = append(m.continuations, continuation{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, c := range m.continuations {
			if c.id == id {
				m.continuations = append(m.continuations[:i:i], m.continuations[i+1:]...)
				return
			}
		}
	}
}

// OnTransport registers hooks run when a transport is created and right
// before it is released.
func (m *Manager) OnTransport(created, released func(ws.Transport)) {
	m.mu.Lock()
	if created != nil {
		m.created = append(m.created, created)
	}
	if released != nil {
		m.released = append(m.released, released)
	}
	t := m.transport
	m.mu.Unlock()

	if t != nil && created != nil {
		created(t)
	}
}

func (m *Manager) transitionLocked(state models.ConnState) *models.SessionStatus {
	if m.state == state {
		return nil
	}
	m.state = state
	observability.SetConnState(state)
	status := m.statusLocked()
	return &status
}

func (m *Manager) statusLocked() models.SessionStatus {
	status := models.SessionStatus{
		UserID: m.userIDLocked(),
		State:  m.state,
		Epoch:  m.epoch,
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}

func (m *Manager) userIDLocked() string {
	if m.session == nil {
		return ""
	}
	return m.session.UserID
}

func (m *Manager) notify(status *models.SessionStatus) {
	if status == nil {
		return
	}
	m.mu.Lock()
	ls := append([]listener(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range ls {
		l.fn(*status)
	}
}

func (m *Manager) publish(event, userID, reason string, since time.Time) {
	observability.PublishWSEvent(context.Background(), observability.RoutingSessionEvents, observability.WSEvent{
		Kind:   "session",
		Event:  event,
		Reason: reason,
	}, observability.Identity{UserID: userID}, since, nil)
}
