package rooms

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/ws"
	"hobbymeet-sync/internal/ws/wstest"
)

type fakeConn struct {
	mu        sync.Mutex
	t         *wstest.Transport
	connected bool
	epoch     uint64
	seq       int
	conts     map[int]func()
	listeners []func(models.SessionStatus)
}

func newFakeConn() *fakeConn {
	return &fakeConn{t: wstest.New(), conts: map[int]func(){}}
}

func (c *fakeConn) Current() ws.Transport { return c.t }

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *fakeConn) OnceConnected(fn func()) func() {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		fn()
		return func() {}
	}
	c.seq++
	id := c.seq
	c.conts[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.conts, id)
	}
}

func (c *fakeConn) OnStateChange(fn func(models.SessionStatus)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
	return func() {}
}

func (c *fakeConn) connect(t *testing.T) {
	require.NoError(t, c.t.Connect(context.Background(), "token"))
	c.mu.Lock()
	c.connected = true
	c.epoch++
	status := models.SessionStatus{State: models.ConnStateConnected, Epoch: c.epoch}
	listeners := append([]func(models.SessionStatus){}, c.listeners...)
	conts := c.conts
	c.conts = map[int]func(){}
	c.mu.Unlock()

	for _, l := range listeners {
		l(status)
	}
	for _, fn := range conts {
		fn()
	}
}

func (c *fakeConn) drop() {
	c.t.Drop("eof")
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

type signal struct {
	Event  string
	RoomID string
}

func signals(t *testing.T, tr *wstest.Transport) []signal {
	t.Helper()
	var out []signal
	for _, e := range tr.Emits() {
		var p models.RoomPayload
		require.NoError(t, e.Decode(&p))
		out = append(out, signal{Event: e.Event, RoomID: p.RoomID})
	}
	return out
}

func join(room string) signal  { return signal{models.EventRoomJoin, room} }
func leave(room string) signal { return signal{models.EventRoomLeave, room} }

func TestEnterIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	conn.connect(t)
	tracker := NewTracker(conn, nil)

	for i := 0; i < 3; i++ {
		tracker.Enter("evt-42")
	}

	assert.Equal(t, []signal{join("evt-42")}, signals(t, conn.t))
	m, ok := tracker.Membership()
	require.True(t, ok)
	assert.Equal(t, "evt-42", m.RoomID)
	assert.True(t, m.Active)
}

func TestSwitchingRoomsLeavesPreviousFirst(t *testing.T) {
	conn := newFakeConn()
	conn.connect(t)
	tracker := NewTracker(conn, nil)

	tracker.Enter("A")
	tracker.Enter("B")

	assert.Equal(t, []signal{join("A"), leave("A"), join("B")}, signals(t, conn.t))
	assert.Equal(t, "B", tracker.Active())
}

func TestExitIgnoresStaleRoom(t *testing.T) {
	conn := newFakeConn()
	conn.connect(t)
	tracker := NewTracker(conn, nil)

	tracker.Enter("A")
	tracker.Enter("B")
	tracker.Exit("A")
	tracker.Exit("never-entered")

	assert.Equal(t, []signal{join("A"), leave("A"), join("B")}, signals(t, conn.t))
	assert.Equal(t, "B", tracker.Active())

	tracker.Exit("B")
	tracker.Exit("B")
	assert.Equal(t, 2, conn.t.Count(models.EventRoomLeave))
	assert.Empty(t, tracker.Active())
}

func TestEnterDefersUntilConnected(t *testing.T) {
	conn := newFakeConn()
	tracker := NewTracker(conn, nil)

	tracker.Enter("evt-7")
	assert.Empty(t, conn.t.Emits())
	assert.Equal(t, "evt-7", tracker.Pending())

	conn.connect(t)

	assert.Equal(t, []signal{join("evt-7")}, signals(t, conn.t))
	assert.Equal(t, "evt-7", tracker.Active())
	assert.Empty(t, tracker.Pending())
}

func TestExitBeforeConnectDropsDeferredJoin(t *testing.T) {
	conn := newFakeConn()
	tracker := NewTracker(conn, nil)

	tracker.Enter("evt-7")
	tracker.Exit("evt-7")
	conn.connect(t)

	assert.Empty(t, conn.t.Emits())
	assert.Empty(t, tracker.Active())
}

func TestDeferredSwitchJoinsOnlyLatestRoom(t *testing.T) {
	conn := newFakeConn()
	tracker := NewTracker(conn, nil)

	tracker.Enter("A")
	tracker.Enter("B")
	conn.connect(t)

	assert.Equal(t, []signal{join("B")}, signals(t, conn.t))
}

func TestRejoinOncePerConnection(t *testing.T) {
	conn := newFakeConn()
	conn.connect(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewTracker(conn, func() time.Time { return now })

	tracker.Enter("A")
	conn.drop()
	conn.connect(t)
	tracker.Enter("A")

	assert.Equal(t, []signal{join("A"), join("A")}, signals(t, conn.t))
	m, ok := tracker.Membership()
	require.True(t, ok)
	assert.Equal(t, now, m.JoinedAt)
}

func TestResetForgetsWithoutEmitting(t *testing.T) {
	conn := newFakeConn()
	conn.connect(t)
	tracker := NewTracker(conn, nil)

	tracker.Enter("A")
	tracker.Reset()
	tracker.Exit("A")

	assert.Equal(t, []signal{join("A")}, signals(t, conn.t))
	_, ok := tracker.Membership()
	assert.False(t, ok)
}
