package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"hobbymeet-sync/internal/mocks"
	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/session"
	"hobbymeet-sync/internal/timers"
	"hobbymeet-sync/internal/ws"
	"hobbymeet-sync/internal/ws/wstest"
)

var testNow = time.Date(2026, 6, 20, 18, 30, 0, 0, time.UTC)

func signToken(t *testing.T, userID string, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

type recorder struct {
	changes []models.Change
}

func (r *recorder) Publish(c models.Change) {
	r.changes = append(r.changes, c)
}

func (r *recorder) count(kind string) int {
	n := 0
	for _, c := range r.changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	sync      *Synchronizer
	transport *wstest.Transport
	store     *session.MemoryStore
	api       *mocks.APIMock
	archive   *mocks.ArchiveMock
	clock     *timers.Fake
	notes     *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		transport: wstest.New(),
		store:     &session.MemoryStore{},
		api:       new(mocks.APIMock),
		archive:   new(mocks.ArchiveMock),
		clock:     timers.NewFake(),
		notes:     &recorder{},
	}
	f.archive.On("Save", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.sync = New(Deps{
		Store:         f.store,
		Transport:     func() ws.Transport { return f.transport },
		API:           f.api,
		Archive:       f.archive,
		Notifier:      f.notes,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		TypingWindow:  2 * time.Second,
		PollInterval:  30 * time.Second,
		AfterFunc:     f.clock.AfterFunc,
		Now:           func() time.Time { return testNow },
	})
	return f
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	status, err := f.sync.Login(context.Background(), signToken(t, "u1", testNow.Add(time.Hour)))
	require.NoError(t, err)
	require.Equal(t, models.ConnStateConnected, status.State)
}

func roomsOf(t *testing.T, emits []wstest.Emitted) []string {
	t.Helper()
	out := make([]string, 0, len(emits))
	for _, e := range emits {
		var p models.RoomPayload
		require.NoError(t, e.Decode(&p))
		out = append(out, e.Event+" "+p.RoomID)
	}
	return out
}

func chatMessage(id, room, sender, text string) models.Message {
	return models.Message{ID: id, RoomID: room, SenderID: sender, Text: text, SentAt: testNow}
}

func TestRoomSwitchScenario(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.sync.OpenChat("evt-42")
	f.transport.Deliver(models.EventMessageNew, chatMessage("a", "evt-42", "bob", "first"))
	f.transport.Deliver(models.EventMessageNew, chatMessage("b", "evt-42", "ann", "second"))
	f.sync.CloseChat("evt-42")
	f.sync.OpenChat("evt-99")

	assert.Equal(t, []string{
		models.EventRoomJoin + " evt-42",
		models.EventRoomLeave + " evt-42",
		models.EventRoomJoin + " evt-99",
	}, roomsOf(t, f.transport.Emits()))

	var got []string
	for _, m := range f.sync.Reducer().Messages("evt-42") {
		got = append(got, m.ID)
	}
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, "evt-99", f.sync.Rooms().Active())
	assert.Equal(t, 1, f.transport.HandlerCount(models.EventMessageNew))
}

func TestEnterIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	first := f.sync.OpenChat("evt-42")
	second := f.sync.OpenChat("evt-42")

	assert.Same(t, first, second)
	assert.Equal(t, 1, f.transport.Count(models.EventRoomJoin))
}

func TestReplayedMessagesAreDeduplicated(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.transport.Deliver(models.EventMessageNew, chatMessage("a", "evt-42", "bob", "hi"))
	f.transport.Deliver(models.EventMessageNew, chatMessage("a", "evt-42", "bob", "hi"))

	assert.Equal(t, 1, f.sync.Reducer().Len("evt-42"))
	assert.Equal(t, 1, f.notes.count(models.ChangeMessage))
	f.archive.AssertNumberOfCalls(t, "Save", 1)
}

func TestInboundDeleteTypingAndNotifications(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.sync.OpenChat("evt-42")

	f.transport.Deliver(models.EventMessageNew, chatMessage("m1", "evt-42", "bob", "oops"))
	f.transport.Deliver(models.EventMessageDeleted, models.MessageDeletedPayload{RoomID: "evt-42", MessageID: "m1"})
	assert.True(t, f.sync.Reducer().Messages("evt-42")[0].Deleted())
	assert.Equal(t, 1, f.notes.count(models.ChangeDeletion))

	f.transport.Deliver(models.EventTypingStart, models.TypingPayload{RoomID: "evt-42", UserID: "bob"})
	f.transport.Deliver(models.EventTypingStart, models.TypingPayload{RoomID: "evt-42", UserID: "u1"})
	assert.Equal(t, []string{"bob"}, f.sync.Typing("evt-42"))
	f.transport.Deliver(models.EventTypingStop, models.TypingPayload{RoomID: "evt-42", UserID: "bob"})
	assert.Empty(t, f.sync.Typing("evt-42"))

	relay := f.sync.Relay()
	f.transport.Deliver(models.EventNotificationNew, models.Notification{ID: "n1", Type: models.NotificationJoinRequest, RoomID: "evt-7", CreatedAt: testNow})
	assert.Equal(t, 1, relay.UnreadCount())

	relay.SetActiveRoom("evt-7")
	f.transport.Deliver(models.EventNotificationNew, models.Notification{ID: "n2", Type: models.NotificationMessage, RoomID: "evt-7", CreatedAt: testNow})
	assert.Equal(t, 1, relay.UnreadCount())
}

func TestChatViewTypingLifecycle(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	view := f.sync.OpenChat("evt-42")

	view.Input()
	view.Input()
	_, err := view.Send("hello")
	require.NoError(t, err)
	view.Input()
	view.Close()
	view.Input()
	f.clock.Advance(10 * time.Second)

	assert.Equal(t, []string{
		models.EventRoomJoin,
		models.EventTypingStart,
		models.EventTypingStop,
		models.EventMessageSend,
		models.EventTypingStart,
		models.EventTypingStop,
		models.EventRoomLeave,
	}, f.transport.Events())
	assert.Nil(t, f.sync.View())
}

func TestReconnectRejoinsActiveRoomOnce(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.sync.OpenChat("evt-42")
	handlers := f.transport.Handlers()

	f.transport.Drop("transport close")
	assert.Equal(t, models.ConnStateReconnecting, f.sync.Status().State)

	f.clock.Advance(2 * time.Second)
	assert.Equal(t, models.ConnStateConnected, f.sync.Status().State)
	assert.Equal(t, 2, f.transport.Count(models.EventRoomJoin))
	assert.Equal(t, handlers, f.transport.Handlers())
}

func TestLogoutStopsInboundProcessing(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.sync.OpenChat("evt-42")
	f.transport.Deliver(models.EventMessageNew, chatMessage("a", "evt-42", "bob", "hi"))

	f.sync.Logout(context.Background())

	assert.Zero(t, f.transport.Handlers())
	assert.False(t, f.transport.Connected())
	assert.Equal(t, models.ConnStateDisconnected, f.sync.Status().State)
	assert.Zero(t, f.sync.Reducer().Len("evt-42"))
	assert.Empty(t, f.sync.Rooms().Active())
	assert.Zero(t, f.clock.Pending())

	token, err := f.store.GetToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)

	f.transport.Deliver(models.EventMessageNew, chatMessage("b", "evt-42", "bob", "late"))
	assert.Zero(t, f.sync.Reducer().Len("evt-42"))
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)

	_, err := f.sync.Login(context.Background(), signToken(t, "u1", testNow.Add(-time.Minute)))
	require.ErrorIs(t, err, session.ErrCredentialExpired)
	assert.Empty(t, f.transport.Tokens())

	f.transport.FailConnect(ws.ErrUnauthorized)
	_, err = f.sync.Login(context.Background(), signToken(t, "u1", testNow.Add(time.Hour)))
	require.ErrorIs(t, err, ws.ErrUnauthorized)
	assert.Equal(t, models.ConnStateFailed, f.sync.Status().State)

	token, _ := f.store.GetToken(context.Background())
	assert.Empty(t, token)
	assert.Zero(t, f.clock.Pending())
}

func TestResumeUsesStoredCredential(t *testing.T) {
	f := newFixture(t)

	ok, err := f.sync.Resume(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.store.SetToken(context.Background(), signToken(t, "u1", testNow.Add(time.Hour))))
	ok, err = f.sync.Resume(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "u1", f.sync.Status().UserID)
}

func TestPollingRunsWhileLoggedIn(t *testing.T) {
	f := newFixture(t)
	f.api.On("UnreadCount", mock.Anything).Return(3, nil).Once()
	f.login(t)

	f.clock.Advance(30 * time.Second)
	assert.Equal(t, 3, f.sync.Relay().UnreadCount())
	f.api.AssertExpectations(t)
}

func TestLoadHistoryFallsBackToArchive(t *testing.T) {
	f := newFixture(t)
	f.api.On("RoomMessages", mock.Anything, "evt-42").Return(nil, errors.New("offline")).Once()
	f.archive.On("ListByRoom", mock.Anything, "evt-42", historyLimit).Return([]models.Message{
		chatMessage("a", "evt-42", "bob", "cached"),
	}, nil).Once()

	added, err := f.sync.LoadHistory(context.Background(), "evt-42")
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, f.sync.Reducer().Len("evt-42"))
	f.api.AssertExpectations(t)
	f.archive.AssertExpectations(t)
}

func TestDisconnectedIndicatorIsPublished(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	f.transport.Drop("ping timeout")

	var states []models.ConnState
	for _, c := range f.notes.changes {
		if c.Kind == models.ChangeSession {
			states = append(states, c.Payload.(models.SessionStatus).State)
		}
	}
	assert.Equal(t, []models.ConnState{
		models.ConnStateConnecting,
		models.ConnStateConnected,
		models.ConnStateReconnecting,
	}, states)
}

func TestEchoWithoutClientIDPublishesLocalEntry(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	sent, err := f.sync.Send("evt-1", "hi")
	require.NoError(t, err)
	require.NotEmpty(t, sent.ClientID)

	f.transport.Deliver(models.EventMessageNew, chatMessage("srv-1", "evt-1", "u1", "hi"))

	last := f.notes.changes[len(f.notes.changes)-1]
	require.Equal(t, models.ChangeMessage, last.Kind)
	published := last.Payload.(models.Message)
	assert.Equal(t, "srv-1", published.ID)
	assert.Equal(t, sent.ClientID, published.ClientID)
	assert.Equal(t, models.MessageStatusSent, published.Status)
	assert.Equal(t, 1, f.sync.Reducer().Len("evt-1"))
}

func TestLateAckFoldsSkewedEcho(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	sent, err := f.sync.Send("evt-1", "hi")
	require.NoError(t, err)
	echo := chatMessage("srv-1", "evt-1", "u1", "hi")
	echo.SentAt = testNow.Add(time.Minute)
	f.transport.Deliver(models.EventMessageNew, echo)
	require.Equal(t, 2, f.sync.Reducer().Len("evt-1"))

	emits := f.transport.Emits()
	require.True(t, f.transport.Ack(len(emits)-1, models.Message{ID: "srv-1", RoomID: "evt-1"}, nil))

	got := f.sync.Reducer().Messages("evt-1")
	require.Len(t, got, 1)
	assert.Equal(t, "srv-1", got[0].ID)
	assert.Equal(t, sent.ClientID, got[0].ClientID)
}
