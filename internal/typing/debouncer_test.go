package typing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/timers"
	"hobbymeet-sync/internal/ws"
	"hobbymeet-sync/internal/ws/wstest"
)

type emitter struct{ t *wstest.Transport }

func (e emitter) Current() ws.Transport { return e.t }

func newDebouncer(t *testing.T) (*Debouncer, *wstest.Transport, *timers.Fake) {
	t.Helper()
	tr := wstest.New()
	require.NoError(t, tr.Connect(context.Background(), "token"))
	fake := timers.NewFake()
	return NewDebouncer(emitter{t: tr}, 2*time.Second, fake.AfterFunc), tr, fake
}

func TestBurstSendsOneStartAndOneStop(t *testing.T) {
	d, tr, fake := newDebouncer(t)

	for i := 0; i < 10; i++ {
		d.OnInputChange("evt-1")
		fake.Advance(500 * time.Millisecond)
	}
	assert.Equal(t, 1, tr.Count(models.EventTypingStart))
	assert.Zero(t, tr.Count(models.EventTypingStop))

	fake.Advance(2 * time.Second)
	assert.Equal(t, 1, tr.Count(models.EventTypingStop))
	assert.False(t, d.Active())
	assert.Zero(t, fake.Pending())
}

func TestSendStopsImmediatelyAndOnlyOnce(t *testing.T) {
	d, tr, fake := newDebouncer(t)

	d.OnInputChange("evt-1")
	d.OnSend()
	assert.Equal(t, []string{models.EventTypingStart, models.EventTypingStop}, tr.Events())

	fake.Advance(5 * time.Second)
	d.OnSend()
	d.OnRoomExit()
	assert.Equal(t, 1, tr.Count(models.EventTypingStop))
}

func TestNewBurstAfterStopStartsAgain(t *testing.T) {
	d, tr, fake := newDebouncer(t)

	d.OnInputChange("evt-1")
	fake.Advance(3 * time.Second)
	d.OnInputChange("evt-1")

	assert.Equal(t, 2, tr.Count(models.EventTypingStart))
	assert.Equal(t, 1, tr.Count(models.EventTypingStop))
}

func TestRoomSwitchStopsPreviousRoom(t *testing.T) {
	d, tr, _ := newDebouncer(t)

	d.OnInputChange("evt-1")
	d.OnInputChange("evt-2")

	emits := tr.Emits()
	require.Len(t, emits, 3)
	var p models.TypingPayload
	require.NoError(t, emits[1].Decode(&p))
	assert.Equal(t, models.EventTypingStop, emits[1].Event)
	assert.Equal(t, "evt-1", p.RoomID)
	require.NoError(t, emits[2].Decode(&p))
	assert.Equal(t, "evt-2", p.RoomID)
}

func TestFailedStartIsRetriedOnNextKeystroke(t *testing.T) {
	tr := wstest.New()
	fake := timers.NewFake()
	d := NewDebouncer(emitter{t: tr}, time.Second, fake.AfterFunc)

	d.OnInputChange("evt-1")
	assert.False(t, d.Active())
	assert.Zero(t, fake.Pending())

	require.NoError(t, tr.Connect(context.Background(), "token"))
	d.OnInputChange("evt-1")
	assert.True(t, d.Active())
	assert.Equal(t, 1, tr.Count(models.EventTypingStart))
}

func TestCloseStopsAndDisables(t *testing.T) {
	d, tr, fake := newDebouncer(t)

	d.OnInputChange("evt-1")
	d.Close()
	d.OnInputChange("evt-1")
	fake.Advance(time.Minute)

	assert.Equal(t, []string{models.EventTypingStart, models.EventTypingStop}, tr.Events())
}
