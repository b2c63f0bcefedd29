package typing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hobbymeet-sync/internal/timers"
)

type setChange struct {
	room  string
	users []string
}

func newSet() (*Set, *timers.Fake, *[]setChange) {
	fake := timers.NewFake()
	var changes []setChange
	s := NewSet(6*time.Second, fake.AfterFunc, func() string { return "me" }, func(room string, users []string) {
		changes = append(changes, setChange{room: room, users: users})
	})
	return s, fake, &changes
}

func TestSetTracksOthersSorted(t *testing.T) {
	s, _, changes := newSet()

	s.Start("evt-1", "zoe")
	s.Start("evt-1", "ann")
	s.Start("evt-1", "me")
	s.Start("evt-1", "ann")

	assert.Equal(t, []string{"ann", "zoe"}, s.Typing("evt-1"))
	assert.Len(t, *changes, 2)
	assert.Empty(t, s.Typing("evt-2"))
}

func TestSetStopRemovesUser(t *testing.T) {
	s, fake, changes := newSet()

	s.Start("evt-1", "ann")
	s.Stop("evt-1", "ann")
	s.Stop("evt-1", "ann")

	assert.Empty(t, s.Typing("evt-1"))
	assert.Len(t, *changes, 2)
	assert.Equal(t, []string{}, (*changes)[1].users)
	assert.Zero(t, fake.Pending())
}

func TestSetEntryExpiresWithoutRefresh(t *testing.T) {
	s, fake, changes := newSet()

	s.Start("evt-1", "ann")
	fake.Advance(4 * time.Second)
	s.Start("evt-1", "ann")
	fake.Advance(4 * time.Second)
	assert.Equal(t, []string{"ann"}, s.Typing("evt-1"))

	fake.Advance(2 * time.Second)
	assert.Empty(t, s.Typing("evt-1"))
	assert.Len(t, *changes, 2)
}

func TestSetClearRoomAndReset(t *testing.T) {
	s, fake, changes := newSet()

	s.Start("evt-1", "ann")
	s.Start("evt-2", "bob")
	s.ClearRoom("evt-1")
	assert.Empty(t, s.Typing("evt-1"))
	assert.Equal(t, setChange{room: "evt-1", users: []string{}}, (*changes)[2])

	s.ClearRoom("evt-1")
	assert.Len(t, *changes, 3)

	s.Reset()
	assert.Empty(t, s.Typing("evt-2"))
	assert.Zero(t, fake.Pending())
	assert.Len(t, *changes, 3)
}
