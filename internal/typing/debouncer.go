// Package typing rate-limits outbound typing signals and tracks who else is
// typing in a room.
package typing

import (
	"log"
	"sync"
	"time"

	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/timers"
	"hobbymeet-sync/internal/ws"
)

// DefaultWindow is the inactivity period after which a stop is sent.
const DefaultWindow = 2 * time.Second

// Emitter provides the transport typing signals go out on.
type Emitter interface {
	Current() ws.Transport
}

// Debouncer turns keystrokes into one start and exactly one stop per burst.
type Debouncer struct {
	conn   Emitter
	window time.Duration
	after  timers.AfterFunc

	mu      sync.Mutex
	room    string
	started bool
	timer   timers.Timer
	gen     uint64
	closed  bool
}

func NewDebouncer(conn Emitter, window time.Duration, after timers.AfterFunc) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	if after == nil {
		after = timers.Real
	}
	return &Debouncer{conn: conn, window: window, after: after}
}

// OnInputChange registers a keystroke in roomID.
func (d *Debouncer) OnInputChange(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || roomID == "" {
		return
	}

	if d.started && d.room != roomID {
		d.stopLocked()
	}
	if !d.started {
		if !d.emitLocked(models.EventTypingStart, roomID) {
			return
		}
		d.started = true
		d.room = roomID
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.after(d.window, func() { d.expire(gen) })
}

// OnSend stops an outstanding indicator immediately.
func (d *Debouncer) OnSend() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

// OnRoomExit stops an outstanding indicator immediately.
func (d *Debouncer) OnRoomExit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

// Close stops any outstanding indicator and disables the debouncer.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.closed = true
}

// Active reports whether a start is outstanding.
func (d *Debouncer) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

func (d *Debouncer) expire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen {
		return
	}
	d.timer = nil
	d.stopLocked()
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	if !d.started {
		return
	}
	d.started = false
	d.emitLocked(models.EventTypingStop, d.room)
}

func (d *Debouncer) emitLocked(event, roomID string) bool {
	t := d.conn.Current()
	if t == nil {
		return false
	}
	if err := t.Emit(event, models.TypingPayload{RoomID: roomID}, nil); err != nil {
		log.Printf("typing emit failed event=%s room_id=%s: %v", event, roomID, err)
		return false
	}
	return true
}
