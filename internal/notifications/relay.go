// Package notifications merges pushed notifications with the REST snapshot
// into one unread-aware feed.
package notifications

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"hobbymeet-sync/internal/models"
	"hobbymeet-sync/internal/observability"
	"hobbymeet-sync/internal/timers"
)

const DefaultPollInterval = 30 * time.Second

var (
	ErrUnknownNotification = errors.New("unknown notification")
	errSnapshotStale       = errors.New("snapshot discarded after reset")
)

// API is the REST surface the relay depends on.
type API interface {
	ListNotifications(ctx context.Context) ([]models.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
}

// Outcome reports what OnPush did with a notification.
type Outcome int

const (
	Rejected Outcome = iota
	Suppressed
	Merged
	Added
)

func (o Outcome) String() string {
	switch o {
	case Suppressed:
		return "suppressed"
	case Merged:
		return "merged"
	case Added:
		return "added"
	default:
		return "rejected"
	}
}

type Config struct {
	PollInterval time.Duration
	AfterFunc    timers.AfterFunc
	Now          func() time.Time
}

type Relay struct {
	api      API
	cfg      Config
	onChange func(models.Change)
	flight   singleflight.Group

	mu         sync.Mutex
	feed       []models.Notification
	unread     int
	loaded     bool
	epoch      uint64
	activeRoom string
	feedOpen   bool
	pollGen    uint64
	pollTimer  timers.Timer
}

func NewRelay(api API, cfg Config, onChange func(models.Change)) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = timers.Real
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if onChange == nil {
		onChange = func(models.Change) {}
	}
	return &Relay{api: api, cfg: cfg, onChange: onChange}
}

// LoadSnapshot fetches the feed once per session. Concurrent callers share a
// single request; a failed fetch leaves the relay unloaded so the next call
// tries again.
func (r *Relay) LoadSnapshot(ctx context.Context) error {
	r.mu.Lock()
	if r.loaded {
		r.mu.Unlock()
		return nil
	}
	epoch := r.epoch
	r.mu.Unlock()

	_, err, _ := r.flight.Do("snapshot", func() (interface{}, error) {
		list, err := r.api.ListNotifications(ctx)
		if err != nil {
			return nil, err
		}
		if !r.applySnapshot(epoch, list) {
			return nil, errSnapshotStale
		}
		return nil, nil
	})
	if errors.Is(err, errSnapshotStale) {
		return nil
	}
	if err != nil {
		log.Printf("notifications snapshot failed: %v", err)
		return err
	}
	return nil
}

// applySnapshot merges list into the feed. From here on the counter is the
// number of unread feed entries.
func (r *Relay) applySnapshot(epoch uint64, list []models.Notification) bool {
	r.mu.Lock()
	if epoch != r.epoch || r.loaded {
		r.mu.Unlock()
		return epoch == r.epoch
	}

	byID := make(map[string]int, len(r.feed))
	for i, n := range r.feed {
		byID[n.ID] = i
	}
	for _, n := range list {
		if i, ok := byID[n.ID]; ok {
			r.feed[i] = mergeRead(r.feed[i], n)
			continue
		}
		byID[n.ID] = len(r.feed)
		r.feed = append(r.feed, n)
	}
	sort.SliceStable(r.feed, func(i, j int) bool {
		return r.feed[i].CreatedAt.After(r.feed[j].CreatedAt)
	})
	r.unread = r.countUnreadLocked()
	r.loaded = true
	unread := r.unread
	r.mu.Unlock()

	r.onChange(models.Change{Kind: models.ChangeUnread, Payload: unread})
	return true
}

// Loaded reports whether the snapshot has been fetched this session.
func (r *Relay) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// OnPush ingests a server-pushed notification.
func (r *Relay) OnPush(n models.Notification) Outcome {
	outcome := r.push(n)
	observability.IncNotificationOutcome(outcome.String())
	return outcome
}

func (r *Relay) push(n models.Notification) Outcome {
	if n.ID == "" || !n.Type.Valid() {
		return Rejected
	}

	r.mu.Lock()
	if r.activeRoom != "" && n.RoomID == r.activeRoom {
		r.mu.Unlock()
		return Suppressed
	}
	if i, ok := r.indexLocked(n.ID); ok {
		prev := r.feed[i]
		merged := mergeRead(prev, n)
		r.feed[i] = merged
		if prev.Unread() && !merged.Unread() {
			r.unread = floor(r.unread - 1)
		}
		unread := r.unread
		r.mu.Unlock()
		r.onChange(models.Change{Kind: models.ChangeUnread, Payload: unread})
		return Merged
	}

	r.feed = append([]models.Notification{n}, r.feed...)
	if n.Unread() {
		r.unread++
	}
	unread := r.unread
	r.mu.Unlock()

	r.onChange(models.Change{Kind: models.ChangeNotification, RoomID: n.RoomID, Payload: n})
	r.onChange(models.Change{Kind: models.ChangeUnread, Payload: unread})
	return Added
}

// MarkRead marks one notification read locally, then on the server. The
// local state is not rolled back when the request fails.
func (r *Relay) MarkRead(ctx context.Context, id string) error {
	r.mu.Lock()
	i, ok := r.indexLocked(id)
	if !ok {
		r.mu.Unlock()
		return ErrUnknownNotification
	}
	if !r.feed[i].Unread() {
		r.mu.Unlock()
		return nil
	}
	at := r.cfg.Now()
	r.feed[i].ReadAt = &at
	r.unread = floor(r.unread - 1)
	unread := r.unread
	r.mu.Unlock()

	r.onChange(models.Change{Kind: models.ChangeUnread, Payload: unread})
	if err := r.api.MarkRead(ctx, id); err != nil {
		log.Printf("notifications mark read failed id=%s: %v", id, err)
		return err
	}
	return nil
}

// MarkAllRead marks the whole feed read and zeroes the counter.
func (r *Relay) MarkAllRead(ctx context.Context) error {
	r.mu.Lock()
	changed := r.unread > 0
	at := r.cfg.Now()
	for i := range r.feed {
		if r.feed[i].Unread() {
			r.feed[i].ReadAt = &at
			changed = true
		}
	}
	r.unread = 0
	r.mu.Unlock()

	if !changed {
		return nil
	}
	r.onChange(models.Change{Kind: models.ChangeUnread, Payload: 0})
	if err := r.api.MarkAllRead(ctx); err != nil {
		log.Printf("notifications mark all read failed: %v", err)
		return err
	}
	return nil
}

// Delete removes a notification on the server, then locally.
func (r *Relay) Delete(ctx context.Context, id string) error {
	if err := r.api.DeleteNotification(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	i, ok := r.indexLocked(id)
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if r.feed[i].Unread() {
		r.unread = floor(r.unread - 1)
	}
	r.feed = append(r.feed[:i], r.feed[i+1:]...)
	unread := r.unread
	r.mu.Unlock()

	r.onChange(models.Change{Kind: models.ChangeUnread, Payload: unread})
	return nil
}

// SetActiveRoom marks roomID as actively viewed. Pushes for it are suppressed
// and polling is paused until the marker is cleared.
func (r *Relay) SetActiveRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeRoom = roomID
}

func (r *Relay) ClearActiveRoom() {
	r.SetActiveRoom("")
}

func (r *Relay) ActiveRoom() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeRoom
}

// SetFeedOpen records whether a feed view is mounted.
func (r *Relay) SetFeedOpen(open bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedOpen = open
}

func (r *Relay) UnreadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread
}

// Feed returns a copy of the feed, newest first.
func (r *Relay) Feed() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Notification, len(r.feed))
	copy(out, r.feed)
	return out
}

// StartPolling refreshes the unread count every PollInterval until
// StopPolling or Reset.
func (r *Relay) StartPolling(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopPollLocked()
	gen := r.pollGen
	r.pollTimer = r.cfg.AfterFunc(r.cfg.PollInterval, func() { r.poll(ctx, gen) })
}

func (r *Relay) StopPolling() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopPollLocked()
}

// Polling reports whether a poll is scheduled.
func (r *Relay) Polling() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pollTimer != nil
}

func (r *Relay) poll(ctx context.Context, gen uint64) {
	r.mu.Lock()
	if gen != r.pollGen {
		r.mu.Unlock()
		return
	}
	skip := r.feedOpen || r.activeRoom != ""
	r.mu.Unlock()

	if skip {
		observability.IncNotificationPoll("skipped")
	} else {
		r.refreshCount(ctx, gen)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.pollGen || ctx.Err() != nil {
		return
	}
	r.pollTimer = r.cfg.AfterFunc(r.cfg.PollInterval, func() { r.poll(ctx, gen) })
}

func (r *Relay) refreshCount(ctx context.Context, gen uint64) {
	count, err := r.api.UnreadCount(ctx)
	if err != nil {
		observability.IncNotificationPoll("error")
		log.Printf("notifications poll failed: %v", err)
		return
	}
	observability.IncNotificationPoll("ok")

	r.mu.Lock()
	if gen != r.pollGen {
		r.mu.Unlock()
		return
	}
	if r.loaded {
		stale := floor(count) != r.unread
		if stale {
			r.loaded = false
		}
		r.mu.Unlock()
		if stale {
			log.Printf("notifications feed stale: server unread=%d, reloading", count)
			_ = r.LoadSnapshot(ctx)
		}
		return
	}
	r.unread = floor(count)
	unread := r.unread
	r.mu.Unlock()

	r.onChange(models.Change{Kind: models.ChangeUnread, Payload: unread})
}

// Reset stops polling and forgets the feed, the counter and both markers.
// An in-flight snapshot started before Reset is discarded.
func (r *Relay) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopPollLocked()
	r.epoch++
	r.feed = nil
	r.unread = 0
	r.loaded = false
	r.activeRoom = ""
	r.feedOpen = false
}

func (r *Relay) stopPollLocked() {
	if r.pollTimer != nil {
		r.pollTimer.Stop()
		r.pollTimer = nil
	}
	r.pollGen++
}

func (r *Relay) indexLocked(id string) (int, bool) {
	for i, n := range r.feed {
		if n.ID == id {
			return i, true
		}
	}
	return 0, false
}

func (r *Relay) countUnreadLocked() int {
	n := 0
	for _, item := range r.feed {
		if item.Unread() {
			n++
		}
	}
	return n
}

// mergeRead keeps prev and only lets ReadAt move from unset to set.
func mergeRead(prev, next models.Notification) models.Notification {
	if prev.ReadAt == nil && next.ReadAt != nil {
		at := *next.ReadAt
		prev.ReadAt = &at
	}
	return prev
}

func floor(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
