package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Lifecycle events dispatched by every Transport.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

var (
	ErrUnauthorized   = errors.New("realtime handshake rejected credential")
	ErrNotConnected   = errors.New("realtime transport not connected")
	ErrDisconnected   = errors.New("realtime transport disconnected before ack")
	ErrAckTimeout     = errors.New("realtime ack timed out")
	ErrSendBufferFull = errors.New("realtime send buffer full")
)

// Handler receives the raw data of an inbound event.
type Handler func(data json.RawMessage)

// AckFunc receives the server acknowledgement of an emitted event.
type AckFunc func(data json.RawMessage, err error)

// Transport is the bidirectional realtime connection the synchronizer runs on.
// Implementations never reconnect on their own.
type Transport interface {
	Connect(ctx context.Context, token string) error
	Disconnect()
	Connected() bool
	Emit(event string, payload interface{}, ack AckFunc) error
	On(event string, h Handler) Subscription
	Off(sub Subscription)
}

// Subscription identifies one registered handler.
type Subscription struct {
	Event string
	id    uint64
}

// DisconnectInfo is the data of EventDisconnect.
type DisconnectInfo struct {
	Reason    string `json:"reason,omitempty"`
	Initiated bool   `json:"initiated"`
}

// ConnectErrorInfo is the data of EventConnectError.
type ConnectErrorInfo struct {
	Error        string `json:"error"`
	Unauthorized bool   `json:"unauthorized"`
}

type registered struct {
	id uint64
	h  Handler
}

// Registry is an ordered handler table shared by Transport implementations.
type Registry struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[string][]registered
}

// On registers h for event.
func (r *Registry) On(event string, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string][]registered)
	}
	r.next++
	r.handlers[event] = append(r.handlers[event], registered{id: r.next, h: h})
	return Subscription{Event: event, id: r.next}
}

// Off removes a handler. Unknown subscriptions are ignored.
func (r *Registry) Off(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[sub.Event]
	for i, reg := range list {
		if reg.id == sub.id {
			r.handlers[sub.Event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(r.handlers[sub.Event]) == 0 {
		delete(r.handlers, sub.Event)
	}
}

// Dispatch calls every handler of event in registration order.
func (r *Registry) Dispatch(event string, data json.RawMessage) {
	r.mu.RLock()
	list := make([]registered, len(r.handlers[event]))
	copy(list, r.handlers[event])
	r.mu.RUnlock()

	for _, reg := range list {
		reg.h(data)
	}
}

// Count returns the number of handlers registered for event.
func (r *Registry) Count(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// Total returns the number of handlers across all events.
func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, list := range r.handlers {
		n += len(list)
	}
	return n
}

// Group pairs every subscription made through it with an Off on Close.
type Group struct {
	mu     sync.Mutex
	t      Transport
	subs   []Subscription
	closed bool
}

// NewGroup binds a group to t.
func NewGroup(t Transport) *Group {
	return &Group{t: t}
}

// On registers h on the bound transport.
func (g *Group) On(event string, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.t == nil {
		return
	}
	g.subs = append(g.subs, g.t.On(event, h))
}

// Close unsubscribes everything registered through the group. Idempotent.
func (g *Group) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	if g.t == nil {
		return
	}
	for _, sub := range g.subs {
		g.t.Off(sub)
	}
	g.subs = nil
}

// Decode unmarshals event data into v.
func Decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return errors.New("empty event data")
	}
	return json.Unmarshal(data, v)
}
