// Package wstest provides an in-memory ws.Transport for tests.
package wstest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"hobbymeet-sync/internal/ws"
)

// Emitted is one recorded outbound event.
type Emitted struct {
	Event   string
	Payload json.RawMessage
	ack     ws.AckFunc
}

// Decode unmarshals the recorded payload into v.
func (e Emitted) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Transport records emits and lets tests drive inbound and lifecycle events.
// Acks are held until the test resolves them.
type Transport struct {
	registry ws.Registry

	mu          sync.Mutex
	connected   bool
	connectErrs []error
	emitErr     error
	tokens      []string
	emits       []Emitted
	disconnects int
}

// New returns a disconnected fake.
func New() *Transport {
	return &Transport{}
}

var _ ws.Transport = (*Transport)(nil)

// FailConnect queues errors returned by the next Connect calls, in order.
func (t *Transport) FailConnect(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErrs = append(t.connectErrs, errs...)
}

// FailEmit makes every Emit return err until reset with nil.
func (t *Transport) FailEmit(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitErr = err
}

func (t *Transport) Connect(ctx context.Context, token string) error {
	t.mu.Lock()
	t.tokens = append(t.tokens, token)
	if len(t.connectErrs) > 0 {
		err := t.connectErrs[0]
		t.connectErrs = t.connectErrs[1:]
		t.mu.Unlock()
		t.dispatch(ws.EventConnectError, ws.ConnectErrorInfo{
			Error:        err.Error(),
			Unauthorized: errors.Is(err, ws.ErrUnauthorized),
		})
		return err
	}
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = true
	t.mu.Unlock()

	t.registry.Dispatch(ws.EventConnect, nil)
	return nil
}

func (t *Transport) Disconnect() {
	if !t.release() {
		return
	}
	t.dispatch(ws.EventDisconnect, ws.DisconnectInfo{Reason: "client disconnect", Initiated: true})
}

// Drop simulates a server-side connection loss.
func (t *Transport) Drop(reason string) {
	if !t.release() {
		return
	}
	t.dispatch(ws.EventDisconnect, ws.DisconnectInfo{Reason: reason})
}

func (t *Transport) release() bool {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return false
	}
	t.connected = false
	t.disconnects++
	var pending []ws.AckFunc
	for i := range t.emits {
		if t.emits[i].ack != nil {
			pending = append(pending, t.emits[i].ack)
			t.emits[i].ack = nil
		}
	}
	t.mu.Unlock()

	for _, ack := range pending {
		ack(nil, ws.ErrDisconnected)
	}
	return true
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Emit(event string, payload interface{}, ack ws.AckFunc) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return ws.ErrNotConnected
	}
	if t.emitErr != nil {
		return t.emitErr
	}
	t.emits = append(t.emits, Emitted{Event: event, Payload: raw, ack: ack})
	return nil
}

func (t *Transport) On(event string, h ws.Handler) ws.Subscription {
	return t.registry.On(event, h)
}

func (t *Transport) Off(sub ws.Subscription) {
	t.registry.Off(sub)
}

// Deliver dispatches an inbound server event with v encoded as its data.
func (t *Transport) Deliver(event string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	t.registry.Dispatch(event, raw)
}

// Ack resolves the acknowledgement of the i-th recorded emit. It reports
// whether an ack was still outstanding.
func (t *Transport) Ack(i int, data interface{}, err error) bool {
	t.mu.Lock()
	if i < 0 || i >= len(t.emits) || t.emits[i].ack == nil {
		t.mu.Unlock()
		return false
	}
	ack := t.emits[i].ack
	t.emits[i].ack = nil
	t.mu.Unlock()

	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	ack(raw, err)
	return true
}

// Emits returns a copy of every recorded emit.
func (t *Transport) Emits() []Emitted {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Emitted, len(t.emits))
	copy(out, t.emits)
	return out
}

// Events returns the recorded event names in emit order.
func (t *Transport) Events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.emits))
	for _, e := range t.emits {
		out = append(out, e.Event)
	}
	return out
}

// Count returns how many times event was emitted.
func (t *Transport) Count(event string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.emits {
		if e.Event == event {
			n++
		}
	}
	return n
}

// Tokens returns the credentials passed to Connect.
func (t *Transport) Tokens() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.tokens...)
}

// Disconnects returns how many times a live connection was released.
func (t *Transport) Disconnects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnects
}

// Handlers returns the number of registered handlers across all events.
func (t *Transport) Handlers() int {
	return t.registry.Total()
}

// HandlerCount returns the number of handlers registered for event.
func (t *Transport) HandlerCount(event string) int {
	return t.registry.Count(event)
}

func (t *Transport) dispatch(event string, info interface{}) {
	raw, _ := json.Marshal(info)
	t.registry.Dispatch(event, raw)
}
