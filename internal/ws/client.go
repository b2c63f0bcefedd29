package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hobbymeet-sync/internal/observability"
)

// TypeAck is the envelope type the server uses to acknowledge an emitted event.
const TypeAck = "ack"

// Envelope wraps every frame on the realtime socket.
type Envelope struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ack_id,omitempty"`
	Error string          `json:"error,omitempty"`
}

// NewEnvelope creates an envelope with the given type and data.
func NewEnvelope(eventType string, data interface{}) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: eventType, Data: raw}, nil
}

// ParseEnvelope parses a JSON frame into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, errors.New("envelope without type")
	}
	return &env, nil
}

// ClientConfig configures the websocket transport.
type ClientConfig struct {
	URL          string
	DialTimeout  time.Duration
	AckTimeout   time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	Dialer       *websocket.Dialer
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	return c
}

type pendingAck struct {
	fn    AckFunc
	timer *time.Timer
}

// Client is a Transport over a single gorilla/websocket connection.
type Client struct {
	cfg      ClientConfig
	registry Registry

	mu        sync.Mutex
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	acks      map[string]pendingAck
	connected bool
}

// NewClient builds a disconnected client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		cfg:  cfg.withDefaults(),
		acks: make(map[string]pendingAck),
	}
}

var _ Transport = (*Client)(nil)

// Connect dials the backend with the given credential. Calling it while
// connected is a no-op.
func (c *Client) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ctx, span := otel.Tracer("hobbymeet-sync/ws").Start(ctx, "ws.dial", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	target, err := dialURL(c.cfg.URL, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid url")
		return err
	}
	span.SetAttributes(attribute.String("ws.host", target.Host))

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := c.cfg.Dialer.DialContext(dialCtx, target.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		err = classifyDialError(resp, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handshake failed")
		observability.IncWSEvent("backend", "connect_error")
		c.dispatchInfo(EventConnectError, ConnectErrorInfo{
			Error:        err.Error(),
			Unauthorized: errors.Is(err, ErrUnauthorized),
		})
		return err
	}

	c.mu.Lock()
	if c.connected {
		// Lost a race with a concurrent Connect.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.send = make(chan []byte, 256)
	c.done = make(chan struct{})
	c.connected = true
	send, done := c.send, c.done
	c.mu.Unlock()

	go c.writePump(conn, send, done)
	go c.readPump(conn)

	observability.IncWSEvent("backend", "connect")
	log.Printf("realtime connected host=%s", target.Host)
	c.registry.Dispatch(EventConnect, nil)
	return nil
}

// Disconnect closes the connection and fails outstanding acks.
func (c *Client) Disconnect() {
	if !c.release(nil) {
		return
	}
	observability.IncWSEvent("backend", "disconnect")
	c.dispatchInfo(EventDisconnect, DisconnectInfo{Reason: "client disconnect", Initiated: true})
}

// Connected reports whether a live connection exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Emit queues an event. When ack is non-nil it is called exactly once with the
// server acknowledgement, ErrAckTimeout or ErrDisconnected.
func (c *Client) Emit(event string, payload interface{}, ack AckFunc) error {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}

	if ack != nil {
		env.AckID = uuid.NewString()
		ackID := env.AckID
		c.acks[ackID] = pendingAck{
			fn: ack,
			timer: time.AfterFunc(c.cfg.AckTimeout, func() {
				c.resolveAck(ackID, nil, ErrAckTimeout)
			}),
		}
	}

	frame, err := json.Marshal(env)
	if err != nil {
		c.dropAck(env.AckID)
		return fmt.Errorf("encode %s: %w", event, err)
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.dropAck(env.AckID)
		return ErrSendBufferFull
	}
}

// On registers a handler for an inbound or lifecycle event.
func (c *Client) On(event string, h Handler) Subscription {
	return c.registry.On(event, h)
}

// Off removes a handler.
func (c *Client) Off(sub Subscription) {
	c.registry.Off(sub)
}

func (c *Client) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(65536)
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("realtime read error: %v", err)
			}
			if c.release(conn) {
				observability.IncWSEvent("backend", "drop")
				c.dispatchInfo(EventDisconnect, DisconnectInfo{Reason: err.Error()})
			}
			return
		}

		env, err := ParseEnvelope(frame)
		if err != nil {
			log.Printf("realtime dropped malformed frame: %v", err)
			continue
		}
		if env.Type == TypeAck {
			var ackErr error
			if env.Error != "" {
				ackErr = errors.New(env.Error)
			}
			c.resolveAck(env.AckID, env.Data, ackErr)
			continue
		}
		observability.IncWSEvent("backend", env.Type)
		c.registry.Dispatch(env.Type, env.Data)
	}
}

func (c *Client) writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-send:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Printf("realtime write error: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// release tears down the current connection. With a non-nil conn it only acts
// when conn is still the current connection. It reports whether it did.
func (c *Client) release(conn *websocket.Conn) bool {
	c.mu.Lock()
	if !c.connected || (conn != nil && c.conn != conn) {
		c.mu.Unlock()
		return false
	}
	current := c.conn
	close(c.done)
	c.conn = nil
	c.connected = false
	acks := c.acks
	c.acks = make(map[string]pendingAck)
	c.mu.Unlock()

	if conn != nil {
		current.Close()
	}
	for _, p := range acks {
		p.timer.Stop()
		p.fn(nil, ErrDisconnected)
	}
	return true
}

func (c *Client) resolveAck(id string, data json.RawMessage, err error) {
	if id == "" {
		return
	}
	c.mu.Lock()
	p, ok := c.acks[id]
	if ok {
		delete(c.acks, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	p.timer.Stop()
	p.fn(data, err)
}

// dropAck must be called with c.mu held.
func (c *Client) dropAck(id string) {
	if id == "" {
		return
	}
	if p, ok := c.acks[id]; ok {
		p.timer.Stop()
		delete(c.acks, id)
	}
}

func (c *Client) dispatchInfo(event string, info interface{}) {
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	c.registry.Dispatch(event, data)
}

func dialURL(raw, token string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported realtime url scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u, nil
}

func classifyDialError(resp *http.Response, err error) error {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	}
	return fmt.Errorf("dial realtime: %w", err)
}
