package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

// Stream protocol constants.
const (
	// defaultDialTimeout is the maximum time for the WebSocket dial.
	defaultDialTimeout = 10 * time.Second

	// defaultPingInterval is the keep-alive ping cadence.
	defaultPingInterval = 30 * time.Second

	// resultTimeout is how long to wait for a command result message.
	resultTimeout = 10 * time.Second

	// readDeadlineFactor scales the ping interval into a read deadline.
	// Two missed pings mean the connection is considered dead.
	readDeadlineFactor = 2
)

// StreamConfig contains event-stream client settings.
type StreamConfig struct {
	URL          string
	Token        string
	PingInterval time.Duration

	// Reconnect policy: jittered exponential backoff between
	// InitialDelay and MaxDelay, bounded by MaxAttempts (0 = unlimited).
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMaxAttempts  int
}

// streamSubscription tracks one event subscription for dispatch and for
// replay after reconnect.
type streamSubscription struct {
	id        int    // external handle, stable across reconnects
	wireID    int    // id on the current connection
	eventType string // "" subscribes to all events
	handler   EventHandler
}

// outbound message shapes.
type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

type subscribeMessage struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

type pingMessage struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// envelope is the inbound message frame.
type envelope struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
	Error   *streamError    `json:"error,omitempty"`
}

type streamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StreamClient maintains a persistent WebSocket connection to the
// platform's event stream.
//
// It performs the auth handshake on connect, keeps the connection alive
// with pings, and reconnects with jittered exponential backoff when the
// connection drops. All tracked subscriptions are replayed after a
// successful reconnect. When reconnection attempts are exhausted the
// failure is surfaced through the OnDisconnect callback instead of
// looping forever.
//
// Thread Safety: all exported methods are safe for concurrent use.
type StreamClient struct {
	cfg    StreamConfig
	logger Logger

	connMu    sync.Mutex // guards conn and writes to it
	conn      *websocket.Conn
	connected bool

	subMu  sync.RWMutex
	subs   map[int]*streamSubscription // external id -> subscription
	byWire map[int]int                 // current wire id -> external id
	nextID int

	pendingMu sync.Mutex
	pending   map[int]chan error // wire id -> result channel

	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStreamClient creates a stream client. Connect must be called before use.
func NewStreamClient(cfg StreamConfig) *StreamClient {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReconnectInitialDelay <= 0 {
		cfg.ReconnectInitialDelay = time.Second
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = time.Minute
	}
	return &StreamClient{
		cfg:     cfg,
		logger:  noopLogger{},
		subs:    make(map[int]*streamSubscription),
		byWire:  make(map[int]int),
		pending: make(map[int]chan error),
	}
}

// SetLogger sets the logger for the stream client.
func (c *StreamClient) SetLogger(logger Logger) {
	c.logger = logger
}

// SetOnDisconnect registers a callback invoked when the client gives up
// reconnecting. The callback receives the terminal error.
func (c *StreamClient) SetOnDisconnect(fn func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = fn
	c.callbackMu.Unlock()
}

// Connect dials the platform, authenticates, and starts the receive and
// ping loops. The supplied context bounds the lifetime of the connection:
// cancelling it stops both loops and any reconnection in progress.
func (c *StreamClient) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	if err := c.dial(c.ctx); err != nil {
		c.cancel()
		return err
	}

	go c.receiveLoop()
	go c.pingLoop()

	return nil
}

// dial establishes one connection and runs the auth handshake.
func (c *StreamClient) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return ClassifyError("stream_dial", err)
	}

	if err := c.authenticate(conn); err != nil {
		conn.Close() //nolint:errcheck // Connection is already unusable
		return err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()

	c.logger.Info("event stream connected", "url", c.cfg.URL)
	return nil
}

// authenticate runs the platform handshake: receive auth_required, send
// the access token, expect auth_ok.
func (c *StreamClient) authenticate(conn *websocket.Conn) error {
	var hello envelope
	if err := conn.ReadJSON(&hello); err != nil {
		return ClassifyError("stream_auth", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("%w: unexpected greeting %q", ErrAuthFailed, hello.Type)
	}

	if err := conn.WriteJSON(authMessage{Type: "auth", AccessToken: c.cfg.Token}); err != nil {
		return ClassifyError("stream_auth", err)
	}

	var result envelope
	if err := conn.ReadJSON(&result); err != nil {
		return ClassifyError("stream_auth", err)
	}
	if result.Type != "auth_ok" {
		return fmt.Errorf("%w: %s", ErrAuthFailed, result.Type)
	}

	return nil
}

// IsConnected reports whether a live connection exists.
func (c *StreamClient) IsConnected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.connected
}

// SubscribeEvents registers a handler for platform events. An empty
// eventType subscribes to all events. The returned id is stable across
// reconnects and can be passed to Unsubscribe.
func (c *StreamClient) SubscribeEvents(eventType string, handler EventHandler) (int, error) {
	if handler == nil {
		return 0, fmt.Errorf("platform: subscribe: handler cannot be nil")
	}
	if !c.IsConnected() {
		return 0, ErrNotConnected
	}

	c.subMu.Lock()
	c.nextID++
	id := c.nextID
	sub := &streamSubscription{id: id, wireID: id, eventType: eventType, handler: handler}
	c.subs[id] = sub
	c.byWire[id] = id
	c.subMu.Unlock()

	if err := c.sendSubscribe(sub); err != nil {
		c.subMu.Lock()
		delete(c.subs, id)
		delete(c.byWire, id)
		c.subMu.Unlock()
		return 0, err
	}

	return id, nil
}

// Unsubscribe stops dispatching events for a subscription handle.
// The platform-side subscription is dropped on the next reconnect; local
// dispatch stops immediately.
func (c *StreamClient) Unsubscribe(id int) {
	c.subMu.Lock()
	if sub, ok := c.subs[id]; ok {
		delete(c.byWire, sub.wireID)
		delete(c.subs, id)
	}
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *StreamClient) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subs)
}

// sendSubscribe issues a subscribe_events command and waits for its result.
func (c *StreamClient) sendSubscribe(sub *streamSubscription) error {
	resultCh := make(chan error, 1)
	c.pendingMu.Lock()
	c.pending[sub.wireID] = resultCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, sub.wireID)
		c.pendingMu.Unlock()
	}()

	msg := subscribeMessage{ID: sub.wireID, Type: "subscribe_events", EventType: sub.eventType}
	if err := c.writeJSON(msg); err != nil {
		return err
	}

	select {
	case err := <-resultCh:
		if err != nil {
			return fmt.Errorf("platform: subscribe: %w", err)
		}
		return nil
	case <-time.After(resultTimeout):
		return &TransientError{Op: "subscribe", Err: fmt.Errorf("no result within %v", resultTimeout)}
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// writeJSON serialises one outbound message under the connection lock.
func (c *StreamClient) writeJSON(v any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return ClassifyError("stream_write", err)
	}
	return nil
}

// receiveLoop reads inbound messages until the connection fails, then
// attempts reconnection. It exits when the context is cancelled or when
// reconnection attempts are exhausted.
func (c *StreamClient) receiveLoop() {
	defer close(c.done)

	for {
		conn := c.currentConn()
		if conn == nil {
			return
		}

		// Liveness: every inbound message (including our ping results)
		// refreshes the deadline.
		deadline := time.Now().Add(readDeadlineFactor * c.cfg.PingInterval)
		_ = conn.SetReadDeadline(deadline) //nolint:errcheck // Deadline errors surface on Read

		var msg envelope
		if err := conn.ReadJSON(&msg); err != nil {
			if c.ctx.Err() != nil {
				return // Shutting down
			}
			c.logger.Warn("event stream read failed", "error", err)
			if !c.reconnect() {
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

// handleMessage routes one inbound message.
func (c *StreamClient) handleMessage(msg envelope) {
	switch msg.Type {
	case "event":
		c.dispatchEvent(msg)
	case "result":
		c.resolvePending(msg)
	case "ping":
		// Server-initiated keep-alive; answer in kind.
		_ = c.writeJSON(map[string]any{"id": msg.ID, "type": "pong"}) //nolint:errcheck // Failure surfaces on next read
	case "pong":
		// Keep-alive answer; the refreshed read deadline is the effect.
	default:
		c.logger.Debug("unhandled stream message", "type", msg.Type)
	}
}

// dispatchEvent decodes and delivers an event to its subscription handler.
func (c *StreamClient) dispatchEvent(msg envelope) {
	c.subMu.RLock()
	extID, ok := c.byWire[msg.ID]
	var sub *streamSubscription
	if ok {
		sub = c.subs[extID]
	}
	c.subMu.RUnlock()

	if sub == nil {
		return // Unsubscribed or unknown; drop silently
	}

	var ev Event
	if err := json.Unmarshal(msg.Event, &ev); err != nil {
		c.logger.Warn("undecodable event payload", "error", err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked", "panic", r, "event_type", ev.EventType)
		}
	}()
	sub.handler(ev)
}

// resolvePending completes a waiting command result.
func (c *StreamClient) resolvePending(msg envelope) {
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.ID]
	c.pendingMu.Unlock()
	if !ok {
		// Nobody waiting (e.g. fire-and-forget resubscribe); log rejections.
		if msg.Success != nil && !*msg.Success && msg.Error != nil {
			c.logger.Error("stream command rejected", "id", msg.ID, "code", msg.Error.Code, "message", msg.Error.Message)
		}
		return
	}

	var err error
	if msg.Success == nil || !*msg.Success {
		code, text := "unknown", "command rejected"
		if msg.Error != nil {
			code, text = msg.Error.Code, msg.Error.Message
		}
		err = fmt.Errorf("%s: %s", code, text)
	}

	select {
	case ch <- err:
	default:
	}
}

// reconnect re-establishes the connection with jittered exponential
// backoff and replays all tracked subscriptions. Returns false when the
// attempt budget is exhausted or the context is cancelled; in that case
// the OnDisconnect callback is invoked with the terminal error.
func (c *StreamClient) reconnect() bool {
	c.connMu.Lock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close() //nolint:errcheck // Already failed
		c.conn = nil
	}
	c.connMu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.ReconnectInitialDelay
	bo.MaxInterval = c.cfg.ReconnectMaxDelay

	operation := func() (struct{}, error) {
		if err := c.dial(c.ctx); err != nil {
			c.logger.Warn("reconnect attempt failed", "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	opts := []backoff.RetryOption{backoff.WithBackOff(bo)}
	if c.cfg.ReconnectMaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(c.cfg.ReconnectMaxAttempts)))
	}

	if _, err := backoff.Retry(c.ctx, operation, opts...); err != nil {
		if c.ctx.Err() != nil {
			return false
		}
		terminal := fmt.Errorf("%w: %v", ErrReconnectExhausted, err)
		c.logger.Error("event stream reconnect exhausted", "error", err)
		c.notifyDisconnect(terminal)
		return false
	}

	c.resubscribeAll()
	return true
}

// resubscribeAll replays the tracked subscription set on a fresh connection.
// Every subscription gets a new wire id; external handles stay stable.
func (c *StreamClient) resubscribeAll() {
	c.subMu.Lock()
	subs := make([]*streamSubscription, 0, len(c.subs))
	c.byWire = make(map[int]int, len(c.subs))
	for _, sub := range c.subs {
		c.nextID++
		sub.wireID = c.nextID
		c.byWire[sub.wireID] = sub.id
		subs = append(subs, sub)
	}
	c.subMu.Unlock()

	// Fire-and-forget: this runs on the receive goroutine, which is the
	// only reader of result messages, so waiting here would deadlock.
	// Rejections surface as error-level result logs via resolvePending.
	for _, sub := range subs {
		msg := subscribeMessage{ID: sub.wireID, Type: "subscribe_events", EventType: sub.eventType}
		if err := c.writeJSON(msg); err != nil {
			c.logger.Error("resubscribe failed", "event_type", sub.eventType, "error", err)
		}
	}
}

func (c *StreamClient) notifyDisconnect(err error) {
	c.callbackMu.RLock()
	fn := c.onDisconnect
	c.callbackMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// pingLoop sends periodic keep-alive pings until shutdown.
func (c *StreamClient) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.subMu.Lock()
			c.nextID++
			id := c.nextID
			c.subMu.Unlock()

			if err := c.writeJSON(pingMessage{ID: id, Type: "ping"}); err != nil {
				// Read loop owns reconnection; nothing to do here.
				c.logger.Debug("ping failed", "error", err)
			}
		case <-c.ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

// currentConn returns the live connection, waiting out a reconnect in
// progress, or nil when shut down.
func (c *StreamClient) currentConn() *websocket.Conn {
	for {
		if c.ctx.Err() != nil {
			return nil
		}
		c.connMu.Lock()
		conn, ok := c.conn, c.connected
		c.connMu.Unlock()
		if ok {
			return conn
		}
		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Close shuts the stream client down: stops both loops and closes the
// connection. Safe to call more than once.
func (c *StreamClient) Close() error {
	if c.cancel != nil {
		c.cancel()
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.connected = false
	if c.conn != nil {
		// Best-effort close frame before tearing down.
		_ = c.conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck // Best effort
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
