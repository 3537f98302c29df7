// Package gateway implements [translate.Session] over the translation
// gateway's duplex WebSocket protocol.
//
// The socket lives at /ws/translate on the gateway host. Text frames carry
// JSON control messages, binary frames carry raw S16LE mono PCM in both
// directions. The client adds two behaviours on top of the bare protocol:
// automatic reconnection (one scheduled attempt per connection loss, fixed
// 3s interval by default) and an optional keepalive ping. The same base URL
// also serves the gateway's REST test API; see rest.go.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/traduvox/pkg/translate"
)

// Compile-time assertion that Client satisfies the session interface.
var _ translate.Session = (*Client)(nil)

const (
	// DefaultPath is the WebSocket endpoint on the gateway host.
	DefaultPath = "/ws/translate"

	// DefaultPingInterval is the keepalive cadence. Zero disables keepalive.
	DefaultPingInterval = 15 * time.Second

	// writeTimeout bounds a single frame write so a stalled socket cannot
	// block the sending goroutine indefinitely.
	writeTimeout = 5 * time.Second

	// maxPayloadLog is how much of a malformed frame ends up in the log.
	maxPayloadLog = 128
)

// ReconnectPolicy controls how the client recovers from connection loss.
// The zero value is usable: defaults are applied on first use.
type ReconnectPolicy struct {
	// InitialDelay before the first attempt after a closure. Defaults to 3s.
	InitialDelay time.Duration

	// MaxDelay caps the backoff. Defaults to 30s.
	MaxDelay time.Duration

	// Factor multiplies the delay after each consecutive failure. The
	// default 1.0 keeps a fixed interval; raise it for exponential backoff.
	Factor float64

	// MaxAttempts is the number of consecutive failures tolerated before
	// the client gives up and enters the error state. Zero means unbounded.
	MaxAttempts int
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = 3 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Factor <= 0 {
		p.Factor = 1.0
	}
	return p
}

// Delay returns the backoff before the n-th consecutive attempt (1-based).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Factor)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithPingInterval sets the keepalive cadence. Zero disables keepalive.
func WithPingInterval(d time.Duration) Option {
	return func(c *Client) { c.pingInterval = d }
}

// WithReconnectPolicy replaces the default reconnect policy.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(c *Client) { c.policy = p.withDefaults() }
}

// WithHTTPClient sets the HTTP client used for both the WebSocket handshake
// and the REST API. Primarily used in tests to point at a local mock server.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client is a [translate.Session] backed by one gateway WebSocket at a time.
// All exported methods are safe for concurrent use.
type Client struct {
	base         *url.URL // http(s) root of the gateway
	pingInterval time.Duration
	policy       ReconnectPolicy
	httpClient   *http.Client

	mu              sync.Mutex
	state           translate.State
	conn            *websocket.Conn
	readCancel      context.CancelFunc
	shouldReconnect bool
	attempts        int // consecutive failed attempts since the last success
	reconnectTimer  *time.Timer
	reconnects      int
	lastPong        time.Time

	onAudio       func([]byte)
	onStatus      func(status, message string)
	onError       func(message string)
	onLevel       func(rms float64)
	onStateChange func(translate.State)
}

// New creates a client for the gateway at rawURL. The URL is the gateway
// root — "http://localhost:8000" — in any of the http, https, ws or wss
// schemes; the WebSocket path is appended automatically and an explicit
// /ws/translate suffix is tolerated.
func New(rawURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: parse url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("gateway: unsupported scheme %q in %q", u.Scheme, rawURL)
	}
	u.Path = strings.TrimSuffix(u.Path, DefaultPath)

	c := &Client{
		base:         u,
		pingInterval: DefaultPingInterval,
		policy:       ReconnectPolicy{}.withDefaults(),
		httpClient:   http.DefaultClient,
		state:        translate.StateDisconnected,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// wsURL returns the WebSocket endpoint derived from the base URL.
func (c *Client) wsURL() string {
	u := *c.base
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = path.Join(u.Path, DefaultPath)
	return u.String()
}

// ─── translate.Session ───────────────────────────────────────────────────────

// Connect implements [translate.Session]. On transport failure the error is
// returned and, because connecting arms auto-reconnection, a retry is
// scheduled in the background.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case translate.StateConnecting, translate.StateConnected,
		translate.StateListening, translate.StateProcessing:
		c.mu.Unlock()
		return nil
	}
	c.state = translate.StateConnecting
	cb := c.onStateChange
	c.shouldReconnect = true
	c.attempts = 0
	c.mu.Unlock()

	if cb != nil {
		cb(translate.StateConnecting)
	}
	return c.dial(ctx)
}

// dial opens the socket and starts the reader and keepalive goroutines.
// The session state must already be connecting.
func (c *Client) dial(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.wsURL(), &websocket.DialOptions{
		HTTPClient: c.httpClient,
	})
	if err != nil {
		terr := &translate.TransportError{Op: "dial", Err: err}
		c.mu.Lock()
		retry := c.shouldReconnect
		c.mu.Unlock()
		if retry {
			c.scheduleReconnect()
		} else {
			c.setState(translate.StateError)
			c.notifyError(terr.Error())
		}
		return terr
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.readCancel = cancel
	c.attempts = 0
	c.lastPong = time.Now()
	ping := c.pingInterval
	c.mu.Unlock()
	c.setState(translate.StateConnected)

	go c.readLoop(readCtx, conn)
	if ping > 0 {
		go c.keepalive(readCtx, ping)
	}
	return nil
}

// Disconnect implements [translate.Session].
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.shouldReconnect = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	cancel := c.readCancel
	c.readCancel = nil
	c.attempts = 0
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	c.setState(translate.StateDisconnected)
	return nil
}

// SendControl implements [translate.Session].
func (c *Client) SendControl(msg translate.ControlMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		slog.Debug("gateway: dropping control message, not connected", "type", msg.Type)
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("gateway: marshal control: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &translate.TransportError{Op: "write", Err: err}
	}
	return nil
}

// SendAudio implements [translate.Session].
func (c *Client) SendAudio(pcm []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		return &translate.TransportError{Op: "write", Err: err}
	}
	return nil
}

// State implements [translate.Session].
func (c *Client) State() translate.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnAudio implements [translate.Session].
func (c *Client) OnAudio(cb func(pcm []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAudio = cb
}

// OnStatus implements [translate.Session].
func (c *Client) OnStatus(cb func(status, message string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = cb
}

// OnError implements [translate.Session].
func (c *Client) OnError(cb func(message string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = cb
}

// OnLevel implements [translate.Session].
func (c *Client) OnLevel(cb func(rms float64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevel = cb
}

// OnStateChange implements [translate.Session].
func (c *Client) OnStateChange(cb func(translate.State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = cb
}

// LastPong returns when the most recent keepalive pong arrived. The zero
// time means no pong since the last connect.
func (c *Client) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// Reconnects returns how many reconnect attempts have been scheduled over
// the client's lifetime.
func (c *Client) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// ─── Reader and reconnection ─────────────────────────────────────────────────

// readLoop reads frames until the connection fails or is cancelled locally.
// It is the only goroutine that dispatches inbound events, which gives
// arrival-order, exactly-once delivery.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // local Disconnect, state already handled
			}
			c.handleClosure(err)
			return
		}

		switch typ {
		case websocket.MessageBinary:
			c.mu.Lock()
			cb := c.onAudio
			c.mu.Unlock()
			if cb != nil {
				cb(data)
			}
		case websocket.MessageText:
			c.handleControl(data)
		}
	}
}

func (c *Client) handleControl(data []byte) {
	var msg translate.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		payload := string(data)
		if len(payload) > maxPayloadLog {
			payload = payload[:maxPayloadLog] + "…"
		}
		perr := &translate.ProtocolError{Payload: payload, Err: err}
		slog.Warn("gateway: discarding malformed control message", "error", perr, "payload", perr.Payload)
		return
	}

	switch msg.Type {
	case translate.TypeStatus:
		if s := translate.State(msg.Status); s.IsValid() {
			c.setState(s)
		}
		c.mu.Lock()
		cb := c.onStatus
		c.mu.Unlock()
		if cb != nil {
			cb(msg.Status, msg.Message)
		}

	case translate.TypeError:
		slog.Warn("gateway: server reported error", "message", msg.Message)
		c.notifyError(msg.Message)

	case translate.TypeLevel:
		c.mu.Lock()
		cb := c.onLevel
		c.mu.Unlock()
		if cb != nil {
			cb(msg.RMS)
		}

	case translate.TypePong:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()

	default:
		slog.Debug("gateway: ignoring unknown control message", "type", msg.Type)
	}
}

// handleClosure reacts to a connection dropped by the peer or the network.
func (c *Client) handleClosure(err error) {
	c.mu.Lock()
	c.conn = nil
	if c.readCancel != nil {
		c.readCancel()
		c.readCancel = nil
	}
	retry := c.shouldReconnect
	c.mu.Unlock()

	if !retry {
		c.setState(translate.StateDisconnected)
		return
	}

	slog.Warn("gateway: connection lost",
		"error", err,
		"close_status", websocket.CloseStatus(err),
	)
	c.setState(translate.StateConnecting)
	c.scheduleReconnect()
}

// scheduleReconnect arms the reconnect timer. Exactly one attempt is
// scheduled per closure: a pending timer is never replaced or doubled.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if !c.shouldReconnect || c.reconnectTimer != nil {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	if c.policy.MaxAttempts > 0 && attempt > c.policy.MaxAttempts {
		c.shouldReconnect = false
		c.mu.Unlock()
		slog.Error("gateway: giving up after repeated reconnect failures", "attempts", attempt-1)
		c.setState(translate.StateError)
		c.notifyError("reconnect attempts exhausted")
		return
	}
	delay := c.policy.Delay(attempt)
	c.reconnectTimer = time.AfterFunc(delay, c.tryReconnect)
	c.reconnects++
	c.mu.Unlock()

	slog.Info("gateway: reconnect scheduled", "attempt", attempt, "delay", delay)
}

// tryReconnect fires from the reconnect timer.
func (c *Client) tryReconnect() {
	c.mu.Lock()
	c.reconnectTimer = nil
	if !c.shouldReconnect || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.dial(context.Background()); err != nil {
		// dial has already scheduled the next attempt.
		slog.Debug("gateway: reconnect attempt failed", "error", err)
	}
}

// keepalive sends a ping on every tick until the connection's context ends.
func (c *Client) keepalive(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.SendControl(translate.Ping()); err != nil {
				slog.Debug("gateway: keepalive ping failed", "error", err)
			}
		}
	}
}

// setState records a transition and notifies the callback outside the lock.
func (c *Client) setState(s translate.State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	cb := c.onStateChange
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

func (c *Client) notifyError(message string) {
	c.mu.Lock()
	cb := c.onError
	c.mu.Unlock()
	if cb != nil {
		cb(message)
	}
}
