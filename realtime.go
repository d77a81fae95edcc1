package mafather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ============================================================================
// Configuration
// ============================================================================

// ConnectorConfig configures a realtime connector. Zero values take defaults.
type ConnectorConfig struct {
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	// HeartbeatTimeout is how long the stream may go without a heartbeat
	// frame from the server before it is treated as lost.
	HeartbeatTimeout time.Duration
	// OpenTimeout bounds each attempt to open the stream.
	OpenTimeout time.Duration
	Dialer      Dialer
}

func (c *ConnectorConfig) defaults() {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 2 * c.HeartbeatInterval
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 10 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = WebSocketDialer{}
	}
}

// ConnectionState is the state of a Connector.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	// StateFailed is terminal until the next explicit Connect.
	StateFailed ConnectionState = "failed"
)

const terminalErrorMessage = "connection is unstable, please reload and try again"

func terminalFrame() Frame {
	f := Frame{Type: FrameError, Error: terminalErrorMessage}
	f.Raw, _ = f.encode()
	return f
}

// newReconnectBackoff yields base, 2*base, 4*base, ... capped at max, with no
// jitter and no overall deadline.
func newReconnectBackoff(cfg ConnectorConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectBaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = cfg.ReconnectMaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

type afterFunc func(d time.Duration, f func()) (stop func() bool)

func timeAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// ============================================================================
// Connector
// ============================================================================

// Connector keeps one chat session's stream open: handshake, heartbeat and
// reconnect with exponential backoff.
//
// Every goroutine and timer it starts is tagged with the generation current at
// the time. Connect, Disconnect and each detected loss bump the generation, so
// work belonging to an older one is dropped instead of acting on the new
// connection.
type Connector struct {
	client    *Client
	config    ConnectorConfig
	bus       *Bus
	log       *zap.Logger
	afterFunc afterFunc
	now       func() time.Time

	mu               sync.Mutex
	state            ConnectionState
	session          *ChatSession
	sessionID        string
	conn             Channel
	gen              uint64
	intentionalClose bool
	attempts         int
	backoff          *backoff.ExponentialBackOff
	cancelLoops      context.CancelFunc
	stopReconnect    func() bool
	lastHeartbeat    time.Time
	stateHooks       []func(ConnectionState)
}

func newConnector(client *Client, cfg ConnectorConfig) *Connector {
	log := client.log.Named("realtime")
	return &Connector{
		client:    client,
		config:    cfg,
		bus:       NewBus(log.Named("bus")),
		log:       log,
		afterFunc: timeAfterFunc,
		now:       time.Now,
		state:     StateDisconnected,
		backoff:   newReconnectBackoff(cfg),
	}
}

// Subscribe registers a handler for every non-heartbeat frame.
func (c *Connector) Subscribe(h FrameHandler) SubscriptionID {
	return c.bus.Subscribe(h)
}

// Unsubscribe removes a handler. Removing twice is harmless.
func (c *Connector) Unsubscribe(id SubscriptionID) {
	c.bus.Unsubscribe(id)
}

// OnStateChange registers a handler for state transitions. Handlers run on
// their own goroutine.
func (c *Connector) OnStateChange(h func(ConnectionState)) {
	c.mu.Lock()
	c.stateHooks = append(c.stateHooks, h)
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Connector) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the session created by CreateSession, or nil.
func (c *Connector) Session() *ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Attempts returns the reconnect attempts made since the last successful open.
func (c *Connector) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// CreateSession performs the session handshake through the gateway, so an
// expired access token is refreshed transparently.
func (c *Connector) CreateSession(ctx context.Context, kind SessionKind, category string) (*ChatSession, error) {
	s, err := c.client.Chat.CreateSession(ctx, kind, category)
	if err != nil {
		return nil, fmt.Errorf("create chat session: %w", err)
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	c.log.Info("chat session created", zap.String("session_id", s.SessionID), zap.String("kind", string(s.Kind)))
	return s, nil
}

// Start creates a session and connects to it.
func (c *Connector) Start(ctx context.Context, kind SessionKind, category string) error {
	s, err := c.CreateSession(ctx, kind, category)
	if err != nil {
		return err
	}
	return c.Connect(ctx, s.SessionID)
}

// Connect opens the stream for sessionID, closing any stream already open. A
// failed open is returned to the caller and does not start reconnecting.
func (c *Connector) Connect(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrNoSession
	}

	c.mu.Lock()
	release := c.detachLocked()
	c.intentionalClose = false
	c.gen++
	gen := c.gen
	c.sessionID = sessionID
	c.attempts = 0
	c.backoff.Reset()
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	_ = release()

	if err := c.open(ctx, gen, sessionID); err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.setStateLocked(StateDisconnected)
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect closes the stream on purpose: no reconnect follows. It is safe
// to call in any state and more than once.
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	c.intentionalClose = true
	c.gen++
	release := c.detachLocked()
	c.attempts = 0
	c.backoff.Reset()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if err := release(); err != nil {
		c.log.Debug("close after disconnect", zap.Error(err))
		return err
	}
	return nil
}

// SendMessage sends a chat message. It fails with ErrNotConnected unless the
// stream is connected; nothing is buffered.
func (c *Connector) SendMessage(ctx context.Context, text string) error {
	return c.Send(ctx, Frame{Type: FrameChat, Message: text})
}

// Send writes a raw frame.
func (c *Connector) Send(ctx context.Context, f Frame) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}
	data, err := f.encode()
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, data); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// ============================================================================
// Internals
// ============================================================================

func (c *Connector) streamURL(sessionID string) string {
	return c.client.streamURL + fmt.Sprintf(c.client.endpoints.Stream, url.PathEscape(sessionID))
}

// open dials the stream and, if gen is still current, installs it.
func (c *Connector) open(ctx context.Context, gen uint64, sessionID string) error {
	header := http.Header{}
	if tok := c.client.store.AccessToken(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.config.OpenTimeout)
	defer cancel()

	ch, err := c.config.Dialer.Dial(dialCtx, c.streamURL(sessionID), header)
	if err != nil {
		return fmt.Errorf("open chat stream: %w", err)
	}

	c.mu.Lock()
	if c.gen != gen || c.intentionalClose {
		c.mu.Unlock()
		_ = ch.Close()
		return ErrConnectorClosed
	}
	loopCtx, cancelLoops := context.WithCancel(context.Background())
	c.conn = ch
	c.cancelLoops = cancelLoops
	c.attempts = 0
	c.backoff.Reset()
	c.lastHeartbeat = c.now()
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.log.Info("chat stream connected", zap.String("session_id", sessionID))
	go c.readLoop(loopCtx, gen, ch)
	go c.heartbeatLoop(loopCtx, gen, ch)
	return nil
}

func (c *Connector) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Connector) readLoop(ctx context.Context, gen uint64, ch Channel) {
	for {
		data, err := ch.Read(ctx)
		if err != nil {
			c.connectionLost(gen, err)
			return
		}

		f, err := parseFrame(data)
		if err != nil {
			c.log.Warn("dropping unreadable frame", zap.Error(err))
			continue
		}

		if f.Type == FrameHeartbeat {
			c.mu.Lock()
			if c.gen == gen {
				c.lastHeartbeat = c.now()
			}
			c.mu.Unlock()
			continue
		}

		if !c.current(gen) {
			return
		}
		c.bus.Publish(f)
	}
}

func (c *Connector) heartbeatLoop(ctx context.Context, gen uint64, ch Channel) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	ping, _ := Frame{Type: FrameHeartbeat}.encode()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ch.Write(ctx, ping); err != nil && ctx.Err() == nil {
				c.log.Debug("heartbeat write failed", zap.Error(err))
			}

			c.mu.Lock()
			stale := c.gen == gen && c.now().Sub(c.lastHeartbeat) > c.config.HeartbeatTimeout
			c.mu.Unlock()
			if stale {
				c.connectionLost(gen, ErrHeartbeatTimeout)
				return
			}
		}
	}
}

// connectionLost handles a loss the client did not ask for.
func (c *Connector) connectionLost(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.intentionalClose {
		c.mu.Unlock()
		return
	}
	c.gen++
	next := c.gen
	release := c.detachLocked()
	c.log.Warn("chat stream lost", zap.String("session_id", c.sessionID), zap.Error(cause))
	failed := c.scheduleReconnectLocked(next)
	c.mu.Unlock()

	_ = release()
	if failed {
		c.bus.Publish(terminalFrame())
	}
}

func (c *Connector) reconnect(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.intentionalClose {
		c.mu.Unlock()
		return
	}
	c.stopReconnect = nil
	sessionID := c.sessionID
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	err := c.open(context.Background(), gen, sessionID)
	if err == nil || errors.Is(err, ErrConnectorClosed) {
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.intentionalClose {
		c.mu.Unlock()
		return
	}
	c.log.Warn("reconnect attempt failed", zap.Int("attempt", c.attempts), zap.Error(err))
	failed := c.scheduleReconnectLocked(gen)
	c.mu.Unlock()

	if failed {
		c.bus.Publish(terminalFrame())
	}
}

// scheduleReconnectLocked arms the next attempt, or gives up and reports true
// once MaxReconnectAttempts have been used.
func (c *Connector) scheduleReconnectLocked(gen uint64) bool {
	if c.attempts >= c.config.MaxReconnectAttempts {
		c.setStateLocked(StateFailed)
		c.log.Error("chat stream failed permanently", zap.Int("attempts", c.attempts))
		return true
	}

	c.attempts++
	delay := c.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = c.config.ReconnectMaxDelay
	}
	c.setStateLocked(StateReconnecting)
	c.log.Info("scheduling reconnect", zap.Int("attempt", c.attempts),
		zap.Int("max_attempts", c.config.MaxReconnectAttempts), zap.Duration("delay", delay))
	c.stopReconnect = c.afterFunc(delay, func() { c.reconnect(gen) })
	return false
}

// detachLocked stops any pending reconnect and unhooks the current channel.
// The returned func closes the channel and then stops its loops; call it
// outside the lock. The channel is closed first because cancelling a pending
// websocket read tears the connection down without a close handshake.
func (c *Connector) detachLocked() (release func() error) {
	if c.stopReconnect != nil {
		c.stopReconnect()
		c.stopReconnect = nil
	}
	conn, cancel := c.conn, c.cancelLoops
	c.conn, c.cancelLoops = nil, nil
	return func() error {
		var err error
		if conn != nil {
			err = conn.Close()
		}
		if cancel != nil {
			cancel()
		}
		return err
	}
}

func (c *Connector) setStateLocked(s ConnectionState) {
	if c.state == s {
		return
	}
	c.state = s
	for _, h := range c.stateHooks {
		go h(s)
	}
}
