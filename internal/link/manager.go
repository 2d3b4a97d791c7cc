// Package link maintains a best-effort live telemetry feed. A Manager
// keeps a duplex channel open to the backend, retries with capped
// exponential backoff when it drops, and falls back to request/response
// polling once the retry budget is spent.
package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/litescript/ls-fleet/internal/clock"
	"github.com/litescript/ls-fleet/internal/logging"
	"github.com/litescript/ls-fleet/internal/telemetry"
)

// ErrEmptyKey is returned by Open for an empty subscription key.
var ErrEmptyKey = errors.New("link: empty subscription key")

// Reference timings.
const (
	DefaultBaseDelay         = 1 * time.Second
	DefaultMaxDelay          = 10 * time.Second
	DefaultMaxAttempts       = 5
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultPollInterval      = 1 * time.Second
	DefaultDialTimeout       = 10 * time.Second
)

// Config holds the channel endpoint and recovery timings.
type Config struct {
	URL               string
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	DialTimeout       time.Duration
}

// DefaultConfig returns the reference timings for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		BaseDelay:         DefaultBaseDelay,
		MaxDelay:          DefaultMaxDelay,
		MaxAttempts:       DefaultMaxAttempts,
		HeartbeatInterval: DefaultHeartbeatInterval,
		PollInterval:      DefaultPollInterval,
		DialTimeout:       DefaultDialTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.URL)
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	return c
}

// Handler receives normalized telemetry records.
type Handler func(telemetry.Record)

// StatusHandler receives state transitions and status messages.
type StatusHandler func(StatusChange)

// Option configures a Manager.
type Option func(*Manager)

// WithPoller sets the fallback poller. Without one the manager idles in
// the polling state.
func WithPoller(p Poller) Option {
	return func(m *Manager) {
		m.poller = p
	}
}

// WithClock sets the clock used for timers.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// Manager owns the lifecycle of one tracking session at a time.
//
// Callbacks run outside the manager's lock, one at a time, in the order
// the events occurred. Handlers may call back into the manager.
type Manager struct {
	cfg     Config
	dialer  Dialer
	poller  Poller
	clock   clock.Clock
	log     *logging.Logger
	metrics *Metrics

	mu        sync.Mutex
	state     State
	key       string
	attempt   int
	gen       uint64
	conn      Conn
	ctx       context.Context
	cancel    context.CancelFunc
	lastFrame time.Time
	lastPong  time.Time
	lastError string

	retryTimer     clock.Timer
	heartbeatTimer clock.Timer
	pollTimer      clock.Timer
	pollInFlight   bool

	nextID         int
	subs           map[int]Handler
	statusHandlers map[int]StatusHandler

	outbox     []func()
	delivering bool
}

// NewManager creates an idle manager.
func NewManager(cfg Config, dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		cfg:            cfg.withDefaults(),
		dialer:         dialer,
		clock:          clock.Real(),
		subs:           make(map[int]Handler),
		statusHandlers: make(map[int]StatusHandler),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Subscribe registers a record handler and returns a function that
// removes it.
func (m *Manager) Subscribe(h Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs[id] = h
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// OnStatus registers a status handler and returns a function that
// removes it.
func (m *Manager) OnStatus(h StatusHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.statusHandlers[id] = h
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.statusHandlers, id)
	}
}

// Open starts tracking key. It returns immediately; progress is reported
// through status handlers. Opening the key already being tracked is a
// no-op, and opening a different key ends the current session first.
func (m *Manager) Open(key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	if m.state != Idle && m.key == key {
		m.mu.Unlock()
		return nil
	}
	var stale Conn
	if m.state != Idle {
		stale = m.teardownLocked()
		m.transitionLocked(Idle, 0, fmt.Sprintf("switching to %s", key))
	}

	m.key = key
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.connectLocked()
	m.mu.Unlock()

	closeConn(stale)
	m.flush()
	return nil
}

// Close ends the current session. Pending retry, heartbeat and poll
// timers are cancelled and any that still fire are ignored. Close always
// succeeds and may be called repeatedly.
func (m *Manager) Close() {
	m.mu.Lock()
	prev := m.state
	stale := m.teardownLocked()
	if prev != Idle {
		m.transitionLocked(Idle, 0, "disconnected")
	}
	m.key = ""
	m.mu.Unlock()

	closeConn(stale)
	m.flush()
}

// Status returns a snapshot of the manager's state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:     m.state,
		Mode:      m.state.Mode(),
		Key:       m.key,
		Attempt:   m.attempt,
		LastFrame: m.lastFrame,
		LastPong:  m.lastPong,
		LastError: m.lastError,
	}
}

// teardownLocked invalidates every outstanding callback and returns the
// open connection, if any, for the caller to close after unlocking.
func (m *Manager) teardownLocked() Conn {
	m.gen++
	stopTimer(&m.retryTimer)
	stopTimer(&m.heartbeatTimer)
	stopTimer(&m.pollTimer)
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.ctx = nil
	m.attempt = 0
	m.pollInFlight = false

	conn := m.conn
	m.conn = nil
	return conn
}

func (m *Manager) connectLocked() {
	gen := m.gen
	ctx := m.ctx
	url := m.cfg.URL
	m.transitionLocked(Connecting, 0, fmt.Sprintf("connecting to %s", url))

	go func() {
		dctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()
		conn, err := m.dialer.Dial(dctx, url)
		m.onDialed(gen, conn, err)
	}()
}

func (m *Manager) onDialed(gen uint64, conn Conn, err error) {
	m.mu.Lock()
	if gen != m.gen || m.state != Connecting {
		m.mu.Unlock()
		closeConn(conn)
		return
	}
	if err != nil {
		m.lastError = err.Error()
		m.log.Warn("dial failed: %v", err)
		m.failLocked()
		m.mu.Unlock()
		m.flush()
		return
	}

	// The retry budget spans the whole session; only Close and Open reset
	// it, so a server that accepts and then drops still ends in polling.
	m.conn = conn
	key := m.key
	m.transitionLocked(Open, 0, "connected")
	m.scheduleHeartbeatLocked(gen)
	m.mu.Unlock()
	m.flush()

	if err := conn.WriteJSON(telemetry.SubscribeControl(key)); err != nil {
		m.connLost(gen, conn, fmt.Errorf("subscribe: %w", err))
		return
	}
	go m.readLoop(gen, conn)
}

// failLocked handles a failed dial or a lost channel: schedule a retry
// while budget remains, otherwise switch to polling for the rest of the
// session.
func (m *Manager) failLocked() {
	stopTimer(&m.heartbeatTimer)
	if m.conn != nil {
		go closeConn(m.conn)
		m.conn = nil
	}

	if m.attempt < m.cfg.MaxAttempts {
		m.attempt++
		delay := Backoff(m.attempt, m.cfg.BaseDelay, m.cfg.MaxDelay)
		gen := m.gen
		m.retryTimer = m.clock.AfterFunc(delay, func() { m.retry(gen) })
		m.metrics.reconnect()
		m.transitionLocked(ClosedRetrying, delay,
			fmt.Sprintf("reconnecting in %s (attempt %d/%d)", delay, m.attempt, m.cfg.MaxAttempts))
		return
	}

	m.startPollingLocked()
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != ClosedRetrying {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	m.connectLocked()
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) connLost(gen uint64, conn Conn, err error) {
	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.lastError = err.Error()
	m.log.Warn("channel lost: %v", err)
	m.failLocked()
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.connLost(gen, conn, err)
			return
		}
		if !m.handleMessage(gen, conn, data) {
			return
		}
	}
}

// handleMessage processes one inbound frame. It reports false once the
// connection no longer belongs to the current session.
func (m *Manager) handleMessage(gen uint64, conn Conn, data []byte) bool {
	now := m.clock.Now()
	frame, decodeErr := telemetry.DecodeFrame(data)

	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return false
	}
	m.lastFrame = now

	if decodeErr != nil {
		m.metrics.frame("dropped")
		m.log.Debug("dropping frame: %v", decodeErr)
		m.mu.Unlock()
		return true
	}

	switch frame.Type {
	case telemetry.FrameTelemetryUpdate:
		m.metrics.frame(frame.Type)
		rec, err := telemetry.NormalizeAt(data, now)
		if err != nil {
			m.metrics.frame("dropped")
			m.log.Debug("dropping telemetry: %v", err)
			break
		}
		m.dispatchLocked(rec, "live")
	case telemetry.FrameConnectionInfo:
		m.metrics.frame(frame.Type)
		m.log.Info("server: %s %s", frame.Status, frame.Message)
	case telemetry.FrameError:
		m.metrics.frame(frame.Type)
		m.lastError = frame.Message
		m.log.Warn("server error: %s", frame.Message)
		m.notifyLocked(m.state, 0, "server error: "+frame.Message)
	case telemetry.FramePong:
		m.metrics.frame(frame.Type)
		m.lastPong = now
	default:
		m.metrics.frame("unknown")
		m.log.Debug("ignoring frame type %q", frame.Type)
	}
	m.mu.Unlock()
	m.flush()
	return true
}

func (m *Manager) scheduleHeartbeatLocked(gen uint64) {
	m.heartbeatTimer = m.clock.AfterFunc(m.cfg.HeartbeatInterval, func() { m.heartbeat(gen) })
}

func (m *Manager) heartbeat(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != Open || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.scheduleHeartbeatLocked(gen)
	m.mu.Unlock()

	if err := conn.WriteJSON(telemetry.PingControl()); err != nil {
		m.connLost(gen, conn, fmt.Errorf("heartbeat: %w", err))
	}
}

func (m *Manager) startPollingLocked() {
	m.transitionLocked(ClosedPolling, 0,
		fmt.Sprintf("live channel unavailable, polling every %s", m.cfg.PollInterval))
	if m.poller == nil {
		m.log.Warn("no poller configured")
		return
	}
	m.pollTickLocked(m.gen)
}

// pollTickLocked starts a poll unless one is still running, then
// schedules the next tick.
func (m *Manager) pollTickLocked(gen uint64) {
	if m.pollInFlight {
		m.metrics.poll("skipped")
	} else {
		m.pollInFlight = true
		go m.runPoll(m.ctx, gen, m.key)
	}
	m.pollTimer = m.clock.AfterFunc(m.cfg.PollInterval, func() { m.onPollTimer(gen) })
}

func (m *Manager) onPollTimer(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state != ClosedPolling {
		return
	}
	m.pollTickLocked(gen)
}

func (m *Manager) runPoll(ctx context.Context, gen uint64, key string) {
	rec, err := m.poller.Poll(ctx, key)

	m.mu.Lock()
	if gen != m.gen || m.state != ClosedPolling {
		m.mu.Unlock()
		return
	}
	m.pollInFlight = false
	if err != nil {
		m.metrics.poll("error")
		m.lastError = err.Error()
		m.log.Warn("poll failed: %v", err)
		m.mu.Unlock()
		return
	}
	m.metrics.poll("ok")
	m.lastFrame = m.clock.Now()
	m.dispatchLocked(rec, "poll")
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) dispatchLocked(rec telemetry.Record, source string) {
	if rec.IsEmpty() {
		return
	}
	if rec.VehicleID == "" {
		rec.VehicleID = m.key
	}
	m.metrics.record(source)

	handlers := make([]Handler, 0, len(m.subs))
	for _, h := range m.subs {
		handlers = append(handlers, h)
	}
	m.outbox = append(m.outbox, func() {
		for _, h := range handlers {
			h(rec)
		}
	})
}

func (m *Manager) transitionLocked(to State, retryIn time.Duration, msg string) {
	prev := m.state
	m.state = to
	m.metrics.transition(to)
	m.log.Info("%s -> %s: %s", prev, to, msg)
	m.enqueueStatusLocked(StatusChange{
		State:    to,
		Previous: prev,
		Key:      m.key,
		Attempt:  m.attempt,
		RetryIn:  retryIn,
		Message:  msg,
		At:       m.clock.Now(),
	})
}

// notifyLocked reports a message without a state change.
func (m *Manager) notifyLocked(s State, retryIn time.Duration, msg string) {
	m.enqueueStatusLocked(StatusChange{
		State:    s,
		Previous: s,
		Key:      m.key,
		Attempt:  m.attempt,
		RetryIn:  retryIn,
		Message:  msg,
		At:       m.clock.Now(),
	})
}

func (m *Manager) enqueueStatusLocked(change StatusChange) {
	handlers := make([]StatusHandler, 0, len(m.statusHandlers))
	for _, h := range m.statusHandlers {
		handlers = append(handlers, h)
	}
	m.outbox = append(m.outbox, func() {
		for _, h := range handlers {
			h(change)
		}
	})
}

// flush delivers queued callbacks. Only one goroutine delivers at a time;
// callbacks queued meanwhile are picked up by that goroutine.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for len(m.outbox) > 0 {
		fn := m.outbox[0]
		m.outbox[0] = nil
		m.outbox = m.outbox[1:]
		m.mu.Unlock()
		fn()
		m.mu.Lock()
	}
	m.delivering = false
	m.mu.Unlock()
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func closeConn(c Conn) {
	if c != nil {
		_ = c.Close()
	}
}
