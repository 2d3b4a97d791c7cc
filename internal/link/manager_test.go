package link

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/litescript/ls-fleet/internal/clock"
	"github.com/litescript/ls-fleet/internal/logging"
	"github.com/litescript/ls-fleet/internal/telemetry"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

var errClosed = errors.New("connection closed")

type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	writes   []telemetry.Control
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-c.closed:
		return nil, errClosed
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if ctl, ok := v.(telemetry.Control); ok {
		c.writes = append(c.writes, ctl)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = w.Action
	}
	return out
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// scriptedDialer hands out the queued connections in order and fails once
// the queue is empty.
type scriptedDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	calls int
}

func (d *scriptedDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *scriptedDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type harness struct {
	m       *Manager
	clk     *clock.Fake
	status  chan StatusChange
	records chan telemetry.Record
}

func newHarness(t *testing.T, dialer Dialer, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clk:     clock.NewFake(epoch),
		status:  make(chan StatusChange, 64),
		records: make(chan telemetry.Record, 64),
	}
	cfg := DefaultConfig("ws://fleet.test/ws/telemetry")
	opts = append([]Option{WithClock(h.clk), WithLogger(logging.Discard())}, opts...)
	h.m = NewManager(cfg, dialer, opts...)
	h.m.OnStatus(func(c StatusChange) { h.status <- c })
	h.m.Subscribe(func(r telemetry.Record) {
		select {
		case h.records <- r:
		default:
		}
	})
	t.Cleanup(h.m.Close)
	return h
}

func (h *harness) next(t *testing.T) StatusChange {
	t.Helper()
	select {
	case c := <-h.status:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status change")
		return StatusChange{}
	}
}

func (h *harness) expect(t *testing.T, want State) StatusChange {
	t.Helper()
	c := h.next(t)
	if c.State != want {
		t.Fatalf("status = %v (%s), want %v", c.State, c.Message, want)
	}
	return c
}

func (h *harness) record(t *testing.T) telemetry.Record {
	t.Helper()
	select {
	case r := <-h.records:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for record")
		return telemetry.Record{}
	}
}

func (h *harness) quiet(t *testing.T) {
	t.Helper()
	select {
	case c := <-h.status:
		t.Fatalf("unexpected status change %v (%s)", c.State, c.Message)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestManager_OpenEmptyKey(t *testing.T) {
	h := newHarness(t, &scriptedDialer{})
	if err := h.m.Open(""); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Open(\"\") = %v, want ErrEmptyKey", err)
	}
	if s := h.m.Status(); s.State != Idle {
		t.Errorf("State = %v, want idle", s.State)
	}
}

func TestManager_BackoffThenPolling(t *testing.T) {
	dialer := &scriptedDialer{}
	var polls atomic.Int32
	poller := PollerFunc(func(ctx context.Context, key string) (telemetry.Record, error) {
		polls.Add(1)
		armed := true
		return telemetry.Record{Armed: &armed}, nil
	})
	h := newHarness(t, dialer, WithPoller(poller))

	if err := h.m.Open("mission-1"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	var delays []time.Duration
	h.expect(t, Connecting)
	for i := 0; i < DefaultMaxAttempts; i++ {
		c := h.expect(t, ClosedRetrying)
		if c.Attempt != i+1 {
			t.Errorf("attempt = %d, want %d", c.Attempt, i+1)
		}
		delays = append(delays, c.RetryIn)
		h.clk.Advance(c.RetryIn)
		h.expect(t, Connecting)
	}
	h.expect(t, ClosedPolling)

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
	if got := dialer.Calls(); got != DefaultMaxAttempts+1 {
		t.Errorf("dial calls = %d, want %d", got, DefaultMaxAttempts+1)
	}

	rec := h.record(t)
	if rec.VehicleID != "mission-1" {
		t.Errorf("VehicleID = %q, want mission-1", rec.VehicleID)
	}
	if s := h.m.Status(); s.Mode != "polling" {
		t.Errorf("Mode = %q, want polling", s.Mode)
	}

	h.clk.Advance(DefaultPollInterval)
	h.record(t)
	if polls.Load() < 2 {
		t.Errorf("polls = %d, want >= 2", polls.Load())
	}

	// Polling is permanent for the session.
	h.clk.Advance(time.Minute)
	if got := dialer.Calls(); got != DefaultMaxAttempts+1 {
		t.Errorf("dial calls after polling = %d, want %d", got, DefaultMaxAttempts+1)
	}
}

func TestManager_PollSkipsWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	var polls atomic.Int32
	poller := PollerFunc(func(ctx context.Context, key string) (telemetry.Record, error) {
		polls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return telemetry.Record{}, nil
	})
	cfg := DefaultConfig("ws://x")
	cfg.MaxAttempts = 1
	clk := clock.NewFake(epoch)
	m := NewManager(cfg, &scriptedDialer{}, WithClock(clk), WithPoller(poller))
	status := make(chan StatusChange, 16)
	m.OnStatus(func(c StatusChange) { status <- c })
	defer m.Close()
	defer close(release)

	if err := m.Open("k"); err != nil {
		t.Fatal(err)
	}
	for {
		c := <-status
		if c.State == ClosedRetrying {
			clk.Advance(c.RetryIn)
		}
		if c.State == ClosedPolling {
			break
		}
	}

	waitFor(t, "first poll", func() bool { return polls.Load() == 1 })
	clk.Advance(5 * DefaultPollInterval)
	time.Sleep(20 * time.Millisecond)
	if got := polls.Load(); got != 1 {
		t.Errorf("polls = %d, want 1 while the first is in flight", got)
	}
}

func TestManager_OpenIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	dialer := &scriptedDialer{conns: []*fakeConn{conn}}
	h := newHarness(t, dialer)

	if err := h.m.Open("m1"); err != nil {
		t.Fatal(err)
	}
	h.expect(t, Connecting)
	h.expect(t, Open)

	if err := h.m.Open("m1"); err != nil {
		t.Fatal(err)
	}
	h.quiet(t)
	if got := dialer.Calls(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
	waitFor(t, "subscribe", func() bool { return len(conn.actions()) == 1 })
	if got := conn.actions()[0]; got != telemetry.ActionSubscribe {
		t.Errorf("first write = %q, want subscribe", got)
	}
}

func TestManager_OpenDifferentKeyRestarts(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &scriptedDialer{conns: []*fakeConn{first, second}}
	h := newHarness(t, dialer)

	_ = h.m.Open("a")
	h.expect(t, Connecting)
	h.expect(t, Open)

	_ = h.m.Open("b")
	h.expect(t, Idle)
	h.expect(t, Connecting)
	c := h.expect(t, Open)
	if c.Key != "b" {
		t.Errorf("Key = %q, want b", c.Key)
	}
	if !first.isClosed() {
		t.Error("previous connection not closed")
	}
	if second.isClosed() {
		t.Error("new connection closed")
	}
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	h := newHarness(t, &scriptedDialer{})
	h.m.Close()
	h.m.Close()
	h.quiet(t)
}

func TestManager_CloseCancelsRetry(t *testing.T) {
	dialer := &scriptedDialer{}
	h := newHarness(t, dialer)

	_ = h.m.Open("m1")
	h.expect(t, Connecting)
	h.expect(t, ClosedRetrying)

	h.m.Close()
	h.expect(t, Idle)
	if n := len(h.clk.Pending()); n != 0 {
		t.Errorf("pending timers = %d, want 0", n)
	}

	h.clk.Advance(time.Minute)
	h.quiet(t)
	if got := dialer.Calls(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
	if s := h.m.Status(); s.Attempt != 0 || s.Key != "" {
		t.Errorf("after Close attempt=%d key=%q, want 0 and empty", s.Attempt, s.Key)
	}
}

// stubbornClock hands out timers that cannot be stopped, so callbacks fire
// even after Close.
type stubbornClock struct{ *clock.Fake }

type stubbornTimer struct{}

func (stubbornTimer) Stop() bool { return false }

func (c stubbornClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.Fake.AfterFunc(d, f)
	return stubbornTimer{}
}

func TestManager_LateTimerIsNoop(t *testing.T) {
	fake := clock.NewFake(epoch)
	dialer := &scriptedDialer{}
	m := NewManager(DefaultConfig("ws://x"), dialer, WithClock(stubbornClock{fake}))
	status := make(chan StatusChange, 16)
	m.OnStatus(func(c StatusChange) { status <- c })

	_ = m.Open("m1")
	for c := range status {
		if c.State == ClosedRetrying {
			break
		}
	}
	m.Close()
	<-status // idle

	fake.Advance(time.Minute)
	select {
	case c := <-status:
		t.Fatalf("late timer produced %v", c.State)
	case <-time.After(50 * time.Millisecond):
	}
	if got := dialer.Calls(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
}

func TestManager_Frames(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, &scriptedDialer{conns: []*fakeConn{conn}})

	_ = h.m.Open("m1")
	h.expect(t, Connecting)
	h.expect(t, Open)

	conn.in <- []byte("not json")
	conn.in <- frame(t, map[string]any{"type": "mystery"})
	conn.in <- frame(t, map[string]any{"type": "telemetry_update", "data": map[string]any{}})
	conn.in <- frame(t, map[string]any{
		"type": "telemetry_update",
		"data": map[string]any{"current_position": map[string]any{"lat": 12, "lng": 77}},
	})

	rec := h.record(t)
	if rec.Position == nil || rec.Position.Latitude != 12 || rec.Position.Longitude != 77 {
		t.Fatalf("Position = %v, want 12,77", rec.Position)
	}
	if rec.VehicleID != "m1" {
		t.Errorf("VehicleID = %q, want m1", rec.VehicleID)
	}

	conn.in <- frame(t, map[string]any{"type": "error", "message": "mission not found"})
	c := h.next(t)
	if c.State != Open || c.Message != "server error: mission not found" {
		t.Errorf("status = %v %q", c.State, c.Message)
	}
	if got := h.m.Status().LastError; got != "mission not found" {
		t.Errorf("LastError = %q", got)
	}

	conn.in <- frame(t, map[string]any{"type": "pong"})
	waitFor(t, "pong", func() bool { return !h.m.Status().LastPong.IsZero() })

	if s := h.m.Status(); s.State != Open || s.Mode != "live" {
		t.Errorf("Status = %v/%s, want open/live", s.State, s.Mode)
	}
}

func TestManager_UnsubscribeStopsDelivery(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, &scriptedDialer{conns: []*fakeConn{conn}})

	var count atomic.Int32
	unsub := h.m.Subscribe(func(telemetry.Record) { count.Add(1) })
	_ = h.m.Open("m1")
	h.expect(t, Connecting)
	h.expect(t, Open)

	update := frame(t, map[string]any{"type": "telemetry_update", "data": map[string]any{"lat": 1, "lon": 2}})
	conn.in <- update
	h.record(t)
	unsub()
	conn.in <- update
	h.record(t)

	if got := count.Load(); got != 1 {
		t.Errorf("unsubscribed handler calls = %d, want 1", got)
	}
}

func TestManager_HeartbeatAndLoss(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	h := newHarness(t, &scriptedDialer{conns: []*fakeConn{first, second}})

	_ = h.m.Open("m1")
	h.expect(t, Connecting)
	h.expect(t, Open)
	waitFor(t, "subscribe", func() bool { return len(first.actions()) == 1 })

	h.clk.Advance(DefaultHeartbeatInterval)
	acts := first.actions()
	if len(acts) != 2 || acts[1] != telemetry.ActionPing {
		t.Fatalf("writes = %v, want [subscribe ping]", acts)
	}

	first.setWriteErr(errors.New("broken pipe"))
	h.clk.Advance(DefaultHeartbeatInterval)
	c := h.expect(t, ClosedRetrying)
	if c.RetryIn != 2*time.Second || c.Attempt != 1 {
		t.Errorf("retry = %v attempt %d, want 2s attempt 1", c.RetryIn, c.Attempt)
	}
	waitFor(t, "closed connection", first.isClosed)

	h.clk.Advance(c.RetryIn)
	h.expect(t, Connecting)
	h.expect(t, Open)
	if s := h.m.Status(); s.Attempt != 1 {
		t.Errorf("Attempt after reconnect = %d, want 1", s.Attempt)
	}

	// Unexpected closure from the server side draws on the same budget.
	second.Close()
	c = h.expect(t, ClosedRetrying)
	if c.Attempt != 2 || c.RetryIn != 4*time.Second {
		t.Errorf("retry = %v attempt %d, want 4s attempt 2", c.RetryIn, c.Attempt)
	}
}

func TestManager_FlappingServerFallsBackToPolling(t *testing.T) {
	var dials atomic.Int32
	dialer := DialerFunc(func(ctx context.Context, url string) (Conn, error) {
		dials.Add(1)
		c := newFakeConn()
		c.Close()
		return c, nil
	})
	poller := PollerFunc(func(ctx context.Context, key string) (telemetry.Record, error) {
		return telemetry.Record{}, errors.New("unavailable")
	})
	h := newHarness(t, dialer, WithPoller(poller))

	if err := h.m.Open("m1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < DefaultMaxAttempts; i++ {
		h.expect(t, Connecting)
		h.expect(t, Open)
		c := h.expect(t, ClosedRetrying)
		if c.Attempt != i+1 {
			t.Errorf("attempt = %d, want %d", c.Attempt, i+1)
		}
		h.clk.Advance(c.RetryIn)
	}
	h.expect(t, Connecting)
	h.expect(t, Open)
	h.expect(t, ClosedPolling)

	if got := dials.Load(); got != DefaultMaxAttempts+1 {
		t.Errorf("dial calls = %d, want %d", got, DefaultMaxAttempts+1)
	}
	h.clk.Advance(time.Minute)
	if got := dials.Load(); got != DefaultMaxAttempts+1 {
		t.Errorf("dial calls after polling = %d, want %d", got, DefaultMaxAttempts+1)
	}
	if s := h.m.Status(); s.State != ClosedPolling {
		t.Errorf("State = %v, want polling", s.State)
	}
}
