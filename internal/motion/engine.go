// Package motion animates entities along waypoint routes and merges in
// live telemetry once it arrives.
package motion

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/litescript/ls-fleet/internal/clock"
	"github.com/litescript/ls-fleet/internal/geo"
	"github.com/litescript/ls-fleet/internal/telemetry"
	"github.com/litescript/ls-fleet/internal/trail"
)

var (
	// ErrEmptyRoute is returned by Track for a route without waypoints.
	ErrEmptyRoute = errors.New("motion: route has no waypoints")
	// ErrUnknownEntity is returned for operations on untracked entities.
	ErrUnknownEntity = errors.New("motion: unknown entity")
	// ErrInvalidWaypoint is returned by Track when a waypoint position is
	// not a valid coordinate.
	ErrInvalidWaypoint = errors.New("motion: invalid waypoint position")
)

// State is the animation state of one entity.
type State struct {
	Position      geo.Position `json:"position"`
	Heading       float64      `json:"heading"`
	WaypointIndex int          `json:"waypoint_index"`
	Progress      float64      `json:"progress"`
	Completed     bool         `json:"completed,omitempty"`
	Live          bool         `json:"live,omitempty"`
	Paused        bool         `json:"paused,omitempty"`
	// Fallback marks a position substituted because no fix has been seen.
	Fallback bool `json:"fallback,omitempty"`
}

// Frame is one entity's state as emitted by a tick.
type Frame struct {
	ID string `json:"id"`
	State
}

// Config describes how an entity moves.
type Config struct {
	Route    Route
	SpeedMPS float64
	Mode     Mode
}

type entity struct {
	id     string
	cfg    Config
	length float64
	state  State
	paused bool
	hasFix bool
	trail  *trail.Buffer
}

type push struct {
	id  string
	rec telemetry.Record
}

// Engine steps every tracked entity once per tick. It is safe for
// concurrent use; ticks are serialized.
type Engine struct {
	mu       sync.Mutex
	clock    clock.Clock
	trailCap int
	fallback *geo.Position

	entities map[string]*entity
	order    []string
	inbox    []push
	paused   bool
	lastTick time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used by Tick.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithTrailCapacity sets the flight path capacity for new entities.
func WithTrailCapacity(n int) Option {
	return func(e *Engine) {
		e.trailCap = n
	}
}

// WithFallback sets the position shown for live entities that have never
// reported a valid fix. Invalid positions are ignored.
func WithFallback(p geo.Position) Option {
	return func(e *Engine) {
		if p.IsValid() {
			e.fallback = &p
		}
	}
}

// NewEngine creates an engine with no entities.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		clock:    clock.Real(),
		trailCap: trail.DefaultCapacity,
		entities: make(map[string]*entity),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Track starts animating id along cfg.Route. Tracking an id again replaces
// its route and restarts it from the first waypoint.
func (e *Engine) Track(id string, cfg Config) error {
	if len(cfg.Route.Waypoints) == 0 {
		return fmt.Errorf("track %s: %w", id, ErrEmptyRoute)
	}
	for i, wp := range cfg.Route.Waypoints {
		if !wp.Position.IsValid() {
			return fmt.Errorf("track %s: waypoint %d: %w", id, i, ErrInvalidWaypoint)
		}
	}
	if cfg.SpeedMPS < 0 || math.IsNaN(cfg.SpeedMPS) || math.IsInf(cfg.SpeedMPS, 0) {
		cfg.SpeedMPS = 0
	}

	wps := make([]Waypoint, len(cfg.Route.Waypoints))
	copy(wps, cfg.Route.Waypoints)
	cfg.Route.Waypoints = wps

	e.mu.Lock()
	defer e.mu.Unlock()

	ent := e.ensureLocked(id)
	ent.cfg = cfg
	ent.length = cfg.Route.Length(cfg.Mode)
	ent.hasFix = true
	ent.state = State{Position: wps[0].Position}
	if len(wps) > 1 {
		ent.state.Heading = cfg.Mode.heading(wps[0].Position, wps[1].Position)
	}
	ent.trail.Clear()
	ent.trail.Append(ent.state.Position, e.clock.Now())
	return nil
}

// TrackLive registers id as an entity driven only by pushed telemetry.
// Until its first valid fix it sits at the fallback position, if any.
func (e *Engine) TrackLive(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ensureLocked(id)
}

func (e *Engine) ensureLocked(id string) *entity {
	if ent, ok := e.entities[id]; ok {
		return ent
	}
	ent := &entity{
		id:    id,
		trail: trail.New(e.trailCap),
		state: State{Live: true},
	}
	e.entities[id] = ent
	e.order = append(e.order, id)
	return ent
}

// Untrack stops animating id and clears its flight path. It reports
// whether id was tracked.
func (e *Engine) Untrack(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entities[id]
	if !ok {
		return false
	}
	ent.trail.Clear()
	delete(e.entities, id)
	for i, other := range e.order {
		if other == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	kept := e.inbox[:0]
	for _, p := range e.inbox {
		if p.id != id {
			kept = append(kept, p)
		}
	}
	e.inbox = kept
	return true
}

// Push queues a telemetry record for id. Queued records are applied in
// arrival order at the start of the next tick. Records for unknown ids
// register a live entity.
func (e *Engine) Push(id string, rec telemetry.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inbox = append(e.inbox, push{id: id, rec: rec})
}

// Pause freezes every entity.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// Resume unfreezes the engine. Entities paused individually stay paused.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
}

// Paused reports whether the whole engine is paused.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// SetEntityPaused pauses or resumes one entity.
func (e *Engine) SetEntityPaused(id string, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entities[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	ent.paused = paused
	ent.state.Paused = paused
	return nil
}

// Tick advances every entity by the wall-clock time since the previous
// tick. The first tick only establishes the time base.
func (e *Engine) Tick() []Frame {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	var dt time.Duration
	if !e.lastTick.IsZero() {
		dt = now.Sub(e.lastTick)
	}
	e.lastTick = now
	return e.stepLocked(dt, now)
}

// Advance steps every entity by dt.
func (e *Engine) Advance(dt time.Duration) []Frame {
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stepLocked(dt, now)
}

// Frames returns the current state of every entity without stepping.
func (e *Engine) Frames() []Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.framesLocked()
}

// State returns the current state of id.
func (e *Engine) State(id string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entities[id]
	if !ok {
		return State{}, false
	}
	return ent.state, true
}

// Route returns the route id follows, if it has one.
func (e *Engine) Route(id string) (Route, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entities[id]
	if !ok || len(ent.cfg.Route.Waypoints) == 0 {
		return Route{}, false
	}
	r := ent.cfg.Route
	r.Waypoints = append([]Waypoint(nil), r.Waypoints...)
	return r, true
}

// Trail returns the flight path of id, oldest first.
func (e *Engine) Trail(id string) []trail.Point {
	e.mu.Lock()
	ent, ok := e.entities[id]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return ent.trail.Snapshot()
}

// IDs returns the tracked ids in registration order.
func (e *Engine) IDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...)
}

func (e *Engine) stepLocked(dt time.Duration, now time.Time) []Frame {
	for _, p := range e.inbox {
		e.applyLocked(p, now)
	}
	e.inbox = e.inbox[:0]

	if !e.paused && dt > 0 {
		for _, id := range e.order {
			ent := e.entities[id]
			if ent.paused || ent.state.Live {
				continue
			}
			ent.step(dt.Seconds())
			if ent.state.Position.IsValid() {
				appendMoved(ent.trail, ent.state.Position, now)
			}
		}
	}
	return e.framesLocked()
}

func (e *Engine) framesLocked() []Frame {
	frames := make([]Frame, 0, len(e.order))
	for _, id := range e.order {
		ent := e.entities[id]
		st := ent.state
		st.Paused = ent.paused || e.paused
		if !ent.hasFix {
			if e.fallback == nil {
				continue
			}
			st.Position = *e.fallback
			st.Fallback = true
		}
		if !st.Position.IsValid() {
			continue
		}
		frames = append(frames, Frame{ID: id, State: st})
	}
	return frames
}

// applyLocked merges one telemetry record. The first valid position takes
// the entity over from its route; invalid or missing positions keep the
// last known good one.
func (e *Engine) applyLocked(p push, now time.Time) {
	ent := e.ensureLocked(p.id)
	yaw, hasYaw := p.rec.Heading()

	pos := p.rec.Position
	if pos == nil || !pos.IsValid() {
		if hasYaw && ent.state.Live {
			ent.state.Heading = yaw
		}
		return
	}

	prev := ent.state.Position
	wasLive := ent.state.Live && ent.hasFix
	ent.state.Live = true
	ent.state.Completed = false
	ent.state.Position = *pos
	ent.hasFix = true

	switch {
	case hasYaw:
		ent.state.Heading = yaw
	case wasLive && prev != *pos:
		ent.state.Heading = geo.InitialBearing(prev, *pos)
	}
	appendMoved(ent.trail, *pos, now)
}

// step advances the entity by dt seconds. Distance left over at the end of
// a segment carries into the next, so the time to traverse a route does not
// depend on tick size.
func (ent *entity) step(dt float64) {
	r := ent.cfg.Route
	if r.Segments() == 0 || ent.state.Completed {
		return
	}
	// A looping route of zero length has nowhere to go. A terminating one
	// runs through its zero-length segments and completes.
	if r.Loop && ent.length == 0 {
		return
	}
	mode := ent.cfg.Mode
	budget := mode.speed(ent.cfg.SpeedMPS) * dt
	if budget <= 0 && ent.length > 0 {
		return
	}
	if r.Loop && budget > ent.length {
		budget = math.Mod(budget, ent.length)
	}

	st := &ent.state
	n := len(r.Waypoints)
	// Bounded by one pass over the route after the modulo above.
	for guard := 0; guard <= n+1; guard++ {
		from := r.Waypoints[st.WaypointIndex].Position
		to := r.Waypoints[r.next(st.WaypointIndex)].Position
		seg := mode.distance(from, to)

		if seg > 0 {
			st.Heading = mode.heading(from, to)
			left := seg * (1 - st.Progress)
			if budget < left {
				st.Progress += budget / seg
				st.Position = geo.Lerp(from, to, st.Progress)
				return
			}
			budget -= left
		}

		st.Progress = 0
		st.WaypointIndex = r.next(st.WaypointIndex)
		st.Position = to
		if !r.Loop && st.WaypointIndex == n-1 {
			st.Completed = true
			return
		}
	}
}

func appendMoved(b *trail.Buffer, pos geo.Position, ts time.Time) {
	if last, ok := b.Last(); ok && last.Position == pos {
		return
	}
	b.Append(pos, ts)
}
