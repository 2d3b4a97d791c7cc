package fleet

import (
	"fmt"
	"sync"

	"github.com/litescript/ls-fleet/internal/link"
	"github.com/litescript/ls-fleet/internal/logging"
	"github.com/litescript/ls-fleet/internal/motion"
	"github.com/litescript/ls-fleet/internal/telemetry"
	"github.com/litescript/ls-fleet/internal/trail"
)

// Session wires the link manager's records into the fleet state and the
// motion engine, and tracks one mission at a time.
type Session struct {
	link   *link.Manager
	engine *motion.Engine
	state  *Manager
	log    *logging.Logger

	mu        sync.Mutex
	key       string
	completed map[string]bool
	unsub     []func()
}

// NewSession subscribes to l and feeds s and e.
func NewSession(l *link.Manager, e *motion.Engine, s *Manager, log *logging.Logger) *Session {
	sess := &Session{
		link:      l,
		engine:    e,
		state:     s,
		log:       log,
		completed: make(map[string]bool),
	}
	sess.unsub = append(sess.unsub,
		l.Subscribe(sess.onRecord),
		l.OnStatus(sess.onStatus),
	)
	return sess
}

// onRecord files every record from the link under the mission key. The
// channel is subscribed per mission, so whatever id the payload carries
// describes the mission's vehicle.
func (s *Session) onRecord(rec telemetry.Record) {
	// Held across the push so a concurrent Stop cannot untrack the mission
	// between the key check and the push.
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key
	if key == "" {
		return
	}
	if rec.VehicleID != "" && rec.VehicleID != key {
		s.log.Debug("record for %s filed under mission %s", rec.VehicleID, key)
	}
	rec.VehicleID = key
	s.state.Apply(rec)
	s.engine.Push(key, rec)
}

func (s *Session) onStatus(change link.StatusChange) {
	s.state.SetLink(change, s.link.Status())
}

// Start tracks the mission key. With a route the mission entity animates
// along it until live telemetry takes over; without one it waits for
// telemetry at the fallback position. A previous mission is stopped first.
func (s *Session) Start(key string, mission *motion.Config) error {
	if key == "" {
		return link.ErrEmptyKey
	}

	// Records arriving while the mission switches are dropped.
	s.mu.Lock()
	prev := s.key
	s.key = ""
	s.mu.Unlock()

	if prev != "" && prev != key {
		s.engine.Untrack(prev)
	}

	var err error
	if mission != nil {
		err = s.engine.Track(key, *mission)
	} else {
		s.engine.TrackLive(key)
	}
	if err == nil {
		err = s.link.Open(key)
	}
	if err != nil {
		if prev == key {
			s.mu.Lock()
			s.key = prev
			s.mu.Unlock()
		} else {
			s.link.Close()
			s.engine.Untrack(key)
		}
		return fmt.Errorf("start %s: %w", key, err)
	}

	s.mu.Lock()
	s.key = key
	delete(s.completed, key)
	s.mu.Unlock()

	s.log.Info("tracking mission %s", key)
	return nil
}

// Stop closes the link and stops animating the current mission.
func (s *Session) Stop() {
	s.mu.Lock()
	key := s.key
	s.key = ""
	s.mu.Unlock()

	s.link.Close()
	if key != "" {
		s.engine.Untrack(key)
		s.log.Info("stopped tracking mission %s", key)
	}
}

// Close stops the session and detaches it from the link manager.
func (s *Session) Close() {
	s.Stop()
	for _, u := range s.unsub {
		u()
	}
	s.unsub = nil
}

// Key returns the mission being tracked, if any.
func (s *Session) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// Engine returns the session's motion engine.
func (s *Session) Engine() *motion.Engine {
	return s.engine
}

// State returns the session's fleet state.
func (s *Session) State() *Manager {
	return s.state
}

// Tick advances the engine and logs routes that have just completed.
func (s *Session) Tick() []motion.Frame {
	frames := s.engine.Tick()

	s.mu.Lock()
	var done []string
	for _, f := range frames {
		if f.Completed && !s.completed[f.ID] {
			s.completed[f.ID] = true
			done = append(done, f.ID)
		} else if !f.Completed && s.completed[f.ID] {
			delete(s.completed, f.ID)
		}
	}
	s.mu.Unlock()

	for _, id := range done {
		s.state.AddEvent(Event{Type: EventMissionComplete, VehicleID: id, Message: "reached final waypoint"})
	}
	return frames
}

// Trails returns the flight path of every entity in frames.
func (s *Session) Trails(frames []motion.Frame) map[string][]trail.Point {
	out := make(map[string][]trail.Point, len(frames))
	for _, f := range frames {
		if pts := s.engine.Trail(f.ID); len(pts) > 0 {
			out[f.ID] = pts
		}
	}
	return out
}
