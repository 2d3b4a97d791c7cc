// Package fleet holds the dashboard's shared view of the fleet: the latest
// telemetry per vehicle, the link status, an event log and operator
// notifications.
package fleet

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/litescript/ls-fleet/internal/link"
	"github.com/litescript/ls-fleet/internal/telemetry"
)

// EventType represents the type of fleet event.
type EventType string

const (
	EventConnected       EventType = "CONNECTED"
	EventReconnecting    EventType = "RECONNECTING"
	EventPolling         EventType = "POLLING"
	EventDisconnected    EventType = "DISCONNECTED"
	EventServerError     EventType = "SERVER_ERROR"
	EventNewVehicle      EventType = "NEW_VEHICLE"
	EventArmed           EventType = "ARMED"
	EventDisarmed        EventType = "DISARMED"
	EventModeChange      EventType = "MODE_CHANGE"
	EventLowBattery      EventType = "LOW_BATTERY"
	EventMissionComplete EventType = "MISSION_COMPLETE"
	EventCommand         EventType = "COMMAND"
	EventCommandFailed   EventType = "COMMAND_FAILED"
)

// Event is one entry in the fleet event log.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	VehicleID string    `json:"vehicle_id,omitempty"`
	Message   string    `json:"message"`
}

// Level is a notification severity.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is a dismissable operator message.
type Notification struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrUnknownNotification is returned when dismissing an id that is not
// pending.
var ErrUnknownNotification = errors.New("fleet: unknown notification")

// TimeSeries is a single data point with timestamp.
type TimeSeries struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Vehicle is the merged latest view of one vehicle.
type Vehicle struct {
	ID         string           `json:"id"`
	Record     telemetry.Record `json:"record"`
	FirstSeen  time.Time        `json:"first_seen"`
	LastUpdate time.Time        `json:"last_update"`
	Updates    int              `json:"updates"`
}

// History tracks recent metrics for a vehicle.
type History struct {
	VehicleID string
	Battery   []TimeSeries
	Altitude  []TimeSeries
	Speed     []TimeSeries
}

// Manager handles all shared fleet state with thread-safe access.
type Manager struct {
	mu sync.RWMutex

	vehicles   map[string]*Vehicle
	history    map[string]*History
	maxHistory int

	link       link.Status
	lastUpdate time.Time

	// Event log (ring buffer)
	events       []Event
	maxEvents    int
	eventWriteAt int

	notifications []Notification
	lowBatteryPct float64
	now           func() time.Time
}

// Config holds configuration for the fleet manager.
type Config struct {
	MaxEvents     int
	MaxHistory    int
	LowBatteryPct float64
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxEvents:     100,
		MaxHistory:    120,
		LowBatteryPct: 20,
	}
}

// NewManager creates a new fleet manager.
func NewManager(cfg Config) *Manager {
	maxEvents := cfg.MaxEvents
	if maxEvents <= 0 {
		maxEvents = 100
	}
	return &Manager{
		vehicles:      make(map[string]*Vehicle),
		history:       make(map[string]*History),
		maxHistory:    cfg.MaxHistory,
		maxEvents:     maxEvents,
		events:        make([]Event, 0, maxEvents),
		lowBatteryPct: cfg.LowBatteryPct,
		now:           time.Now,
		link:          link.Status{State: link.Idle, Mode: link.Idle.Mode()},
	}
}

// Apply merges a telemetry record into the vehicle's latest view.
// Records without a vehicle id are ignored.
func (m *Manager) Apply(rec telemetry.Record) {
	if rec.VehicleID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.lastUpdate = now

	v, ok := m.vehicles[rec.VehicleID]
	if !ok {
		v = &Vehicle{ID: rec.VehicleID, FirstSeen: now}
		m.vehicles[rec.VehicleID] = v
		m.addEvent(Event{
			Type:      EventNewVehicle,
			Timestamp: now,
			VehicleID: rec.VehicleID,
			Message:   "first telemetry received",
		})
	} else {
		m.detectEvents(v.Record, rec, now)
	}

	v.Record = v.Record.Merge(rec)
	v.LastUpdate = now
	v.Updates++
	m.updateHistory(v.ID, rec)
}

// detectEvents compares a vehicle's previous view with new telemetry.
func (m *Manager) detectEvents(prev, next telemetry.Record, now time.Time) {
	id := next.VehicleID

	if next.Armed != nil && (prev.Armed == nil || *prev.Armed != *next.Armed) {
		typ, msg := EventDisarmed, "disarmed"
		if *next.Armed {
			typ, msg = EventArmed, "armed"
		}
		m.addEvent(Event{Type: typ, Timestamp: now, VehicleID: id, Message: msg})
	}

	if next.FlightMode != nil && prev.FlightMode != nil && *prev.FlightMode != *next.FlightMode {
		m.addEvent(Event{
			Type:      EventModeChange,
			Timestamp: now,
			VehicleID: id,
			Message:   fmt.Sprintf("%s -> %s", *prev.FlightMode, *next.FlightMode),
		})
	}

	prevPct, nextPct := remaining(prev), remaining(next)
	if nextPct != nil && *nextPct < m.lowBatteryPct && (prevPct == nil || *prevPct >= m.lowBatteryPct) {
		m.addEvent(Event{
			Type:      EventLowBattery,
			Timestamp: now,
			VehicleID: id,
			Message:   fmt.Sprintf("battery at %.0f%%", *nextPct),
		})
	}
}

func remaining(r telemetry.Record) *float64 {
	if r.Battery == nil {
		return nil
	}
	return r.Battery.RemainingPct
}

func (m *Manager) updateHistory(id string, rec telemetry.Record) {
	if m.maxHistory <= 0 {
		return
	}
	hist, ok := m.history[id]
	if !ok {
		hist = &History{VehicleID: id}
		m.history[id] = hist
	}

	ts := rec.Timestamp
	if pct := remaining(rec); pct != nil {
		hist.Battery = appendBounded(hist.Battery, TimeSeries{Timestamp: ts, Value: *pct}, m.maxHistory)
	}
	if rec.Position != nil {
		hist.Altitude = appendBounded(hist.Altitude, TimeSeries{Timestamp: ts, Value: rec.Position.Altitude}, m.maxHistory)
	}
	if s, ok := rec.Speed(); ok {
		hist.Speed = appendBounded(hist.Speed, TimeSeries{Timestamp: ts, Value: s}, m.maxHistory)
	}
}

func appendBounded(s []TimeSeries, p TimeSeries, limit int) []TimeSeries {
	s = append(s, p)
	if len(s) > limit {
		s = s[1:]
	}
	return s
}

// SetLink records a link status change and logs the transitions operators
// care about.
func (m *Manager) SetLink(change link.StatusChange, status link.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.link = status

	var typ EventType
	switch {
	case change.State == change.Previous:
		if change.Message == "" {
			return
		}
		typ = EventServerError
	case change.State == link.Open:
		typ = EventConnected
	case change.State == link.ClosedRetrying:
		typ = EventReconnecting
	case change.State == link.ClosedPolling:
		typ = EventPolling
	case change.State == link.Idle:
		typ = EventDisconnected
	default:
		return
	}
	at := change.At
	if at.IsZero() {
		at = m.now()
	}
	m.addEvent(Event{Type: typ, Timestamp: at, VehicleID: change.Key, Message: change.Message})
}

// AddEvent appends an event to the log.
func (m *Manager) AddEvent(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = m.now()
	}
	m.addEvent(e)
}

// addEvent adds an event to the ring buffer.
func (m *Manager) addEvent(e Event) {
	if len(m.events) < m.maxEvents {
		m.events = append(m.events, e)
	} else {
		m.events[m.eventWriteAt] = e
		m.eventWriteAt = (m.eventWriteAt + 1) % m.maxEvents
	}
}

// Notify queues a dismissable notification and returns its id.
func (m *Manager) Notify(level Level, msg string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := Notification{
		ID:        uuid.NewString(),
		Level:     level,
		Message:   msg,
		Timestamp: m.now(),
	}
	m.notifications = append(m.notifications, n)
	return n.ID
}

// Dismiss removes a pending notification.
func (m *Manager) Dismiss(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.notifications {
		if n.ID == id {
			m.notifications = append(m.notifications[:i], m.notifications[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownNotification, id)
}

// DismissOldest removes the oldest pending notification, if any.
func (m *Manager) DismissOldest() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.notifications) == 0 {
		return false
	}
	m.notifications = m.notifications[1:]
	return true
}

// Snapshot represents an immutable snapshot of current state.
type Snapshot struct {
	Vehicles      []Vehicle
	Link          link.Status
	LastUpdate    time.Time
	Events        []Event
	Notifications []Notification
}

// Vehicle returns the snapshot's entry for id.
func (s Snapshot) Vehicle(id string) (Vehicle, bool) {
	for _, v := range s.Vehicles {
		if v.ID == id {
			return v, true
		}
	}
	return Vehicle{}, false
}

// Snapshot returns a consistent snapshot of current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vehicles := make([]Vehicle, 0, len(m.vehicles))
	for _, v := range m.vehicles {
		vehicles = append(vehicles, *v)
	}
	sort.Slice(vehicles, func(i, j int) bool { return vehicles[i].ID < vehicles[j].ID })

	notes := make([]Notification, len(m.notifications))
	copy(notes, m.notifications)

	return Snapshot{
		Vehicles:      vehicles,
		Link:          m.link,
		LastUpdate:    m.lastUpdate,
		Events:        m.getEventsOrdered(),
		Notifications: notes,
	}
}

// getEventsOrdered returns events in chronological order.
func (m *Manager) getEventsOrdered() []Event {
	if len(m.events) == 0 {
		return nil
	}

	// If buffer isn't full yet, just copy
	if len(m.events) < m.maxEvents {
		result := make([]Event, len(m.events))
		copy(result, m.events)
		return result
	}

	// Ring buffer is full, reorder from oldest to newest
	result := make([]Event, m.maxEvents)
	for i := 0; i < m.maxEvents; i++ {
		idx := (m.eventWriteAt + i) % m.maxEvents
		result[i] = m.events[idx]
	}
	return result
}

// RecentEvents returns the last n events.
func (m *Manager) RecentEvents(n int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.getEventsOrdered()
	if len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

// History returns a copy of the metric history for id.
func (m *Manager) History(id string) *History {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hist, ok := m.history[id]
	if !ok {
		return nil
	}
	return &History{
		VehicleID: hist.VehicleID,
		Battery:   append([]TimeSeries(nil), hist.Battery...),
		Altitude:  append([]TimeSeries(nil), hist.Altitude...),
		Speed:     append([]TimeSeries(nil), hist.Speed...),
	}
}

// HasData reports whether any telemetry has been received.
func (m *Manager) HasData() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vehicles) > 0
}
