// Package telemetry defines the canonical vehicle telemetry record and the
// normalizer that builds it from the loosely shaped payloads upstream
// servers send.
package telemetry

import (
	"math"
	"time"

	"github.com/litescript/ls-fleet/internal/geo"
)

// Record is one normalized telemetry snapshot.
//
// Every field except Timestamp is optional. A nil field means the upstream
// payload did not carry it; it never means zero.
type Record struct {
	Timestamp    time.Time     `json:"timestamp"`
	VehicleID    string        `json:"vehicle_id,omitempty"`
	Position     *geo.Position `json:"position,omitempty"`
	Velocity     *Velocity     `json:"velocity,omitempty"`
	GroundSpeed  *float64      `json:"ground_speed,omitempty"` // m/s
	Attitude     *Attitude     `json:"attitude,omitempty"`
	Battery      *Battery      `json:"battery,omitempty"`
	GPS          *GPS          `json:"gps,omitempty"`
	Armed        *bool         `json:"armed,omitempty"`
	FlightMode   *string       `json:"flight_mode,omitempty"`
	MissionIndex *int          `json:"mission_index,omitempty"`
	MissionTotal *int          `json:"mission_total,omitempty"`
}

// Velocity is the NED velocity in m/s. VZ is nil when the source sent
// only horizontal components.
type Velocity struct {
	VX float64  `json:"vx"`
	VY float64  `json:"vy"`
	VZ *float64 `json:"vz,omitempty"`
}

// Attitude angles in degrees.
type Attitude struct {
	Roll  *float64 `json:"roll,omitempty"`
	Pitch *float64 `json:"pitch,omitempty"`
	Yaw   *float64 `json:"yaw,omitempty"`
}

// Battery state.
type Battery struct {
	VoltageV     *float64 `json:"voltage_v,omitempty"`
	CurrentA     *float64 `json:"current_a,omitempty"`
	RemainingPct *float64 `json:"remaining_pct,omitempty"`
}

// FixQuality is the GNSS solution class.
type FixQuality int

const (
	FixNone FixQuality = iota
	FixNoFix
	Fix2D
	Fix3D
	FixDGPS
	FixRTKFloat
	FixRTKFixed
)

// String returns a short label for the fix class.
func (f FixQuality) String() string {
	switch f {
	case FixNone:
		return "none"
	case FixNoFix:
		return "no fix"
	case Fix2D:
		return "2D"
	case Fix3D:
		return "3D"
	case FixDGPS:
		return "DGPS"
	case FixRTKFloat:
		return "RTK float"
	case FixRTKFixed:
		return "RTK fixed"
	default:
		return "unknown"
	}
}

// GPS receiver state.
type GPS struct {
	Satellites *int        `json:"satellites,omitempty"`
	FixQuality *FixQuality `json:"fix_quality,omitempty"`
	HDOP       *float64    `json:"hdop,omitempty"`
}

// IsEmpty reports whether the record carries nothing besides a timestamp
// and vehicle ID.
func (r Record) IsEmpty() bool {
	return r.Position == nil && r.Velocity == nil && r.GroundSpeed == nil &&
		r.Attitude == nil && r.Battery == nil && r.GPS == nil &&
		r.Armed == nil && r.FlightMode == nil &&
		r.MissionIndex == nil && r.MissionTotal == nil
}

// Speed returns the ground speed, derived from the horizontal velocity
// when not reported directly.
func (r Record) Speed() (float64, bool) {
	if r.GroundSpeed != nil {
		return *r.GroundSpeed, true
	}
	if r.Velocity != nil {
		return math.Hypot(r.Velocity.VX, r.Velocity.VY), true
	}
	return 0, false
}

// Heading returns the yaw as a compass heading when present.
func (r Record) Heading() (float64, bool) {
	if r.Attitude == nil || r.Attitude.Yaw == nil {
		return 0, false
	}
	return geo.NormalizeHeading(*r.Attitude.Yaw), true
}

// Merge overlays the fields present in newer onto r and returns the
// result. Fields absent from newer keep r's values, so a record built from
// several partial payloads converges on the most complete view.
func (r Record) Merge(newer Record) Record {
	out := r
	if newer.Timestamp.After(out.Timestamp) {
		out.Timestamp = newer.Timestamp
	}
	if newer.VehicleID != "" {
		out.VehicleID = newer.VehicleID
	}
	if newer.Position != nil {
		out.Position = newer.Position
	}
	if newer.Velocity != nil {
		out.Velocity = newer.Velocity
	}
	if newer.GroundSpeed != nil {
		out.GroundSpeed = newer.GroundSpeed
	}
	if newer.Attitude != nil {
		out.Attitude = mergeAttitude(out.Attitude, newer.Attitude)
	}
	if newer.Battery != nil {
		out.Battery = mergeBattery(out.Battery, newer.Battery)
	}
	if newer.GPS != nil {
		out.GPS = mergeGPS(out.GPS, newer.GPS)
	}
	if newer.Armed != nil {
		out.Armed = newer.Armed
	}
	if newer.FlightMode != nil {
		out.FlightMode = newer.FlightMode
	}
	if newer.MissionIndex != nil {
		out.MissionIndex = newer.MissionIndex
	}
	if newer.MissionTotal != nil {
		out.MissionTotal = newer.MissionTotal
	}
	return out
}

func mergeAttitude(old, newer *Attitude) *Attitude {
	if old == nil {
		return newer
	}
	a := *old
	if newer.Roll != nil {
		a.Roll = newer.Roll
	}
	if newer.Pitch != nil {
		a.Pitch = newer.Pitch
	}
	if newer.Yaw != nil {
		a.Yaw = newer.Yaw
	}
	return &a
}

func mergeBattery(old, newer *Battery) *Battery {
	if old == nil {
		return newer
	}
	b := *old
	if newer.VoltageV != nil {
		b.VoltageV = newer.VoltageV
	}
	if newer.CurrentA != nil {
		b.CurrentA = newer.CurrentA
	}
	if newer.RemainingPct != nil {
		b.RemainingPct = newer.RemainingPct
	}
	return &b
}

func mergeGPS(old, newer *GPS) *GPS {
	if old == nil {
		return newer
	}
	g := *old
	if newer.Satellites != nil {
		g.Satellites = newer.Satellites
	}
	if newer.FixQuality != nil {
		g.FixQuality = newer.FixQuality
	}
	if newer.HDOP != nil {
		g.HDOP = newer.HDOP
	}
	return &g
}
