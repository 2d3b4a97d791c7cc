package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/litescript/ls-fleet/internal/geo"
)

// ErrNotObject is returned when a payload is valid JSON but not an object.
var ErrNotObject = errors.New("telemetry payload is not a JSON object")

// Key preference orders. The first key present wins.
var (
	positionKeys  = []string{"position", "current_position"}
	latitudeKeys  = []string{"lat", "latitude"}
	longitudeKeys = []string{"lon", "lng", "longitude"}
	altitudeKeys  = []string{"relative_alt", "alt", "altitude", "relative_altitude"}
	envelopeKeys  = []string{"data", "telemetry"}
)

// Normalize decodes a raw JSON payload and normalizes it, stamping records
// that carry no timestamp of their own with the current time.
func Normalize(raw []byte) (Record, error) {
	return NormalizeAt(raw, time.Now())
}

// NormalizeAt is Normalize with an explicit receive time.
//
// The only errors are for input that is not a JSON object. Anything
// inside the object that is missing or malformed simply stays absent in
// the record.
func NormalizeAt(raw []byte, receivedAt time.Time) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Record{}, fmt.Errorf("decode telemetry payload: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return Record{}, ErrNotObject
	}
	return NormalizeMap(m, receivedAt), nil
}

// NormalizeMap builds a Record from an already decoded JSON object.
func NormalizeMap(m map[string]any, receivedAt time.Time) Record {
	m = unwrapEnvelope(m)

	rec := Record{Timestamp: receivedAt}
	if ts, ok := timestampField(m); ok {
		rec.Timestamp = ts
	}
	if id, ok := firstString(m, "vehicle_id", "mission_id"); ok {
		rec.VehicleID = id
	}

	rec.Position = normalizePosition(m)
	rec.Velocity = normalizeVelocity(m)
	if gs, ok := firstNumber(m, "ground_speed", "groundspeed", "speed"); ok {
		rec.GroundSpeed = &gs
	} else if rec.Velocity != nil {
		gs := math.Hypot(rec.Velocity.VX, rec.Velocity.VY)
		rec.GroundSpeed = &gs
	}
	rec.Attitude = normalizeAttitude(m)
	rec.Battery = normalizeBattery(m)
	rec.GPS = normalizeGPS(m)

	if armed, ok := boolean(first(m, "armed", "is_armed")); ok {
		rec.Armed = &armed
	}
	if mode, ok := firstString(m, "flight_mode", "mode"); ok {
		rec.FlightMode = &mode
	}
	normalizeMission(m, &rec)

	return rec
}

// unwrapEnvelope descends into {"data": {...}} style wrappers used by the
// REST endpoints, as long as the outer object carries no position itself.
func unwrapEnvelope(m map[string]any) map[string]any {
	for depth := 0; depth < 2; depth++ {
		if hasAny(m, positionKeys...) || hasAny(m, latitudeKeys...) {
			return m
		}
		var inner map[string]any
		for _, k := range envelopeKeys {
			if obj, ok := m[k].(map[string]any); ok {
				inner = obj
				break
			}
		}
		if inner == nil {
			return m
		}
		m = inner
	}
	return m
}

// normalizePosition tries each candidate object in preference order and
// returns the first one that yields a valid position.
func normalizePosition(m map[string]any) *geo.Position {
	candidates := make([]map[string]any, 0, len(positionKeys)+1)
	for _, k := range positionKeys {
		if obj, ok := m[k].(map[string]any); ok {
			candidates = append(candidates, obj)
		}
	}
	// Flat payloads put lat/lon at the top level.
	candidates = append(candidates, m)

	for _, c := range candidates {
		lat, ok := firstNumber(c, latitudeKeys...)
		if !ok {
			continue
		}
		lon, ok := firstNumber(c, longitudeKeys...)
		if !ok {
			continue
		}
		if !geo.ValidLatLon(lat, lon) {
			continue
		}

		p := geo.Position{Latitude: lat, Longitude: lon}
		if alt, ok := firstNumber(c, altitudeKeys...); ok && !math.IsNaN(alt) && !math.IsInf(alt, 0) {
			p.Altitude = alt
		}
		return &p
	}
	return nil
}

func normalizeVelocity(m map[string]any) *Velocity {
	src := m
	if obj, ok := m["velocity"].(map[string]any); ok {
		src = obj
	}
	vx, okX := firstNumber(src, "vx", "north")
	vy, okY := firstNumber(src, "vy", "east")
	if !okX || !okY {
		return nil
	}
	v := &Velocity{VX: vx, VY: vy}
	if vz, ok := firstNumber(src, "vz", "down"); ok {
		v.VZ = &vz
	}
	return v
}

func normalizeAttitude(m map[string]any) *Attitude {
	src := m
	if obj, ok := m["attitude"].(map[string]any); ok {
		src = obj
	}
	var a Attitude
	if v, ok := firstNumber(src, "roll"); ok {
		a.Roll = &v
	}
	if v, ok := firstNumber(src, "pitch"); ok {
		a.Pitch = &v
	}
	if v, ok := firstNumber(src, "yaw", "heading"); ok {
		a.Yaw = &v
	}
	if a.Roll == nil && a.Pitch == nil && a.Yaw == nil {
		return nil
	}
	return &a
}

func normalizeBattery(m map[string]any) *Battery {
	var b Battery
	if obj, ok := m["battery"].(map[string]any); ok {
		if v, ok := firstNumber(obj, "voltage", "voltage_v"); ok {
			b.VoltageV = &v
		}
		if v, ok := firstNumber(obj, "current", "current_a"); ok {
			b.CurrentA = &v
		}
		if v, ok := firstNumber(obj, "remaining", "remaining_pct", "percent", "level"); ok {
			b.RemainingPct = &v
		}
	} else {
		if v, ok := firstNumber(m, "battery_voltage", "voltage_battery"); ok {
			b.VoltageV = &v
		}
		if v, ok := firstNumber(m, "battery_current", "current_battery"); ok {
			b.CurrentA = &v
		}
		if v, ok := firstNumber(m, "battery_remaining", "battery"); ok {
			b.RemainingPct = &v
		}
	}
	if b.VoltageV == nil && b.CurrentA == nil && b.RemainingPct == nil {
		return nil
	}
	return &b
}

func normalizeGPS(m map[string]any) *GPS {
	src, nested := m["gps"].(map[string]any)
	if !nested {
		src = m
	}

	var g GPS
	if v, ok := firstNumber(src, "satellites_visible", "satellites", "num_satellites", "gps_satellites"); ok {
		n := int(v)
		g.Satellites = &n
	}
	if v, ok := firstNumber(src, "fix_type", "fix_quality", "gps_fix"); ok {
		fq := FixQuality(int(v))
		g.FixQuality = &fq
	}
	if v, ok := firstNumber(src, "hdop", "eph"); ok {
		g.HDOP = &v
	}
	if g.Satellites == nil && g.FixQuality == nil && g.HDOP == nil {
		return nil
	}
	return &g
}

func normalizeMission(m map[string]any, rec *Record) {
	src := m
	if obj, ok := m["mission"].(map[string]any); ok {
		src = obj
		if v, ok := firstNumber(src, "current", "current_item", "index"); ok {
			i := int(v)
			rec.MissionIndex = &i
		}
		if v, ok := firstNumber(src, "total", "count", "total_items"); ok {
			i := int(v)
			rec.MissionTotal = &i
		}
		return
	}
	if v, ok := firstNumber(src, "mission_index", "mission_current", "current_waypoint"); ok {
		i := int(v)
		rec.MissionIndex = &i
	}
	if v, ok := firstNumber(src, "mission_total", "mission_count", "total_waypoints"); ok {
		i := int(v)
		rec.MissionTotal = &i
	}
}

func timestampField(m map[string]any) (time.Time, bool) {
	v := first(m, "timestamp", "time", "ts")
	if v == nil {
		return time.Time{}, false
	}
	if s, ok := v.(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC(), true
		}
	}
	f, ok := number(v)
	if !ok || f <= 0 {
		return time.Time{}, false
	}
	// Heuristic: values beyond year 33658 in seconds are milliseconds.
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

func hasAny(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// first returns the value of the first key present with a non-null value.
func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// firstNumber returns the first present key whose value parses as a
// finite number.
func firstNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := number(v); ok {
			return f, true
		}
	}
	return 0, false
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s, true
			}
		case json.Number:
			return v.String(), true
		}
	}
	return "", false
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func boolean(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, false
		}
		return parsed, true
	case json.Number, float64, int:
		f, ok := number(b)
		if !ok {
			return false, false
		}
		return f != 0, true
	}
	return false, false
}
