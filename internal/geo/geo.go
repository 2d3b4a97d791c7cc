// Package geo provides the position type and the small amount of geodesy
// the fleet view needs: validity checks, distances, bearings and
// interpolation between waypoints.
package geo

import (
	"fmt"
	"math"
)

const (
	// EarthRadiusM is the mean Earth radius used by the haversine formula.
	EarthRadiusM = 6371000.0

	// MetersPerDegree converts ground speed into degree-space speed for the
	// planar animation model.
	MetersPerDegree = 111000.0
)

// Position is a WGS84 latitude/longitude pair with altitude in meters
// relative to the ground.
type Position struct {
	Latitude  float64 `json:"latitude" yaml:"lat"`
	Longitude float64 `json:"longitude" yaml:"lon"`
	Altitude  float64 `json:"altitude" yaml:"alt"`
}

// IsValid reports whether p can be shown on a map.
//
// Both coordinates must be finite and in range. The (0,0) pair is the
// "unset" sentinel used by upstream autopilots and is rejected even though
// it is a real place.
func (p Position) IsValid() bool {
	return ValidLatLon(p.Latitude, p.Longitude)
}

// ValidLatLon applies the same rules as Position.IsValid to a bare pair.
func ValidLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// String formats the position in decimal degrees.
func (p Position) String() string {
	return fmt.Sprintf("%.6f,%.6f @%.1fm", p.Latitude, p.Longitude, p.Altitude)
}

// HaversineM returns the great-circle distance between a and b in meters.
// Altitude is ignored.
func HaversineM(a, b Position) float64 {
	// https://www.movable-type.co.uk/scripts/latlong.html
	lat1, lon1 := degToRad(a.Latitude), degToRad(a.Longitude)
	lat2, lon2 := degToRad(b.Latitude), degToRad(b.Longitude)
	dlat, dlon := lat2-lat1, lon2-lon1

	x := sqr(math.Sin(dlat/2)) + math.Cos(lat1)*math.Cos(lat2)*sqr(math.Sin(dlon/2))
	c := 2 * math.Atan2(math.Sqrt(x), math.Sqrt(1-x))
	return EarthRadiusM * c
}

// PlanarDistance returns the Euclidean distance between a and b in degree
// space. Good enough for animating over a few kilometers.
func PlanarDistance(a, b Position) float64 {
	return math.Hypot(b.Latitude-a.Latitude, b.Longitude-a.Longitude)
}

// Bearing returns the planar heading from a to b in degrees clockwise from
// north, in [0,360).
func Bearing(from, to Position) float64 {
	// atan2 normally measures counter-clockwise from +x; passing (x,y)
	// gives clockwise from +y, which is a compass heading.
	return NormalizeHeading(radToDeg(math.Atan2(to.Longitude-from.Longitude, to.Latitude-from.Latitude)))
}

// InitialBearing returns the great-circle initial bearing from a to b in
// degrees, in [0,360).
func InitialBearing(from, to Position) float64 {
	lat1, lat2 := degToRad(from.Latitude), degToRad(to.Latitude)
	dlon := degToRad(to.Longitude - from.Longitude)

	y := math.Sin(dlon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dlon)
	return NormalizeHeading(radToDeg(math.Atan2(y, x)))
}

// Lerp interpolates component-wise between a and b. t is not clamped.
func Lerp(a, b Position, t float64) Position {
	return Position{
		Latitude:  a.Latitude + (b.Latitude-a.Latitude)*t,
		Longitude: a.Longitude + (b.Longitude-a.Longitude)*t,
		Altitude:  a.Altitude + (b.Altitude-a.Altitude)*t,
	}
}

// NormalizeHeading reduces h to [0,360).
func NormalizeHeading(h float64) float64 {
	if math.IsNaN(h) || math.IsInf(h, 0) {
		return 0
	}
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}

// Compass returns the closest 8-point compass direction for a heading.
func Compass(heading float64) string {
	h := NormalizeHeading(heading + 22.5) // now [0,45) is north, etc.
	return [...]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}[int(h/45)%8]
}

func degToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func radToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}

func sqr(x float64) float64 { return x * x }
