package motion

import (
	"github.com/litescript/ls-fleet/internal/geo"
)

// Mode selects the distance model used to advance along a route.
type Mode int

const (
	// Planar measures segments in degree space and converts speed at
	// geo.MetersPerDegree.
	Planar Mode = iota
	// Geodesic measures segments with the haversine distance in meters and
	// heads along the great-circle initial bearing.
	Geodesic
)

func (m Mode) String() string {
	switch m {
	case Planar:
		return "planar"
	case Geodesic:
		return "geodesic"
	default:
		return "unknown"
	}
}

// ParseMode parses "planar" or "geodesic"; anything else is Planar.
func ParseMode(s string) Mode {
	if s == "geodesic" {
		return Geodesic
	}
	return Planar
}

// Waypoint is one route point.
type Waypoint struct {
	Position geo.Position `json:"position" yaml:"position"`
	Label    string       `json:"label,omitempty" yaml:"label,omitempty"`
}

// Route is an ordered list of waypoints. Looping routes (patrols) wrap from
// the last waypoint back to the first; terminating routes (missions) stop
// at the last one.
type Route struct {
	Waypoints []Waypoint `json:"waypoints" yaml:"waypoints"`
	Loop      bool       `json:"loop" yaml:"loop"`
}

// Len returns the number of waypoints.
func (r Route) Len() int {
	return len(r.Waypoints)
}

// Segments returns the number of traversable segments.
func (r Route) Segments() int {
	n := len(r.Waypoints)
	switch {
	case n < 2:
		return 0
	case r.Loop:
		return n
	default:
		return n - 1
	}
}

func (r Route) next(i int) int {
	return (i + 1) % len(r.Waypoints)
}

// distance measures one segment in the units the mode's speed is expressed
// in.
func (m Mode) distance(a, b geo.Position) float64 {
	if m == Geodesic {
		return geo.HaversineM(a, b)
	}
	return geo.PlanarDistance(a, b)
}

func (m Mode) heading(a, b geo.Position) float64 {
	if m == Geodesic {
		return geo.InitialBearing(a, b)
	}
	return geo.Bearing(a, b)
}

// speed converts meters per second to the mode's distance units.
func (m Mode) speed(mps float64) float64 {
	if m == Geodesic {
		return mps
	}
	return mps / geo.MetersPerDegree
}

// Length returns the total traversable length of the route in the mode's
// units.
func (r Route) Length(m Mode) float64 {
	total := 0.0
	for i := 0; i < r.Segments(); i++ {
		total += m.distance(r.Waypoints[i].Position, r.Waypoints[r.next(i)].Position)
	}
	return total
}
