package geo

import (
	"math"
	"testing"
)

func TestPositionIsValid(t *testing.T) {
	tests := []struct {
		name string
		pos  Position
		want bool
	}{
		{"normal", Position{Latitude: 12.97, Longitude: 77.59}, true},
		{"unset sentinel", Position{}, false},
		{"zero lat only", Position{Latitude: 0, Longitude: 10}, true},
		{"zero lon only", Position{Latitude: 10, Longitude: 0}, true},
		{"lat too high", Position{Latitude: 90.1, Longitude: 10}, false},
		{"lat too low", Position{Latitude: -90.1, Longitude: 10}, false},
		{"lon too high", Position{Latitude: 10, Longitude: 180.5}, false},
		{"poles ok", Position{Latitude: -90, Longitude: 180}, true},
		{"NaN", Position{Latitude: math.NaN(), Longitude: 10}, false},
		{"Inf", Position{Latitude: 10, Longitude: math.Inf(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pos.IsValid(); got != tt.want {
				t.Errorf("IsValid(%v) = %v, want %v", tt.pos, got, tt.want)
			}
		})
	}
}

func TestHaversineM(t *testing.T) {
	// One degree of longitude at the equator is ~111.19 km.
	a := Position{Latitude: 0.0001, Longitude: 10}
	b := Position{Latitude: 0.0001, Longitude: 11}
	got := HaversineM(a, b)
	if math.Abs(got-111195) > 50 {
		t.Errorf("HaversineM = %v, want ~111195", got)
	}

	if d := HaversineM(a, a); d != 0 {
		t.Errorf("HaversineM(a, a) = %v, want 0", d)
	}
}

func TestPlanarDistance(t *testing.T) {
	a := Position{Latitude: 10, Longitude: 10}
	b := Position{Latitude: 13, Longitude: 14}
	if got := PlanarDistance(a, b); math.Abs(got-5) > 1e-12 {
		t.Errorf("PlanarDistance = %v, want 5", got)
	}
}

func TestBearing(t *testing.T) {
	origin := Position{Latitude: 10, Longitude: 10}
	tests := []struct {
		name string
		to   Position
		want float64
	}{
		{"north", Position{Latitude: 11, Longitude: 10}, 0},
		{"east", Position{Latitude: 10, Longitude: 11}, 90},
		{"south", Position{Latitude: 9, Longitude: 10}, 180},
		{"west", Position{Latitude: 10, Longitude: 9}, 270},
		{"northeast", Position{Latitude: 11, Longitude: 11}, 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bearing(origin, tt.to)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Bearing = %v, want %v", got, tt.want)
			}
			if got < 0 || got >= 360 {
				t.Errorf("Bearing out of range: %v", got)
			}
		})
	}
}

func TestInitialBearing(t *testing.T) {
	a := Position{Latitude: 0.0001, Longitude: 10}
	b := Position{Latitude: 0.0001, Longitude: 11}
	if got := InitialBearing(a, b); math.Abs(got-90) > 0.01 {
		t.Errorf("InitialBearing east = %v, want ~90", got)
	}

	c := Position{Latitude: 10, Longitude: 10}
	d := Position{Latitude: 9, Longitude: 10}
	if got := InitialBearing(c, d); math.Abs(got-180) > 0.01 {
		t.Errorf("InitialBearing south = %v, want ~180", got)
	}
}

func TestLerp(t *testing.T) {
	a := Position{Latitude: 10, Longitude: 10, Altitude: 100}
	b := Position{Latitude: 10, Longitude: 11, Altitude: 200}

	got := Lerp(a, b, 0.5)
	want := Position{Latitude: 10, Longitude: 10.5, Altitude: 150}
	if got != want {
		t.Errorf("Lerp(0.5) = %v, want %v", got, want)
	}

	if got := Lerp(a, b, 0); got != a {
		t.Errorf("Lerp(0) = %v, want %v", got, a)
	}
	if got := Lerp(a, b, 1); got != b {
		t.Errorf("Lerp(1) = %v, want %v", got, b)
	}
}

func TestNormalizeHeading(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{360, 0},
		{-90, 270},
		{725, 5},
		{-720, 0},
		{359.5, 359.5},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := NormalizeHeading(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeHeading(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCompass(t *testing.T) {
	tests := []struct {
		heading float64
		want    string
	}{
		{0, "N"},
		{44, "NE"},
		{90, "E"},
		{200, "S"},
		{350, "N"},
		{-45, "NW"},
	}
	for _, tt := range tests {
		if got := Compass(tt.heading); got != tt.want {
			t.Errorf("Compass(%v) = %q, want %q", tt.heading, got, tt.want)
		}
	}
}
