// Package trail keeps the bounded history of positions a vehicle has
// flown through, for rendering its trailing path.
package trail

import (
	"sync"
	"time"

	"github.com/litescript/ls-fleet/internal/geo"
)

// DefaultCapacity is the number of points kept per vehicle.
const DefaultCapacity = 500

// Point is a single visited position.
type Point struct {
	Position  geo.Position `json:"position"`
	Timestamp time.Time    `json:"timestamp"`
}

// Buffer is a fixed-capacity FIFO of points. Once full, each append
// overwrites the oldest entry.
//
// Buffer is safe for concurrent use; readers never block each other.
type Buffer struct {
	mu      sync.RWMutex
	points  []Point
	cap     int
	writeAt int
}

// New creates an empty buffer. A non-positive capacity selects
// DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		points: make([]Point, 0, capacity),
		cap:    capacity,
	}
}

// Append records pos. Invalid positions are ignored and reported as false.
func (b *Buffer) Append(pos geo.Position, ts time.Time) bool {
	if !pos.IsValid() {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p := Point{Position: pos, Timestamp: ts}
	if len(b.points) < b.cap {
		b.points = append(b.points, p)
	} else {
		b.points[b.writeAt] = p
		b.writeAt = (b.writeAt + 1) % b.cap
	}
	return true
}

// Clear removes all points.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.points = b.points[:0]
	b.writeAt = 0
}

// Snapshot returns the points from oldest to newest. The returned slice is
// a copy and may be kept by the caller.
func (b *Buffer) Snapshot() []Point {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.points) == 0 {
		return nil
	}

	result := make([]Point, len(b.points))
	if len(b.points) < b.cap {
		copy(result, b.points)
		return result
	}

	// Full ring: the oldest entry sits at writeAt.
	n := copy(result, b.points[b.writeAt:])
	copy(result[n:], b.points[:b.writeAt])
	return result
}

// Last returns the most recently appended point.
func (b *Buffer) Last() (Point, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.points) == 0 {
		return Point{}, false
	}
	if len(b.points) < b.cap {
		return b.points[len(b.points)-1], true
	}
	return b.points[(b.writeAt+b.cap-1)%b.cap], true
}

// Len returns the number of stored points.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.points)
}

// Cap returns the capacity.
func (b *Buffer) Cap() int {
	return b.cap
}

// Length returns the flown distance along pts in meters.
func Length(pts []Point) float64 {
	var total float64
	for i := 1; i < len(pts); i++ {
		total += geo.HaversineM(pts[i-1].Position, pts[i].Position)
	}
	return total
}
