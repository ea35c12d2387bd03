package instrument

import (
	"sync"

	"github.com/gaziuzay/gcslink"
)

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type TrackOutput struct {
	Point  Point `json:"point"`
	Center Point `json:"center"`
	Len    int   `json:"len"`
}

// Track is the append-only flight path of a session. Update is meant to be
// called by a single consumer; Snapshot and Center are safe from anywhere.
type Track struct {
	mu     sync.RWMutex
	points []Point
}

func NewTrack() *Track {
	return &Track{}
}

// Update appends the position and makes it the new view center.
func (t *Track) Update(p gcslink.Position) TrackOutput {
	pt := Point{Lat: p.Lat, Lon: p.Lon}
	t.mu.Lock()
	t.points = append(t.points, pt)
	n := len(t.points)
	t.mu.Unlock()
	return TrackOutput{Point: pt, Center: pt, Len: n}
}

// Snapshot returns a copy of the path so far.
func (t *Track) Snapshot() []Point {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Point, len(t.points))
	copy(out, t.points)
	return out
}

// Center returns the latest point, or false before the first fix.
func (t *Track) Center() (Point, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.points) == 0 {
		return Point{}, false
	}
	return t.points[len(t.points)-1], true
}

func (t *Track) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.points)
}
