// Package geo implements the multiline position and bearing interpolators:
// an entity travels a polyline at constant speed during a daily time window
// and loops back to the start once the path is fully traversed.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/attrsim/attrsim/sim"
)

// Speed units.
const (
	KilometersPerHour = "km/h"
	MilesPerHour      = "mi/h"
)

var metersPerUnit = map[string]float64{
	KilometersPerHour: 1000,
	MilesPerHour:      1609.344,
}

// PathSpec is the argument shape shared by both geo interpolators.
type PathSpec struct {
	Coordinates [][]float64 `json:"coordinates"`
	Speed       *Speed      `json:"speed"`
	Time        *Window     `json:"time"`
}

// Speed is a travel speed in the given units.
type Speed struct {
	Value float64 `json:"value"`
	Units string  `json:"units"`
}

// Window bounds the travel time of day, in decimal hours.
type Window struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// path is a validated polyline with precomputed segment lengths in meters.
type path struct {
	points   orb.LineString
	segments []float64
	total    float64
	speed    float64 // meters per hour
	from, to float64
}

func newPath(kind sim.Kind, spec PathSpec) (*path, error) {
	if len(spec.Coordinates) < 2 {
		return nil, sim.InvalidSpec(kind, "coordinates", "must contain at least 2 points")
	}
	if spec.Speed == nil {
		return nil, sim.InvalidSpec(kind, "speed", "is required")
	}
	perUnit, ok := metersPerUnit[spec.Speed.Units]
	if !ok {
		return nil, sim.InvalidSpec(kind, "speed.units", "must be %s or %s, got %q", KilometersPerHour, MilesPerHour, spec.Speed.Units)
	}
	if !(spec.Speed.Value > 0) || math.IsInf(spec.Speed.Value, 0) {
		return nil, sim.InvalidSpec(kind, "speed.value", "must be a positive number, got %v", spec.Speed.Value)
	}
	if spec.Time == nil {
		return nil, sim.InvalidSpec(kind, "time", "is required")
	}
	if spec.Time.From > spec.Time.To {
		return nil, sim.InvalidSpec(kind, "time", "from (%v) must not be after to (%v)", spec.Time.From, spec.Time.To)
	}

	p := &path{
		points:   make(orb.LineString, len(spec.Coordinates)),
		segments: make([]float64, len(spec.Coordinates)-1),
		speed:    spec.Speed.Value * perUnit,
		from:     spec.Time.From,
		to:       spec.Time.To,
	}
	for i, c := range spec.Coordinates {
		if len(c) != 2 {
			return nil, sim.InvalidSpec(kind, "coordinates", "entry %d must be a [lon, lat] pair", i)
		}
		if c[1] < -90 || c[1] > 90 || c[0] < -180 || c[0] > 180 {
			return nil, sim.InvalidSpec(kind, "coordinates", "entry %d is out of range: %v", i, c)
		}
		p.points[i] = orb.Point{c[0], c[1]}
	}
	for i := range p.segments {
		p.segments[i] = geo.DistanceHaversine(p.points[i], p.points[i+1])
		p.total += p.segments[i]
	}
	if p.total == 0 {
		return nil, sim.InvalidSpec(kind, "coordinates", "path has zero length")
	}
	return p, nil
}

// traveled returns the distance covered at decimal hour t, wrapped modulo the
// path length. Travel is frozen outside the window.
func (p *path) traveled(t float64) float64 {
	var d float64
	switch {
	case t < p.from:
		d = 0
	case t > p.to:
		d = p.speed * (p.to - p.from)
	default:
		d = p.speed * (t - p.from)
	}
	return math.Mod(d, p.total)
}

// segmentAt returns the index of the first segment whose cumulative length
// reaches d, and the distance already covered before that segment. At an
// exact segment boundary the earlier segment wins, so a zero-length first
// segment (repeated start point) is the one selected at d = 0 and its
// bearing there is that of two equal points, 0.
func (p *path) segmentAt(d float64) (int, float64) {
	acc := 0.0
	for i, l := range p.segments {
		if acc+l >= d {
			return i, acc
		}
		acc += l
	}
	last := len(p.segments) - 1
	return last, acc - p.segments[last]
}

// pointAt returns the point at distance d along the path.
func (p *path) pointAt(d float64) orb.Point {
	i, before := p.segmentAt(d)
	overshoot := d - before
	if overshoot == 0 {
		return p.points[i]
	}
	bearing := geo.Bearing(p.points[i], p.points[i+1])
	return geo.PointAtBearingAndDistance(p.points[i], bearing, overshoot)
}

// bearingAt returns the bearing in degrees of the segment containing d.
func (p *path) bearingAt(d float64) float64 {
	i, _ := p.segmentAt(d)
	return geo.Bearing(p.points[i], p.points[i+1])
}

func (p *path) String() string {
	return fmt.Sprintf("path(%d points, %.1fm, %.1fm/h, %v-%vh)", len(p.points), p.total, p.speed, p.from, p.to)
}
