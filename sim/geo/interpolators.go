package geo

import (
	"context"

	"github.com/paulmach/orb/geojson"

	"github.com/attrsim/attrsim/sim"
)

func init() {
	sim.NewGeoFunc = New
}

// Position returns the location reached along the path as a GeoJSON point.
type Position struct {
	path *path
}

// Bearing returns the great-circle bearing, in degrees, of the segment being
// traveled.
type Bearing struct {
	path *path
}

// NewPosition builds a position interpolator.
func NewPosition(spec PathSpec) (*Position, error) {
	p, err := newPath(sim.KindMultilinePosition, spec)
	if err != nil {
		return nil, err
	}
	return &Position{path: p}, nil
}

// NewBearing builds a bearing interpolator.
func NewBearing(spec PathSpec) (*Bearing, error) {
	p, err := newPath(sim.KindMultilineBearing, spec)
	if err != nil {
		return nil, err
	}
	return &Bearing{path: p}, nil
}

// At returns the position at decimal hour t.
func (p *Position) At(t float64) *geojson.Geometry {
	return geojson.NewGeometry(p.path.pointAt(p.path.traveled(t)))
}

// Interpolate implements sim.Interpolator using the tick's decimal hours.
func (p *Position) Interpolate(_ context.Context, tick sim.Tick) (any, error) {
	return p.At(tick.DecimalHours()), nil
}

// At returns the bearing at decimal hour t.
func (b *Bearing) At(t float64) float64 {
	return b.path.bearingAt(b.path.traveled(t))
}

// Interpolate implements sim.Interpolator using the tick's decimal hours.
func (b *Bearing) Interpolate(_ context.Context, tick sim.Tick) (any, error) {
	return b.At(tick.DecimalHours()), nil
}

// New builds the geo interpolator named by spec.Kind.
func New(spec sim.Spec, _ sim.Deps) (sim.Interpolator, error) {
	var args PathSpec
	if err := spec.DecodeArgs(&args); err != nil {
		return nil, err
	}
	switch spec.Kind {
	case sim.KindMultilinePosition:
		p, err := NewPosition(args)
		if err != nil {
			return nil, err
		}
		return p, nil
	case sim.KindMultilineBearing:
		b, err := NewBearing(args)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, sim.InvalidSpec(spec.Kind, "", "not a geo interpolator")
	}
}
