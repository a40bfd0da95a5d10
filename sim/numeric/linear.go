package numeric

import (
	"context"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/interp"

	"github.com/attrsim/attrsim/sim"
)

// Linear interpolates piecewise-linearly between control points. Inputs
// outside the control-point range return the nearest endpoint's y.
type Linear struct {
	input  Input
	ret    ReturnPolicy
	points []ControlPoint
	pl     *interp.PiecewiseLinear // nil for a single control point
}

// NewLinear builds a linear curve. Points are stably sorted by X; when two
// points share an X the later one (in that order) is kept.
func NewLinear(points []ControlPoint, ret ReturnPolicy, input Input) (*Linear, error) {
	if err := ret.validate(sim.KindLinear); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, sim.InvalidSpec(sim.KindLinear, "spec", "must contain at least one control point")
	}
	sorted, dropped := collapseTies(sortedCopy(points))
	if dropped > 0 {
		logrus.Warnf("linear interpolator: %d control points share an x value with a later point and were ignored", dropped)
	}

	l := &Linear{input: input, ret: ret, points: sorted}
	if len(sorted) > 1 {
		xs, ys := split(sorted)
		l.pl = &interp.PiecewiseLinear{}
		if err := l.pl.Fit(xs, ys); err != nil {
			return nil, sim.InvalidSpec(sim.KindLinear, "spec", "%v", err)
		}
	}
	return l, nil
}

// At evaluates the curve at x, before the return policy is applied.
func (l *Linear) At(x float64) float64 {
	if l.pl == nil {
		return l.points[0].Y
	}
	return l.pl.Predict(x)
}

// Interpolate implements sim.Interpolator.
func (l *Linear) Interpolate(_ context.Context, tick sim.Tick) (any, error) {
	return l.ret.Apply(l.At(l.input.of(tick))), nil
}

// collapseTies keeps the last of each run of equal X values in sorted.
func collapseTies(sorted []ControlPoint) ([]ControlPoint, int) {
	out := make([]ControlPoint, 0, len(sorted))
	dropped := 0
	for _, p := range sorted {
		if n := len(out); n > 0 && out[n-1].X == p.X {
			out[n-1] = p
			dropped++
			continue
		}
		out = append(out, p)
	}
	return out, dropped
}
