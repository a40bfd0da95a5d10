package numeric

import (
	"context"
	"sort"

	"github.com/attrsim/attrsim/sim"
)

// StepAfter holds the value of the last control point at or before the input.
// Inputs below the first point return the first y.
type StepAfter struct {
	step
}

// StepBefore takes the value of the next control point at or after the input.
// Inputs above the last point return the last y.
type StepBefore struct {
	step
}

type step struct {
	input Input
	ret   ReturnPolicy
	xs    []float64
	ys    []float64
}

func newStep(kind sim.Kind, points []ControlPoint, ret ReturnPolicy, input Input) (step, error) {
	if err := ret.validate(kind); err != nil {
		return step{}, err
	}
	if len(points) == 0 {
		return step{}, sim.InvalidSpec(kind, "spec", "must contain at least one control point")
	}
	xs, ys := split(sortedCopy(points))
	return step{input: input, ret: ret, xs: xs, ys: ys}, nil
}

// NewStepAfter builds a step-after curve. Points are stably sorted by X.
func NewStepAfter(points []ControlPoint, ret ReturnPolicy, input Input) (*StepAfter, error) {
	s, err := newStep(sim.KindStepAfter, points, ret, input)
	if err != nil {
		return nil, err
	}
	return &StepAfter{s}, nil
}

// NewStepBefore builds a step-before curve. Points are stably sorted by X.
func NewStepBefore(points []ControlPoint, ret ReturnPolicy, input Input) (*StepBefore, error) {
	s, err := newStep(sim.KindStepBefore, points, ret, input)
	if err != nil {
		return nil, err
	}
	return &StepBefore{s}, nil
}

// At returns the y of the last point with X <= x. Among equal X values the
// last in sorted order wins.
func (s *StepAfter) At(x float64) float64 {
	i := sort.Search(len(s.xs), func(i int) bool { return s.xs[i] > x })
	if i == 0 {
		return s.ys[0]
	}
	return s.ys[i-1]
}

// Interpolate implements sim.Interpolator.
func (s *StepAfter) Interpolate(_ context.Context, tick sim.Tick) (any, error) {
	return s.ret.Apply(s.At(s.input.of(tick))), nil
}

// At returns the y of the first point with X >= x. Among equal X values the
// first in sorted order wins.
func (s *StepBefore) At(x float64) float64 {
	i := sort.SearchFloat64s(s.xs, x)
	if i == len(s.xs) {
		return s.ys[len(s.ys)-1]
	}
	return s.ys[i]
}

// Interpolate implements sim.Interpolator.
func (s *StepBefore) Interpolate(_ context.Context, tick sim.Tick) (any, error) {
	return s.ret.Apply(s.At(s.input.of(tick))), nil
}
