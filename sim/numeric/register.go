package numeric

import "github.com/attrsim/attrsim/sim"

func init() {
	sim.NewNumericFunc = New
}

// New builds the numeric interpolator named by spec.Kind.
func New(spec sim.Spec, deps sim.Deps) (sim.Interpolator, error) {
	input := InputElapsed
	switch spec.Kind {
	case sim.KindTimeLinear, sim.KindTimeStepAfter, sim.KindTimeStepBefore:
		input = InputDecimalHours
	case sim.KindDateIncrement:
		return wrap[*DateIncrement](newDateIncrementFromSpec(spec, deps.Clock()))
	}

	args, err := decodeCurveArgs(spec)
	if err != nil {
		return nil, err
	}
	switch spec.Kind {
	case sim.KindLinear, sim.KindTimeLinear:
		return wrap[*Linear](NewLinear(args.Points, args.Return, input))
	case sim.KindStepAfter, sim.KindTimeStepAfter:
		return wrap[*StepAfter](NewStepAfter(args.Points, args.Return, input))
	case sim.KindStepBefore, sim.KindTimeStepBefore:
		return wrap[*StepBefore](NewStepBefore(args.Points, args.Return, input))
	default:
		return nil, sim.InvalidSpec(spec.Kind, "", "not a numeric interpolator")
	}
}

// wrap keeps a failed constructor from yielding a non-nil interface holding a
// nil pointer.
func wrap[T sim.Interpolator](v T, err error) (sim.Interpolator, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}
