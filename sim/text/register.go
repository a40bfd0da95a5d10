package text

import "github.com/attrsim/attrsim/sim"

func init() {
	sim.NewTextRotationFunc = New
}

// New builds a text rotation interpolator drawing from deps.RNG.
func New(spec sim.Spec, deps sim.Deps) (sim.Interpolator, error) {
	if spec.Kind != sim.KindTextRotation {
		return nil, sim.InvalidSpec(spec.Kind, "", "not a text interpolator")
	}
	r, err := newRotationFromSpec(spec, deps.RNG)
	if err != nil {
		return nil, err
	}
	return r, nil
}
