package attrfunc

import (
	"github.com/sirupsen/logrus"

	"github.com/attrsim/attrsim/sim"
	"github.com/attrsim/attrsim/sim/ngsi"
)

func init() {
	sim.NewAttributeFunctionFunc = NewFromSpec
}

// NewFromSpec builds a Resolver from spec, querying the broker in deps.
// A spec that references no entity never contacts the broker, so its
// configuration is only checked when needed.
func NewFromSpec(spec sim.Spec, deps sim.Deps) (sim.Interpolator, error) {
	if spec.Kind != sim.KindAttributeFunction {
		return nil, sim.InvalidSpec(spec.Kind, "", "not an attribute-function interpolator")
	}
	text, err := spec.Text()
	if err != nil {
		return nil, err
	}
	prog, err := parse(text)
	if err != nil {
		return nil, err
	}

	cfg := Config{Globals: deps.Globals, Now: deps.Now}
	if len(prog.queries) > 0 {
		client, err := ngsi.NewClient(deps.Broker, deps.Domain, deps.HTTPClient)
		if err != nil {
			return nil, err
		}
		cfg.Querier = client
	}
	r, err := newResolver(text, prog, cfg)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("attribute %q: attribute-function over %d entities, state %v", deps.Attribute, len(prog.queries), stateNames(prog.state))
	return r, nil
}

func stateNames(vars []StateVar) []string {
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.Name
	}
	return names
}
