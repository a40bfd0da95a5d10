package sim

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/attrsim/attrsim/sim/store"
)

// Tick is the input of one evaluation.
type Tick struct {
	// At is the wall-clock instant of the tick. Text rotation reads calendar
	// fields from it in UTC; decimal hours are derived in At's own location.
	At time.Time

	// Elapsed is the number of seconds since the simulation started.
	Elapsed float64

	// Token is injected as X-Auth-Token by interpolators that query the
	// context broker.
	Token string
}

// DecimalHours returns the time of day of At as a float, e.g. 13.5 for 13:30.
func (t Tick) DecimalHours() float64 {
	h, m, s := t.At.Clock()
	return float64(h) + float64(m)/60 + (float64(s)+float64(t.At.Nanosecond())/1e9)/3600
}

// Interpolator turns a tick into a concrete attribute value.
//
// Numeric, geo and text interpolators hold no mutable state and may be
// invoked concurrently. Attribute-function resolvers are stateful and must
// not be invoked concurrently with themselves.
type Interpolator interface {
	Interpolate(ctx context.Context, tick Tick) (any, error)
}

// ContextBrokerConfig locates the NGSI context broker.
type ContextBrokerConfig struct {
	Protocol    string `yaml:"protocol"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	NGSIVersion string `yaml:"ngsi_version,omitempty"`
}

// DomainConfig holds the tenant a simulation reports into.
type DomainConfig struct {
	Service    string `yaml:"service"`
	Subservice string `yaml:"subservice"`
}

// Deps carries the collaborators an interpolator may need at construction.
// Only the fields relevant to a kind are read.
type Deps struct {
	// Attribute names the simulated attribute, for logging.
	Attribute string

	// Globals is the process-wide variable store shared by every
	// attribute-function resolver.
	Globals *store.Globals

	Broker     ContextBrokerConfig
	Domain     DomainConfig
	HTTPClient *http.Client

	// RNG drives probabilistic text selection. Seed it (see PartitionedRNG)
	// for reproducible runs.
	RNG *rand.Rand

	// Now overrides the wall clock; nil means time.Now.
	Now func() time.Time
}

// Clock returns d.Now, defaulting to time.Now.
func (d Deps) Clock() func() time.Time {
	if d.Now == nil {
		return time.Now
	}
	return d.Now
}

// Factory builds an Interpolator from a Spec.
type Factory func(spec Spec, deps Deps) (Interpolator, error)

// Factories registered by the implementation packages from their init().
// A nil factory means the package was not linked into the binary.
var (
	NewNumericFunc           Factory // sim/numeric
	NewGeoFunc               Factory // sim/geo
	NewTextRotationFunc      Factory // sim/text
	NewAttributeFunctionFunc Factory // sim/attrfunc
)

// NewInterpolator validates spec and constructs the matching strategy.
func NewInterpolator(spec Spec, deps Deps) (Interpolator, error) {
	var (
		factory Factory
		pkg     string
	)
	switch spec.Kind {
	case KindLinear, KindStepAfter, KindStepBefore,
		KindTimeLinear, KindTimeStepAfter, KindTimeStepBefore,
		KindDateIncrement:
		factory, pkg = NewNumericFunc, "sim/numeric"
	case KindMultilinePosition, KindMultilineBearing:
		factory, pkg = NewGeoFunc, "sim/geo"
	case KindTextRotation:
		factory, pkg = NewTextRotationFunc, "sim/text"
	case KindAttributeFunction:
		factory, pkg = NewAttributeFunctionFunc, "sim/attrfunc"
	default:
		return nil, InvalidSpec(spec.Kind, "", "unknown interpolator kind")
	}
	if factory == nil {
		return nil, &packageNotImportedError{kind: spec.Kind, pkg: pkg}
	}
	return factory(spec, deps)
}

type packageNotImportedError struct {
	kind Kind
	pkg  string
}

func (e *packageNotImportedError) Error() string {
	return ErrPackageNotImported.Error() + ": " + e.pkg + " is required for " + string(e.kind)
}

func (e *packageNotImportedError) Is(target error) bool {
	return target == ErrPackageNotImported
}
