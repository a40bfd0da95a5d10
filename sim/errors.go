package sim

import (
	"errors"
	"fmt"
)

// Error kinds shared by every interpolator and by the collaborators around
// the engine. Match them with errors.Is.
var (
	// ErrInvalidInterpolationSpec marks a malformed or incomplete specification
	// detected while constructing an interpolator. Never returned mid-invocation.
	ErrInvalidInterpolationSpec = errors.New("invalid interpolation specification")

	// ErrValueResolution marks any failure during a live invocation.
	ErrValueResolution = errors.New("value resolution error")

	// Surfaced by components outside the engine; propagated unchanged.
	ErrSimulationConfigurationNotValid = errors.New("simulation configuration not valid")
	ErrPackageNotImported              = errors.New("package not imported")
	ErrProtocolNotSupported            = errors.New("protocol not supported")
	ErrNGSIVersionNotSupported         = errors.New("NGSI version not supported")
	ErrTokenNotAvailable               = errors.New("token not available")
)

// InvalidSpecError describes which property of a specification is missing or
// malformed.
type InvalidSpecError struct {
	Kind     Kind
	Property string
	Reason   string
}

func (e *InvalidSpecError) Error() string {
	if e.Property == "" {
		return fmt.Sprintf("%s: %s: %s", ErrInvalidInterpolationSpec, e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: %s: property %q %s", ErrInvalidInterpolationSpec, e.Kind, e.Property, e.Reason)
}

func (e *InvalidSpecError) Is(target error) bool {
	return target == ErrInvalidInterpolationSpec
}

// InvalidSpec builds an *InvalidSpecError.
func InvalidSpec(kind Kind, property, format string, args ...any) error {
	return &InvalidSpecError{Kind: kind, Property: property, Reason: fmt.Sprintf(format, args...)}
}

// ResolutionError carries the original specification of a failed invocation
// for diagnostics.
type ResolutionError struct {
	Spec string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s: %v (spec: %s)", ErrValueResolution, e.Err, e.Spec)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

func (e *ResolutionError) Is(target error) bool {
	return target == ErrValueResolution
}

// ResolutionFailed wraps err as a *ResolutionError for spec.
func ResolutionFailed(spec string, err error) error {
	return &ResolutionError{Spec: spec, Err: err}
}
