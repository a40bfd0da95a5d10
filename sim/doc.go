// Package sim provides the attribute value resolution engine.
//
// A simulated attribute is described by a Spec: a kind plus its arguments,
// written textually as "kind(arguments)". NewInterpolator validates the spec
// and returns an Interpolator that turns each Tick into a concrete value.
//
// # Architecture
//
// The sim package defines the shared types (Spec, Tick, Deps, errors);
// implementations live in sub-packages:
//   - sim/numeric/: linear, step-after, step-before and their time-of-day
//     variants, plus date-increment
//   - sim/geo/: multiline position and bearing along a polyline
//   - sim/text/: text rotation with probabilistic buckets
//   - sim/attrfunc/: attribute-function expressions over other entities
//   - sim/ngsi/: NGSI v1 queryContext client used by sim/attrfunc
//   - sim/expr/: CEL sandbox used by sim/attrfunc
//   - sim/store/: process-wide global variable store
//
// Sub-packages register their constructors via init() functions that set
// package-level factory variables (NewNumericFunc, NewGeoFunc,
// NewTextRotationFunc, NewAttributeFunctionFunc). Import them for side
// effects, or NewInterpolator fails with ErrPackageNotImported.
package sim
