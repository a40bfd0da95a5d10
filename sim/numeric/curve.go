// Package numeric implements the control-point interpolators (linear,
// step-after, step-before) and the date-increment interpolator.
//
// All of them are immutable after construction and safe for concurrent use.
package numeric

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"

	"github.com/attrsim/attrsim/sim"
)

// ControlPoint anchors a piecewise function.
type ControlPoint struct {
	X, Y float64
}

// Input selects which scalar of a tick drives a curve.
type Input int

const (
	// InputElapsed reads Tick.Elapsed (seconds since simulation start).
	InputElapsed Input = iota
	// InputDecimalHours reads Tick.DecimalHours().
	InputDecimalHours
)

func (in Input) of(t sim.Tick) float64 {
	if in == InputDecimalHours {
		return t.DecimalHours()
	}
	return t.Elapsed
}

// Return types and rounding policies.
const (
	ReturnFloat   = "float"
	ReturnInteger = "integer"

	RoundCeil  = "ceil"
	RoundFloor = "floor"
	RoundRound = "round"
)

// ReturnPolicy decides how a curve's float output is returned.
type ReturnPolicy struct {
	Type     string `json:"type"`
	Rounding string `json:"rounding,omitempty"`
}

// Apply converts v per the policy. Integer results are int64.
func (r ReturnPolicy) Apply(v float64) any {
	if r.Type != ReturnInteger {
		return v
	}
	switch r.Rounding {
	case RoundCeil:
		return int64(math.Ceil(v))
	case RoundFloor:
		return int64(math.Floor(v))
	default:
		return int64(math.Round(v))
	}
}

func (r ReturnPolicy) validate(kind sim.Kind) error {
	switch r.Type {
	case ReturnFloat:
		return nil
	case ReturnInteger:
		switch r.Rounding {
		case RoundCeil, RoundFloor, RoundRound:
			return nil
		case "":
			return sim.InvalidSpec(kind, "return.rounding", "is required when return.type is %q", ReturnInteger)
		default:
			return sim.InvalidSpec(kind, "return.rounding", "must be one of ceil, floor, round, got %q", r.Rounding)
		}
	case "":
		return sim.InvalidSpec(kind, "return.type", "is required")
	default:
		return sim.InvalidSpec(kind, "return.type", "must be float or integer, got %q", r.Type)
	}
}

// curveArgs accepts either {"spec": [[x,y],...], "return": {...}} or a bare
// [[x,y],...] list, which returns floats.
type curveArgs struct {
	Points []ControlPoint
	Return ReturnPolicy
}

func decodeCurveArgs(spec sim.Spec) (curveArgs, error) {
	var raw json.RawMessage
	if err := spec.DecodeArgs(&raw); err != nil {
		return curveArgs{}, err
	}
	raw = bytes.TrimSpace(raw)

	args := curveArgs{Return: ReturnPolicy{Type: ReturnFloat}}
	pointsRaw := raw
	if len(raw) == 0 || raw[0] != '[' {
		var obj struct {
			Spec   json.RawMessage `json:"spec"`
			Return *ReturnPolicy   `json:"return"`
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&obj); err != nil {
			return curveArgs{}, sim.InvalidSpec(spec.Kind, "", "malformed arguments: %v", err)
		}
		if len(obj.Spec) == 0 {
			return curveArgs{}, sim.InvalidSpec(spec.Kind, "spec", "is required")
		}
		if obj.Return != nil {
			args.Return = *obj.Return
		}
		pointsRaw = obj.Spec
	}
	if err := args.Return.validate(spec.Kind); err != nil {
		return curveArgs{}, err
	}

	var pairs [][]float64
	if err := json.Unmarshal(pointsRaw, &pairs); err != nil {
		return curveArgs{}, sim.InvalidSpec(spec.Kind, "spec", "must be a list of [x, y] pairs: %v", err)
	}
	points, err := toControlPoints(spec.Kind, pairs)
	if err != nil {
		return curveArgs{}, err
	}
	args.Points = points
	return args, nil
}

func toControlPoints(kind sim.Kind, pairs [][]float64) ([]ControlPoint, error) {
	if len(pairs) == 0 {
		return nil, sim.InvalidSpec(kind, "spec", "must contain at least one control point")
	}
	points := make([]ControlPoint, len(pairs))
	for i, p := range pairs {
		if len(p) != 2 {
			return nil, sim.InvalidSpec(kind, "spec", "entry %d must be an [x, y] pair, got %d values", i, len(p))
		}
		for _, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, sim.InvalidSpec(kind, "spec", "entry %d must be finite", i)
			}
		}
		points[i] = ControlPoint{X: p[0], Y: p[1]}
	}
	return points, nil
}

// sortedCopy returns points sorted ascending by X. Ties keep their original
// order.
func sortedCopy(points []ControlPoint) []ControlPoint {
	out := make([]ControlPoint, len(points))
	copy(out, points)
	sort.SliceStable(out, func(i, j int) bool { return out[i].X < out[j].X })
	return out
}

func split(points []ControlPoint) (xs, ys []float64) {
	xs = make([]float64, len(points))
	ys = make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.X, p.Y
	}
	return xs, ys
}
