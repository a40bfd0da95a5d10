package sim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// Kind names an interpolation strategy, as written in simulation files.
type Kind string

const (
	KindLinear            Kind = "linear-interpolator"
	KindStepAfter         Kind = "step-after-interpolator"
	KindStepBefore        Kind = "step-before-interpolator"
	KindTimeLinear        Kind = "time-linear-interpolator"
	KindTimeStepAfter     Kind = "time-step-after-interpolator"
	KindTimeStepBefore    Kind = "time-step-before-interpolator"
	KindDateIncrement     Kind = "date-increment-interpolator"
	KindMultilinePosition Kind = "multiline-position-interpolator"
	KindMultilineBearing  Kind = "multiline-bearing-interpolator"
	KindTextRotation      Kind = "text-rotation-interpolator"
	KindAttributeFunction Kind = "attribute-function-interpolator"
)

var validKinds = map[Kind]bool{
	KindLinear: true, KindStepAfter: true, KindStepBefore: true,
	KindTimeLinear: true, KindTimeStepAfter: true, KindTimeStepBefore: true,
	KindDateIncrement: true, KindMultilinePosition: true, KindMultilineBearing: true,
	KindTextRotation: true, KindAttributeFunction: true,
}

// Valid reports whether k is a known interpolator kind.
func (k Kind) Valid() bool { return validKinds[k] }

// Kinds returns every known kind, sorted.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(validKinds))
	for k := range validKinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Spec is a specification tagged with its kind. Args is either the textual
// argument (JSON, or the raw expression for attribute-function) or an
// already-decoded structure such as a map or slice read from YAML.
type Spec struct {
	Kind Kind
	Args any
}

var specPattern = regexp.MustCompile(`(?s)^\s*([a-z][a-z-]*)\((.*)\)\s*$`)

// ParseSpec parses the textual form "kind(args)".
func ParseSpec(s string) (Spec, error) {
	m := specPattern.FindStringSubmatch(s)
	if m == nil {
		return Spec{}, InvalidSpec("", "", "expected kind(arguments), got %q", s)
	}
	kind := Kind(m[1])
	if !kind.Valid() {
		return Spec{}, InvalidSpec(kind, "", "unknown interpolator kind")
	}
	return Spec{Kind: kind, Args: m[2]}, nil
}

// String renders the spec back to its textual form.
func (s Spec) String() string {
	text, err := s.Text()
	if err != nil {
		return fmt.Sprintf("%s(%v)", s.Kind, s.Args)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, text)
}

// Text returns the arguments as text. Structured arguments are JSON-encoded;
// an argument that cannot be encoded is a resolution error.
func (s Spec) Text() (string, error) {
	switch a := s.Args.(type) {
	case nil:
		return "", InvalidSpec(s.Kind, "", "missing arguments")
	case string:
		return a, nil
	case []byte:
		return string(a), nil
	case json.RawMessage:
		return string(a), nil
	default:
		b, err := json.Marshal(normalizeYAML(a))
		if err != nil {
			return "", ResolutionFailed(fmt.Sprintf("%s(%v)", s.Kind, a),
				fmt.Errorf("specification is not serializable: %w", err))
		}
		return string(b), nil
	}
}

// DecodeArgs decodes the arguments into v. Textual and structured arguments
// go through the same JSON decoding so they validate identically. Unknown
// fields are rejected.
func (s Spec) DecodeArgs(v any) error {
	text, err := s.Text()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return InvalidSpec(s.Kind, "", "malformed arguments: %v", err)
	}
	return nil
}

// normalizeYAML converts map[any]any values (as produced by some YAML
// decoders) into map[string]any so they can be JSON-encoded.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = normalizeYAML(val)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}
