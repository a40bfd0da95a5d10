package attrfunc

import (
	"encoding/json"
	"regexp"
	"slices"
	"strings"

	"github.com/attrsim/attrsim/sim"
	"github.com/attrsim/attrsim/sim/expr"
)

// TypeSeparator splits an entity reference into id and type.
const TypeSeparator = ":#:"

var (
	referencePattern = regexp.MustCompile(`\$\{\{([^}]+)\}\{([^}]+)\}\}`)
	statePattern     = regexp.MustCompile(`(?s)/\*\s*state\s*:\s*(.*?)\s*\*/`)
	modulePattern    = regexp.MustCompile(`^\s*module\.exports\s*=\s*`)
)

// Reference is one ${{entity[:#:type]}{attribute}} token.
type Reference struct {
	Token     string
	Entity    string
	Type      string
	Attribute string
}

// query collects the attributes to fetch for one entity.
type query struct {
	entity     string
	typ        string
	attributes []string
}

// StateVar is a state declaration with its literal default (nil if none).
type StateVar struct {
	Name    string
	Default any
}

// program is the parsed form of an attribute-function specification.
type program struct {
	references []Reference
	// queries are in first-reference order, one per distinct entity.
	queries []query
	// queryOf maps a reference token to its index in queries.
	queryOf map[string]int
	state   []StateVar
	// module is true when the body exports its value with module.exports.
	module bool
	// body is the expression left once the state comment and any
	// module.exports prefix are removed.
	body string
}

func parse(text string) (*program, error) {
	p := &program{queryOf: make(map[string]int)}

	body := text
	if m := statePattern.FindStringSubmatchIndex(text); m != nil {
		vars, err := parseState(text[m[2]:m[3]])
		if err != nil {
			return nil, err
		}
		p.state = vars
		body = text[:m[0]] + text[m[1]:]
	}

	entityIndex := make(map[string]int)
	seenToken := make(map[string]bool)
	for _, m := range referencePattern.FindAllStringSubmatch(body, -1) {
		token, entityRef, attr := m[0], strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		if seenToken[token] {
			continue
		}
		seenToken[token] = true

		id, typ, _ := strings.Cut(entityRef, TypeSeparator)
		if id == "" || attr == "" {
			return nil, sim.InvalidSpec(sim.KindAttributeFunction, "reference", "%q names no entity or attribute", token)
		}
		ref := Reference{Token: token, Entity: id, Type: typ, Attribute: attr}
		p.references = append(p.references, ref)

		key := id + TypeSeparator + typ
		idx, ok := entityIndex[key]
		if !ok {
			idx = len(p.queries)
			entityIndex[key] = idx
			p.queries = append(p.queries, query{entity: id, typ: typ})
		}
		if !slices.Contains(p.queries[idx].attributes, attr) {
			p.queries[idx].attributes = append(p.queries[idx].attributes, attr)
		}
		p.queryOf[token] = idx
	}

	if loc := modulePattern.FindStringIndex(body); loc != nil {
		p.module = true
		body = body[loc[1]:]
	}
	p.body = strings.TrimRight(strings.TrimSpace(body), ";")
	if strings.TrimSpace(p.body) == "" {
		return nil, sim.InvalidSpec(sim.KindAttributeFunction, "expression", "is empty")
	}
	return p, nil
}

// placeholder returns the body with every reference replaced by undefined,
// for a syntax check before any value is known.
func (p *program) placeholder() string {
	return referencePattern.ReplaceAllLiteralString(p.body, expr.UndefinedVariable)
}

func parseState(decl string) ([]StateVar, error) {
	var vars []StateVar
	seen := make(map[string]bool)
	for _, item := range splitTopLevel(decl) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, literal, hasDefault := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if !expr.IsIdentifier(name) {
			return nil, sim.InvalidSpec(sim.KindAttributeFunction, "state", "%q is not a valid variable name", name)
		}
		if seen[name] {
			return nil, sim.InvalidSpec(sim.KindAttributeFunction, "state", "%q is declared twice", name)
		}
		seen[name] = true

		v := StateVar{Name: name}
		if hasDefault {
			if err := json.Unmarshal([]byte(strings.TrimSpace(literal)), &v.Default); err != nil {
				return nil, sim.InvalidSpec(sim.KindAttributeFunction, "state", "default of %q is not a JSON literal: %v", name, err)
			}
		}
		vars = append(vars, v)
	}
	return vars, nil
}

// splitTopLevel splits s on commas that are outside brackets, braces and
// string literals.
func splitTopLevel(s string) []string {
	var (
		parts   []string
		depth   int
		inStr   bool
		escaped bool
		start   int
	)
	for i, r := range s {
		switch {
		case escaped:
			escaped = false
		case inStr && r == '\\':
			escaped = true
		case r == '"':
			inStr = !inStr
		case inStr:
		case r == '[' || r == '{':
			depth++
		case r == ']' || r == '}':
			depth--
		case r == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}
