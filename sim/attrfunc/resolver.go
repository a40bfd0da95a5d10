// Package attrfunc resolves attribute-function specifications: expressions
// whose value depends on other entities' current attributes, fetched from the
// context broker, and on state carried across ticks.
//
// One invocation runs Parse (at construction), then Batch, Execute,
// Substitute, Evaluate and Persist. Remote lookups for distinct entities run
// concurrently. The invocation blocks until all of them have returned or one
// has failed.
package attrfunc

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/attrsim/attrsim/sim"
	"github.com/attrsim/attrsim/sim/expr"
	"github.com/attrsim/attrsim/sim/ngsi"
	"github.com/attrsim/attrsim/sim/store"
)

// Reserved keys of a module export envelope.
const (
	ResultKey  = "result"
	StateKey   = "state"
	GlobalsKey = "globals"
)

// Querier fetches entity attributes. *ngsi.Client implements it.
type Querier interface {
	QueryContext(ctx context.Context, token string, req ngsi.QueryContextRequest) (*ngsi.QueryContextResponse, error)
}

// Config carries a resolver's collaborators.
type Config struct {
	// Globals is shared by every resolver in the process. Required.
	Globals *store.Globals

	// Querier is required when the specification references other entities.
	Querier Querier

	// Evaluator defaults to expr.New().
	Evaluator *expr.Evaluator

	// Now defaults to time.Now.
	Now func() time.Time
}

// Resolver evaluates one attribute-function specification. Its state map is
// private to it; invocations are serialized.
type Resolver struct {
	spec    string
	prog    *program
	querier Querier
	globals *store.Globals
	eval    *expr.Evaluator
	now     func() time.Time

	mu    sync.Mutex
	state map[string]any
}

// New parses text and seeds the state map from its declaration.
func New(text string, cfg Config) (*Resolver, error) {
	prog, err := parse(text)
	if err != nil {
		return nil, err
	}
	return newResolver(text, prog, cfg)
}

func newResolver(text string, prog *program, cfg Config) (*Resolver, error) {
	if cfg.Globals == nil {
		return nil, fmt.Errorf("%w: attribute-function needs a global variable store", sim.ErrSimulationConfigurationNotValid)
	}
	if len(prog.queries) > 0 && cfg.Querier == nil {
		return nil, fmt.Errorf("%w: attribute-function references other entities but no context broker is configured",
			sim.ErrSimulationConfigurationNotValid)
	}
	ev := cfg.Evaluator
	if ev == nil {
		var err error
		if ev, err = expr.New(); err != nil {
			return nil, err
		}
	}
	if err := ev.Parse(prog.placeholder()); err != nil {
		return nil, sim.InvalidSpec(sim.KindAttributeFunction, "expression", "%v", err)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	state := make(map[string]any, len(prog.state))
	for _, v := range prog.state {
		state[v.Name] = v.Default
	}
	return &Resolver{
		spec:    string(sim.KindAttributeFunction) + "(" + text + ")",
		prog:    prog,
		querier: cfg.Querier,
		globals: cfg.Globals,
		eval:    ev,
		now:     now,
		state:   state,
	}, nil
}

// References returns the distinct variable references, in order of first
// appearance.
func (r *Resolver) References() []Reference {
	return append([]Reference(nil), r.prog.references...)
}

// State returns a copy of the current state map.
func (r *Resolver) State() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.state)
}

// Interpolate resolves with the tick's token.
func (r *Resolver) Interpolate(ctx context.Context, tick sim.Tick) (any, error) {
	return r.Resolve(ctx, tick.Token)
}

// Resolve runs one invocation and blocks until it completes. On failure the
// error matches sim.ErrValueResolution and carries the specification; the
// state map and the global store are left untouched.
func (r *Resolver) Resolve(ctx context.Context, token string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	values, err := r.execute(ctx, token)
	if err != nil {
		return nil, sim.ResolutionFailed(r.spec, err)
	}
	source, err := r.substitute(values)
	if err != nil {
		return nil, sim.ResolutionFailed(r.spec, err)
	}

	// State shadows globals.
	vars := r.globals.Snapshot()
	maps.Copy(vars, r.state)

	out, err := r.eval.Eval(ctx, source, vars, r.now())
	if err != nil {
		return nil, sim.ResolutionFailed(r.spec, err)
	}
	if !r.prog.module {
		return out, nil
	}

	result, state, globals, err := unwrap(out)
	if err != nil {
		return nil, sim.ResolutionFailed(r.spec, err)
	}
	r.globals.Merge(globals)
	maps.Copy(r.state, state)
	return result, nil
}

// Outcome is the result of an asynchronous invocation.
type Outcome struct {
	Value any
	Err   error
}

// Go runs Resolve in its own goroutine. The channel receives exactly one
// Outcome and is then closed.
func (r *Resolver) Go(ctx context.Context, token string) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		v, err := r.Resolve(ctx, token)
		ch <- Outcome{Value: v, Err: err}
	}()
	return ch
}

// execute issues one queryContext per entity. Requests run concurrently; the
// first failure is returned at once and the requests still in flight are
// cancelled.
func (r *Resolver) execute(ctx context.Context, token string) ([]map[string]any, error) {
	type answer struct {
		i     int
		attrs map[string]any
		err   error
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	answers := make(chan answer, len(r.prog.queries))
	for i, q := range r.prog.queries {
		i, q := i, q
		go func() {
			resp, err := r.querier.QueryContext(ctx, token, ngsi.NewQuery(q.entity, q.typ, q.attributes))
			if err != nil {
				answers <- answer{i: i, err: err}
				return
			}
			answers <- answer{i: i, attrs: resp.Attributes()}
		}()
	}

	values := make([]map[string]any, len(r.prog.queries))
	for range r.prog.queries {
		a := <-answers
		if a.err != nil {
			return nil, a.err
		}
		values[a.i] = a.attrs
	}
	return values, nil
}

// substitute replaces every reference token with the literal text of its
// value. Tokens are replaced in a single pass, so a value that itself looks
// like a token is never expanded again.
func (r *Resolver) substitute(values []map[string]any) (string, error) {
	if len(r.prog.references) == 0 {
		return r.prog.body, nil
	}
	pairs := make([]string, 0, 2*len(r.prog.references))
	for _, ref := range r.prog.references {
		v, ok := values[r.prog.queryOf[ref.Token]][ref.Attribute]
		if !ok {
			logrus.Debugf("attribute %s of %s not returned by the context broker, substituting %s",
				ref.Attribute, ref.Entity, expr.UndefinedVariable)
			pairs = append(pairs, ref.Token, expr.UndefinedVariable)
			continue
		}
		lit, err := literal(v)
		if err != nil {
			return "", fmt.Errorf("substituting %s: %w", ref.Token, err)
		}
		pairs = append(pairs, ref.Token, lit)
	}
	return strings.NewReplacer(pairs...).Replace(r.prog.body), nil
}

// literal renders an attribute value as expression source. Strings are
// inserted as is, numbers become double literals and anything else is
// rendered as JSON.
func literal(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "null", nil
	case string:
		return t, nil
	case float64:
		return double(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func double(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if strings.ContainsAny(s, ".eE") {
		return s
	}
	return s + ".0"
}

// unwrap interprets a module export. A map holding a result or state key is
// an envelope; anything else is the result itself.
func unwrap(out any) (result any, state, globals map[string]any, err error) {
	m, ok := out.(map[string]any)
	if !ok {
		return out, nil, nil, nil
	}
	_, hasResult := m[ResultKey]
	rawState, hasState := m[StateKey]
	if !hasResult && !hasState {
		return out, nil, nil, nil
	}
	result = m[ResultKey]
	if !hasState || rawState == nil {
		return result, nil, nil, nil
	}
	st, ok := rawState.(map[string]any)
	if !ok {
		return nil, nil, nil, fmt.Errorf("exported %s must be an object, got %T", StateKey, rawState)
	}
	state = maps.Clone(st)
	if rawGlobals, ok := state[GlobalsKey]; ok {
		delete(state, GlobalsKey)
		if rawGlobals != nil {
			if globals, ok = rawGlobals.(map[string]any); !ok {
				return nil, nil, nil, fmt.Errorf("exported %s.%s must be an object, got %T", StateKey, GlobalsKey, rawGlobals)
			}
		}
	}
	return result, state, globals, nil
}
