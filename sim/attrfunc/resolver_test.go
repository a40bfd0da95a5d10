package attrfunc_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attrsim/attrsim/sim"
	"github.com/attrsim/attrsim/sim/attrfunc"
	"github.com/attrsim/attrsim/sim/internal/testutil"
	"github.com/attrsim/attrsim/sim/ngsi"
	"github.com/attrsim/attrsim/sim/store"
)

var fixedNow = time.Date(2024, 5, 17, 13, 30, 0, 0, time.UTC)

func deps(broker *testutil.FakeBroker, globals *store.Globals) sim.Deps {
	d := sim.Deps{
		Attribute: "test",
		Globals:   globals,
		Domain:    sim.DomainConfig{Service: "svc", Subservice: "/sub"},
		Now:       func() time.Time { return fixedNow },
	}
	if broker != nil {
		d.Broker = broker.Config()
	}
	return d
}

func build(t *testing.T, text string, d sim.Deps) sim.Interpolator {
	t.Helper()
	ip, err := sim.NewInterpolator(sim.Spec{Kind: sim.KindAttributeFunction, Args: text}, d)
	require.NoError(t, err)
	return ip
}

func resolve(t *testing.T, ip sim.Interpolator) any {
	t.Helper()
	v, err := ip.Interpolate(context.Background(), sim.Tick{At: fixedNow, Token: "tok"})
	require.NoError(t, err)
	return v
}

func TestResolve_OneQueryPerEntity(t *testing.T) {
	// GIVEN two entities, one referenced through three tokens
	broker := testutil.NewFakeBroker(t)
	broker.SetEntity("Room1", "", map[string]any{"temperature": "20", "humidity": "50"})
	broker.SetEntity("Room2", "Room", map[string]any{"temperature": "24"})
	ip := build(t, `(${{Room1}{temperature}} + ${{Room2:#:Room}{temperature}}) / 2.0 + ${{Room1}{humidity}} * 0.0 + ${{Room1}{temperature}} * 0.0`,
		deps(broker, store.New()))

	// WHEN it is resolved
	v := resolve(t, ip)

	// THEN the value is computed from both entities
	assert.Equal(t, 22.0, v)

	// AND exactly one request per entity was sent, with deduplicated attributes
	reqs := broker.Requests()
	require.Len(t, reqs, 2)
	byEntity := map[string]testutil.Query{}
	for _, r := range reqs {
		byEntity[r.Query.Entities[0].ID] = r.Query
		assert.Equal(t, "tok", r.Header.Get("X-Auth-Token"))
		assert.Equal(t, "svc", r.Header.Get("Fiware-Service"))
		assert.Equal(t, "/sub", r.Header.Get("Fiware-ServicePath"))
	}
	assert.Equal(t, []string{"temperature", "humidity"}, byEntity["Room1"].Attributes)
	assert.Equal(t, "Room", byEntity["Room2"].Entities[0].Type)
}

func TestResolve_QueriesRunConcurrently(t *testing.T) {
	broker := testutil.NewFakeBroker(t)
	broker.SetLatency(50 * time.Millisecond)
	var refs []string
	for _, id := range []string{"A", "B", "C", "D"} {
		broker.SetEntity(id, "", map[string]any{"v": "1"})
		refs = append(refs, "${{"+id+"}{v}}")
	}
	ip := build(t, strings.Join(refs, " + "), deps(broker, store.New()))

	assert.Equal(t, 4.0, resolve(t, ip))
	assert.Greater(t, broker.MaxInFlight(), 1)
}

func TestResolve_StringValuesAreInsertedVerbatim(t *testing.T) {
	broker := testutil.NewFakeBroker(t)
	broker.SetEntity("Door", "", map[string]any{"status": "open"})
	ip := build(t, `"${{Door}{status}}" == "open" ? 1.0 : 0.0`, deps(broker, store.New()))
	assert.Equal(t, 1.0, resolve(t, ip))
}

func TestResolve_NumericStringsAreSourceText(t *testing.T) {
	broker := testutil.NewFakeBroker(t)
	broker.SetEntity("Room1", "", map[string]any{"code": "007", "temperature": "20"})
	tests := []struct {
		name string
		body string
		want any
	}{
		{"inside a string literal keeps leading zeros", `"${{Room1}{code}}"`, "007"},
		{"inside a string literal stays integral", `"T=${{Room1}{temperature}}"`, "T=20"},
		{"bare value is a number", `${{Room1}{temperature}} + 1`, 21.0},
		{"bare value compares with a double", `${{Room1}{temperature}} > 19.5`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN a body placing a numeric string attribute in source text
			ip := build(t, tt.body, deps(broker, store.New()))

			// WHEN it is resolved
			// THEN the attribute text was inserted unchanged
			assert.Equal(t, tt.want, resolve(t, ip))
		})
	}
}

func TestResolve_IntegerLiteralsMixWithState(t *testing.T) {
	// GIVEN a counter kept in state and updated with integer literals
	ip := build(t, `/* state: counter = 0 */ module.exports = {"result": counter * 2 + 1, "state": {"counter": counter + 1}};`,
		deps(nil, store.New()))

	// WHEN it is resolved twice
	first := resolve(t, ip)
	second := resolve(t, ip)

	// THEN the arithmetic worked on the JSON numbers
	assert.Equal(t, 1.0, first)
	assert.Equal(t, 3.0, second)
	assert.Equal(t, map[string]any{"counter": 2.0}, ip.(*attrfunc.Resolver).State())
}

func TestResolve_MissingAttributeIsUndefined(t *testing.T) {
	broker := testutil.NewFakeBroker(t)
	broker.SetEntity("Room1", "", map[string]any{"temperature": "20"})
	ip := build(t, `${{Room1}{pressure}} == undefined ? "none" : "some"`, deps(broker, store.New()))
	assert.Equal(t, "none", resolve(t, ip))
}

func TestResolve_StatePersistsAcrossInvocations(t *testing.T) {
	// GIVEN a counter kept in state
	ip := build(t, `/* state: counter = 0 */ module.exports = {"result": counter + 1.0, "state": {"counter": counter + 1.0}};`,
		deps(nil, store.New()))

	// WHEN it is resolved three times
	// THEN each invocation sees the previous state
	for want := 1.0; want <= 3; want++ {
		assert.Equal(t, want, resolve(t, ip))
	}
	assert.Equal(t, map[string]any{"counter": 3.0}, ip.(*attrfunc.Resolver).State())
}

func TestResolve_UndeclaredStateIsUnchanged(t *testing.T) {
	ip := build(t, `/* state: a = 1, b = "keep" */ module.exports = {"result": a, "state": {"a": a + 1.0}};`,
		deps(nil, store.New()))
	resolve(t, ip)
	assert.Equal(t, map[string]any{"a": 2.0, "b": "keep"}, ip.(*attrfunc.Resolver).State())
}

func TestResolve_FalsyResultsAreReturned(t *testing.T) {
	tests := []struct {
		body string
		want any
	}{
		{`module.exports = {"result": 0.0, "state": {}}`, 0.0},
		{`module.exports = {"result": false}`, false},
		{`module.exports = {"state": {"x": 1.0}}`, nil},
	}
	for _, tt := range tests {
		ip := build(t, "/* state: x */ "+tt.body, deps(nil, store.New()))
		assert.Equal(t, tt.want, resolve(t, ip), tt.body)
	}
}

func TestResolve_ModuleWithoutEnvelopeReturnsExport(t *testing.T) {
	ip := build(t, `module.exports = {"lat": 1.5, "lon": 2.5};`, deps(nil, store.New()))
	assert.Equal(t, map[string]any{"lat": 1.5, "lon": 2.5}, resolve(t, ip))
}

func TestResolve_BareExpressionHasNoEnvelope(t *testing.T) {
	ip := build(t, `{"result": 1.0, "state": {"x": 2.0}}`, deps(nil, store.New()))
	assert.Equal(t, map[string]any{"result": 1.0, "state": map[string]any{"x": 2.0}}, resolve(t, ip))
	assert.Empty(t, ip.(*attrfunc.Resolver).State())
}

func TestResolve_GlobalsAreSharedBetweenResolvers(t *testing.T) {
	// GIVEN two resolvers on one store
	globals := store.New()
	writer := build(t, `module.exports = {"result": true, "state": {"globals": {"shared": 42.0}, "local": 1.0}};`, deps(nil, globals))
	reader := build(t, `shared * 2.0`, deps(nil, globals))

	// WHEN the writer runs
	assert.Equal(t, true, resolve(t, writer))

	// THEN the global is visible to the reader, and the globals sub-object
	// did not land in the writer's state
	assert.Equal(t, 84.0, resolve(t, reader))
	v, ok := globals.Get("shared")
	require.True(t, ok)
	assert.Equal(t, 42.0, v)
	assert.Equal(t, map[string]any{"local": 1.0}, writer.(*attrfunc.Resolver).State())
}

func TestResolve_StateShadowsGlobals(t *testing.T) {
	globals := store.New()
	globals.Set("x", "global")
	ip := build(t, `/* state: x = "state" */ x`, deps(nil, globals))
	assert.Equal(t, "state", resolve(t, ip))
}

func TestResolve_NowIsBound(t *testing.T) {
	ip := build(t, `now.getFullYear()`, deps(nil, store.New()))
	assert.Equal(t, 2024.0, resolve(t, ip))
}

func TestResolve_FailuresCarryTheSpec(t *testing.T) {
	broker := testutil.NewFakeBroker(t)
	broker.SetEntity("Good", "", map[string]any{"v": "1"})
	broker.FailHTTP("Down", http.StatusServiceUnavailable)
	broker.FailEmbedded("Broken", "500")

	tests := []struct {
		name string
		text string
	}{
		{"http failure", `${{Good}{v}} + ${{Down}{v}}`},
		{"embedded error code", `${{Broken}{v}}`},
		{"unknown entity", `${{Nobody}{v}}`},
		{"evaluation error", `${{Good}{v}} / unknownVariable`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			globals := store.New()
			ip := build(t, "/* state: s = 1 */ module.exports = {\"result\": "+tt.text+", \"state\": {\"s\": 2.0, \"globals\": {\"g\": 1.0}}}", deps(broker, globals))

			_, err := ip.Interpolate(context.Background(), sim.Tick{Token: "tok"})

			require.ErrorIs(t, err, sim.ErrValueResolution)
			var resErr *sim.ResolutionError
			require.True(t, errors.As(err, &resErr))
			assert.Contains(t, resErr.Spec, tt.text)
			// nothing persisted
			assert.Equal(t, map[string]any{"s": 1.0}, ip.(*attrfunc.Resolver).State())
			assert.Zero(t, globals.Len())
		})
	}
}

// stubQuerier answers from a function per entity id.
type stubQuerier map[string]func(ctx context.Context) (*ngsi.QueryContextResponse, error)

func (q stubQuerier) QueryContext(ctx context.Context, _ string, req ngsi.QueryContextRequest) (*ngsi.QueryContextResponse, error) {
	return q[req.Entities[0].ID](ctx)
}

func TestResolve_FirstFailureReturnsWithoutWaitingForSiblings(t *testing.T) {
	// GIVEN one entity that fails at once and one that answers late
	cancelled := make(chan struct{})
	querier := stubQuerier{
		"Down": func(context.Context) (*ngsi.QueryContextResponse, error) {
			return nil, errors.New("connection refused")
		},
		"Slow": func(ctx context.Context) (*ngsi.QueryContextResponse, error) {
			select {
			case <-ctx.Done():
				close(cancelled)
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
				return &ngsi.QueryContextResponse{}, nil
			}
		},
	}
	r, err := attrfunc.New(`${{Slow}{v}} + ${{Down}{v}}`, attrfunc.Config{Globals: store.New(), Querier: querier})
	require.NoError(t, err)

	// WHEN it is resolved
	started := time.Now()
	_, err = r.Resolve(context.Background(), "tok")

	// THEN the failure is reported before the slow entity answers
	require.ErrorIs(t, err, sim.ErrValueResolution)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Less(t, time.Since(started), time.Second)

	// AND the slow request was cancelled
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("slow request was not cancelled")
	}
}

func TestResolve_GoDeliversOneOutcome(t *testing.T) {
	r, err := attrfunc.New(`1.0 + 1.0`, attrfunc.Config{Globals: store.New()})
	require.NoError(t, err)

	ch := r.Go(context.Background(), "")
	out, ok := <-ch
	require.True(t, ok)
	require.NoError(t, out.Err)
	assert.Equal(t, 2.0, out.Value)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestNew_ConstructionErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		d    sim.Deps
		want error
	}{
		{"syntax error", `${{A}{x}} +`, sim.Deps{Globals: store.New(), Broker: sim.ContextBrokerConfig{Protocol: "http", Host: "h"}}, sim.ErrInvalidInterpolationSpec},
		{"bad state default", `/* state: x = [ */ x`, sim.Deps{Globals: store.New()}, sim.ErrInvalidInterpolationSpec},
		{"unsupported protocol", `${{A}{x}}`, sim.Deps{Globals: store.New(), Broker: sim.ContextBrokerConfig{Protocol: "ftp", Host: "h"}}, sim.ErrProtocolNotSupported},
		{"no globals", `1.0`, sim.Deps{}, sim.ErrSimulationConfigurationNotValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sim.NewInterpolator(sim.Spec{Kind: sim.KindAttributeFunction, Args: tt.text}, tt.d)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNew_UnserializableSpecIsResolutionError(t *testing.T) {
	_, err := sim.NewInterpolator(sim.Spec{Kind: sim.KindAttributeFunction, Args: map[string]any{"f": func() {}}}, deps(nil, store.New()))
	assert.ErrorIs(t, err, sim.ErrValueResolution)
}

func TestNewFromSpec_KeepsParsedProgram(t *testing.T) {
	// GIVEN a spec referencing two entities and declaring state
	broker := testutil.NewFakeBroker(t)
	text := `/* state: n = 1 */ module.exports = {"result": ${{A}{x}} + ${{B:#:T}{y}} + ${{A}{x}} + n, "state": {"n": n}}`

	// WHEN it is built through the registered factory
	ip, err := attrfunc.NewFromSpec(sim.Spec{Kind: sim.KindAttributeFunction, Args: text}, deps(broker, store.New()))
	require.NoError(t, err)

	// THEN the resolver carries the references and state of that single parse
	r := ip.(*attrfunc.Resolver)
	assert.Equal(t, []attrfunc.Reference{
		{Token: "${{A}{x}}", Entity: "A", Attribute: "x"},
		{Token: "${{B:#:T}{y}}", Entity: "B", Type: "T", Attribute: "y"},
	}, r.References())
	assert.Equal(t, map[string]any{"n": 1.0}, r.State())
}

func TestNew_FromTextualSpec(t *testing.T) {
	spec, err := sim.ParseSpec(`attribute-function-interpolator(/* state: n = 10 */ module.exports = {"result": n * 2.0, "state": {"n": n - 1.0}})`)
	require.NoError(t, err)
	ip, err := sim.NewInterpolator(spec, deps(nil, store.New()))
	require.NoError(t, err)
	assert.Equal(t, 20.0, resolve(t, ip))
	assert.Equal(t, 18.0, resolve(t, ip))
}
