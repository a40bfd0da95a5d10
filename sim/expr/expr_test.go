package expr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 17, 13, 30, 0, 0, time.UTC)

func newEvaluator(t *testing.T, opts ...Option) *Evaluator {
	t.Helper()
	e, err := New(opts...)
	require.NoError(t, err)
	return e
}

func TestEval_Values(t *testing.T) {
	e := newEvaluator(t)
	vars := map[string]any{
		"counter": 3.0,
		"label":   "room",
		"reading": map[string]any{"value": 21.5, "unit": "C"},
		"history": []any{1.0, 2.0, 3.0},
		"missing": nil,
	}

	tests := []struct {
		name   string
		source string
		want   any
	}{
		{"arithmetic on doubles", "counter * 2.0 + 0.5", 6.5},
		{"integer literal arithmetic", "2 + 3", 5.0},
		{"integer literal division", "10 / 4", 2.5},
		{"integer literal added to double", "counter + 1", 4.0},
		{"integer literals on both sides", "counter * 2 - 1", 5.0},
		{"integer literal comparison", "counter > 2 && counter == 3", true},
		{"indexed element plus integer", "history[1] + 1", 3.0},
		{"integer function result plus integer", "size(history) + 1", 4.0},
		{"integer modulo", "7 % 4", 3.0},
		{"string concatenation", `label + "-" + reading.unit`, "room-C"},
		{"field access", "reading.value > 20.0", true},
		{"conditional", `counter > 5.0 ? "high" : "low"`, "low"},
		{"list size", "size(history)", 3.0},
		{"null variable", "missing == null", true},
		{"undefined binding", "undefined == null", true},
		{"now binding", "now.getHours()", 13.0},
		{"string extension", `label.upperAscii()`, "ROOM"},
		{"map literal", `{"result": counter, "ok": true}`, map[string]any{"result": 3.0, "ok": true}},
		{"list literal", `[label, counter]`, []any{"room", 3.0}},
		{"falsy zero", "0.0", 0.0},
		{"falsy false", "false", false},
		{"timestamp renders as string", "now", "2024-05-17T13:30:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Eval(context.Background(), tt.source, vars, fixedNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEval_Errors(t *testing.T) {
	e := newEvaluator(t)
	tests := []struct {
		name   string
		source string
	}{
		{"syntax", "1 +"},
		{"unknown variable", "nobody + 1.0"},
		{"modulo on a double", "x % 2"},
		{"runtime modulo by zero", "1 % 0"},
		{"no I/O functions", `readFile("/etc/passwd")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Eval(context.Background(), tt.source, map[string]any{"x": 1.0}, fixedNow)
			assert.Error(t, err)
		})
	}
}

func TestEval_NonIdentifierVariablesAreUnbound(t *testing.T) {
	e := newEvaluator(t)
	vars := map[string]any{"ok": 1.0, "not-an-id": 2.0, "in": 3.0}

	got, err := e.Eval(context.Background(), "ok", vars, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)
}

func TestEval_CostLimitStopsRunawayExpressions(t *testing.T) {
	// GIVEN a tiny budget
	e := newEvaluator(t, WithCostLimit(10))

	// WHEN an expression iterates over a large list
	vars := map[string]any{"xs": make([]any, 1000)}
	_, err := e.Eval(context.Background(), "xs.all(x, x == null)", vars, fixedNow)

	// THEN it is cut off
	assert.Error(t, err)
}

func TestParse_OnlyChecksSyntax(t *testing.T) {
	e := newEvaluator(t)
	assert.NoError(t, e.Parse("unknownVariable + 1.0"))
	assert.Error(t, e.Parse("(1 + "))
}

func TestIsIdentifier(t *testing.T) {
	tests := map[string]bool{
		"speed": true, "_x1": true, "camelCase": true,
		"": false, "1x": false, "a-b": false, "a.b": false,
		"in": false, "null": false, "now": false, "undefined": false,
	}
	for name, want := range tests {
		assert.Equal(t, want, IsIdentifier(name), name)
	}
}
