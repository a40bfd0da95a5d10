// Package expr evaluates attribute-function bodies in a CEL sandbox.
//
// Expressions can read the variables they are given, the fixed clock binding
// "now" and the null binding "undefined". They cannot perform I/O, loop
// without bound or reach anything outside their environment. Evaluation is
// cut off once it exceeds the configured cost budget or the caller's context
// is done.
//
// Numbers coming from JSON data are CEL doubles. Integer literals that are
// operands of arithmetic or comparison operators are read as doubles, so
// x + 1 adds to a JSON number.
package expr

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"
)

// Names bound by every evaluation in addition to the caller's variables.
const (
	NowVariable       = "now"
	UndefinedVariable = "undefined"
)

// DefaultCostLimit bounds the work a single evaluation may do.
const DefaultCostLimit = 1_000_000

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Words the CEL grammar reserves; they cannot name a variable.
var reserved = map[string]bool{
	"true": true, "false": true, "null": true, "in": true,
	"as": true, "break": true, "const": true, "continue": true, "else": true,
	"for": true, "function": true, "if": true, "import": true, "let": true,
	"loop": true, "package": true, "namespace": true, "return": true,
	"var": true, "void": true, "while": true,
}

// IsIdentifier reports whether name can be bound as an expression variable.
func IsIdentifier(name string) bool {
	return identifier.MatchString(name) && !reserved[name] &&
		name != NowVariable && name != UndefinedVariable
}

// Evaluator compiles and runs expressions. It is safe for concurrent use.
type Evaluator struct {
	costLimit uint64
	parser    *cel.Env
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithCostLimit overrides DefaultCostLimit.
func WithCostLimit(limit uint64) Option {
	return func(e *Evaluator) { e.costLimit = limit }
}

// New returns an Evaluator.
func New(opts ...Option) (*Evaluator, error) {
	e := &Evaluator{costLimit: DefaultCostLimit}
	for _, opt := range opts {
		opt(e)
	}
	parser, err := newEnv(nil)
	if err != nil {
		return nil, err
	}
	e.parser = parser
	return e, nil
}

func newEnv(names []string) (*cel.Env, error) {
	opts := []cel.EnvOption{
		ext.Strings(),
		ext.Math(),
		cel.Variable(NowVariable, cel.TimestampType),
		cel.Variable(UndefinedVariable, cel.NullType),
	}
	for _, n := range names {
		opts = append(opts, cel.Variable(n, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating expression environment: %w", err)
	}
	return env, nil
}

// Parse checks source for syntax errors only; unknown variables are not an
// error at this stage.
func (e *Evaluator) Parse(source string) error {
	if _, iss := e.parser.Parse(source); iss != nil && iss.Err() != nil {
		return fmt.Errorf("parsing expression: %w", iss.Err())
	}
	return nil
}

// Eval parses, type-checks and runs source with vars bound as dynamically
// typed variables and now bound to the given instant. Names in vars that are
// not identifiers are left unbound. The result is converted to a JSON value:
// nil, bool, float64, string, []any or map[string]any.
func (e *Evaluator) Eval(ctx context.Context, source string, vars map[string]any, now time.Time) (any, error) {
	names := make([]string, 0, len(vars))
	activation := make(map[string]any, len(vars)+2)
	for name, v := range vars {
		if !IsIdentifier(name) {
			logrus.Debugf("expression variable %q is not an identifier, left unbound", name)
			continue
		}
		names = append(names, name)
		activation[name] = bindable(v)
	}
	activation[NowVariable] = now
	activation[UndefinedVariable] = types.NullValue

	env, err := newEnv(names)
	if err != nil {
		return nil, err
	}

	checked, err := compile(env, source)
	if err != nil {
		return nil, err
	}
	prg, err := env.Program(checked,
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("building expression program: %w", err)
	}

	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return nil, fmt.Errorf("evaluating expression: %w", err)
	}
	return ToJSON(out)
}

// compile parses and type-checks source with its numeric operands widened
// to doubles. When the widened form does not check, as in size(x) + 1, the
// source is checked as written.
func compile(env *cel.Env, source string) (*cel.Ast, error) {
	parsed, iss := env.Parse(source)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("parsing expression: %w", iss.Err())
	}
	if widenIntOperands(parsed.NativeRep().Expr()) {
		if checked, iss := env.Check(parsed); iss == nil || iss.Err() == nil {
			return checked, nil
		}
		parsed, _ = env.Parse(source)
	}
	checked, iss := env.Check(parsed)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("checking expression: %w", iss.Err())
	}
	return checked, nil
}

// Operators whose integer literal operands are rewritten as doubles. Modulo
// is defined on integers only and is left alone, as are function arguments
// and indexes.
var numericOperators = map[string]bool{
	operators.Add:           true,
	operators.Subtract:      true,
	operators.Multiply:      true,
	operators.Divide:        true,
	operators.Negate:        true,
	operators.Less:          true,
	operators.LessEquals:    true,
	operators.Greater:       true,
	operators.GreaterEquals: true,
	operators.Equals:        true,
	operators.NotEquals:     true,
}

// widenIntOperands rewrites, in place, integer literals that are direct
// operands of numericOperators into double literals. It reports whether
// anything changed.
func widenIntOperands(root ast.Expr) bool {
	fac := ast.NewExprFactory()
	changed := false
	ast.PostOrderVisit(root, ast.NewExprVisitor(func(e ast.Expr) {
		if e.Kind() != ast.CallKind || !numericOperators[e.AsCall().FunctionName()] {
			return
		}
		for _, arg := range e.AsCall().Args() {
			if arg.Kind() != ast.LiteralKind {
				continue
			}
			if i, ok := arg.AsLiteral().(types.Int); ok {
				arg.SetKindCase(fac.NewLiteral(arg.ID(), types.Double(i)))
				changed = true
			}
		}
	}))
	return changed
}

// ToJSON converts a CEL value to its JSON counterpart.
func ToJSON(v ref.Val) (any, error) {
	native, err := v.ConvertToNative(reflect.TypeOf(&structpb.Value{}))
	if err != nil {
		return nil, fmt.Errorf("expression result of type %s is not a JSON value: %w", v.Type().TypeName(), err)
	}
	pb, ok := native.(*structpb.Value)
	if !ok {
		return nil, fmt.Errorf("expression result of type %s is not a JSON value", v.Type().TypeName())
	}
	return pb.AsInterface(), nil
}

// bindable maps a top-level nil to the CEL null value.
func bindable(v any) any {
	if v == nil {
		return types.NullValue
	}
	return v
}
