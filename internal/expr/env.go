package expr

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// Environment builds and compiles CEL programs for policy rule files. Rules
// see two variables: request (method, path, query, headers) and claims (the
// verified JWT payload, or null for anonymous requests).
type Environment struct {
	env *cel.Env
}

// NewEnvironment declares the CEL variables exposed to rule expressions.
func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("claims", cel.DynType),
		cel.Function("lookup",
			cel.Overload("lookup_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(lookupMapValue),
			),
		),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return &Environment{env: env}, nil
}

// Program wraps a compiled CEL rule expression.
type Program struct {
	source  string
	program cel.Program
}

// Compile prepares a rule expression for execution. Rule results are loosely
// typed (bool, string, list, or null), so no output type is enforced.
func (e *Environment) Compile(expression string) (Program, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return Program{}, fmt.Errorf("expr: expression required")
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return Program{}, fmt.Errorf("expr: compile %q: %w", expr, issues.Err())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return Program{}, fmt.Errorf("expr: program %q: %w", expr, err)
	}
	return Program{source: expr, program: program}, nil
}

// Source returns the original CEL expression for logging.
func (p Program) Source() string { return p.source }

// Eval executes the program and converts the result to a native Go value:
// null becomes nil, lists become []any, maps become map[string]any.
func (p Program) Eval(vars map[string]any) (any, error) {
	if p.program == nil {
		return nil, fmt.Errorf("expr: program not initialized")
	}
	val, _, err := p.program.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	return nativeValue(val), nil
}

func nativeValue(val ref.Val) any {
	if val == nil {
		return nil
	}
	switch val.Type() {
	case types.NullType:
		return nil
	case types.ListType:
		if native, err := val.ConvertToNative(reflect.TypeOf([]any{})); err == nil {
			return native
		}
	case types.MapType:
		if native, err := val.ConvertToNative(reflect.TypeOf(map[string]any{})); err == nil {
			return native
		}
	}
	return val.Value()
}

func lookupMapValue(mapVal ref.Val, key ref.Val) ref.Val {
	mapper, ok := mapVal.(traits.Mapper)
	if !ok {
		return types.NewErr("expr: lookup only supports string-key maps")
	}
	value, found := mapper.Find(key)
	if !found {
		return types.NullValue
	}
	if value == nil {
		return types.NullValue
	}
	return value
}
