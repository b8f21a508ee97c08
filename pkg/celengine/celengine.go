package celengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"
)

// Program is a compiled boolean expression.
type Program struct {
	expr string
	prg  cel.Program
}

// Compile checks expr against the given variables, each declared dynamic,
// and rejects expressions that cannot yield a bool.
func Compile(expr string, variables ...string) (*Program, error) {
	opts := make([]cel.EnvOption, 0, len(variables))
	for _, name := range variables {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must evaluate to bool, got %s", out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}

	return &Program{expr: expr, prg: prg}, nil
}

func (p *Program) String() string {
	return p.expr
}

// Eval runs the program against attrs.
func (p *Program) Eval(ctx context.Context, attrs map[string]any) (bool, error) {
	out, _, err := p.prg.ContextEval(ctx, attrs)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}
	return b, nil
}

// StructToMap flattens s through its JSON form so expressions see the same
// field names as API clients.
func StructToMap(s any) map[string]any {
	if s == nil {
		return map[string]any{}
	}

	b, err := json.Marshal(s)
	if err != nil {
		zap.L().Debug("failed StructToMap Marshal", zap.Error(err))
		return map[string]any{}
	}

	var result map[string]any
	if err := json.Unmarshal(b, &result); err != nil {
		zap.L().Debug("failed StructToMap Unmarshal", zap.Error(err))
		return map[string]any{}
	}

	return result
}
