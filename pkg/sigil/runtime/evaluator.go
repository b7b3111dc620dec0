package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator evaluates template expressions against a set of bindings
type Evaluator interface {
	Eval(ctx context.Context, expression string, vars map[string]any) (any, error)
}

// ExprEvaluator evaluates expressions with expr-lang. Compiled programs are
// cached by source text; it is safe for concurrent use.
type ExprEvaluator struct {
	programs sync.Map // string -> *vm.Program
}

// NewExprEvaluator creates an evaluator with an empty program cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{}
}

func (e *ExprEvaluator) Eval(ctx context.Context, expression string, vars map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prog, err := e.compile(expression)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(prog, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %q: %w", expression, err)
	}
	return out, nil
}

func (e *ExprEvaluator) compile(expression string) (*vm.Program, error) {
	if p, ok := e.programs.Load(expression); ok {
		return p.(*vm.Program), nil
	}
	p, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	e.programs.Store(expression, p)
	return p, nil
}
