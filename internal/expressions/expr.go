package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEngine evaluates loop continuation predicates with expr-lang/expr.
// Programs are compiled with AsBool, so a loop condition that cannot yield a
// bool is rejected at edit time.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: make(map[string]*vm.Program)}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string { return string(LanguageExpr) }

// Check compiles expression.
func (e *ExprEngine) Check(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

// Evaluate runs expression with data as its environment.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}
	out, err := vm.Run(prg, exprEnv(data))
	if err != nil {
		return nil, evaluationFailed(LanguageExpr, expression, err)
	}
	if _, ok := out.(bool); !ok {
		return nil, evaluationFailed(LanguageExpr, expression, fmt.Errorf("result %T is not a bool", out))
	}
	return out, nil
}

func (e *ExprEngine) getOrCompile(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, emptyExpression(LanguageExpr)
	}

	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(exprEnv(nil)),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, invalidExpression(LanguageExpr, expression, err)
	}
	e.cache[expression] = prg
	return prg, nil
}

// exprEnv fills in the predicate variables so compile-time type checks and
// runtime lookups see the same shape.
func exprEnv(data map[string]any) map[string]any {
	env := make(map[string]any, len(data)+len(predicateVars)+1)
	for _, key := range predicateVars {
		env[key] = map[string]any{}
	}
	env["iteration"] = 0
	for k, v := range data {
		if v != nil {
			env[k] = v
		}
	}
	return env
}

var _ Engine = (*ExprEngine)(nil)
