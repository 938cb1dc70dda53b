package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// CELEngine evaluates condition predicates with Google's Common Expression
// Language. Compiled programs are cached and shared across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a CEL environment exposing input, nodes and vars as
// map(string, dyn) plus an int iteration counter.
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	opts := make([]cel.EnvOption, 0, len(predicateVars)+1)
	for _, name := range predicateVars {
		opts = append(opts, cel.Variable(name, mapType))
	}
	opts = append(opts, cel.Variable("iteration", cel.IntType))

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string { return string(LanguageCEL) }

// Check compiles expression and rejects results that cannot be a bool.
func (e *CELEngine) Check(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

// Evaluate runs expression against data. Missing variables default to empty
// maps and a zero iteration.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.ContextEval(ctx, buildActivation(data))
	if err != nil {
		return nil, evaluationFailed(LanguageCEL, expression, err)
	}
	return out.Value(), nil
}

func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, emptyExpression(LanguageCEL)
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

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, invalidExpression(LanguageCEL, expression, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, invalidExpression(LanguageCEL, expression,
			fmt.Errorf("result type is %s, want bool", out))
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, invalidExpression(LanguageCEL, expression, err)
	}
	e.cache[expression] = prg
	return prg, nil
}

func buildActivation(data map[string]any) map[string]any {
	activation := make(map[string]any, len(predicateVars)+1)
	for _, key := range predicateVars {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}
	if v, ok := data["iteration"]; ok {
		activation["iteration"] = v
	} else {
		activation["iteration"] = int64(0)
	}
	return activation
}

var _ Engine = (*CELEngine)(nil)
