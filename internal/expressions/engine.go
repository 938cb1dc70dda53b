package expressions

import (
	"context"
	"strings"

	"github.com/rendis/flowgraph/pkg/schema"
)

// Language names an expression dialect used inside node configs.
type Language string

const (
	// LanguageCEL is used by condition nodes.
	LanguageCEL Language = "cel"
	// LanguageExpr is used by loop continuation conditions.
	LanguageExpr Language = "expr"
	// LanguageJQ is used by action output mappings.
	LanguageJQ Language = "jq"
)

// Engine compiles and evaluates expressions of one language. Compiled
// programs are cached, so Check followed by Evaluate compiles once.
type Engine interface {
	Name() string
	Check(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Variables every predicate may reference. Values are supplied by the runtime;
// the editor only checks that expressions compile against these names.
var predicateVars = []string{"input", "nodes", "vars"}

// Set bundles one engine per language.
type Set struct {
	CEL  *CELEngine
	Expr *ExprEngine
	JQ   *GoJQEngine
}

// NewSet creates all engines.
func NewSet() (*Set, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Set{
		CEL:  celEngine,
		Expr: NewExprEngine(),
		JQ:   NewGoJQEngine(),
	}, nil
}

// Engine returns the engine for lang, case-insensitive.
func (s *Set) Engine(lang Language) (Engine, bool) {
	switch Language(strings.ToLower(string(lang))) {
	case LanguageCEL:
		return s.CEL, true
	case LanguageExpr:
		return s.Expr, true
	case LanguageJQ:
		return s.JQ, true
	}
	return nil, false
}

// Check compiles expression in lang.
func (s *Set) Check(lang Language, expression string) error {
	e, ok := s.Engine(lang)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown expression language %q", lang)
	}
	return e.Check(expression)
}

func invalidExpression(lang Language, expression string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeInvalidExpression,
		"%s expression %q does not compile: %s", lang, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression, "language": string(lang)})
}

func evaluationFailed(lang Language, expression string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeEvaluation,
		"%s evaluation failed for %q: %s", lang, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression, "language": string(lang)})
}

func emptyExpression(lang Language) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeInvalidExpression, "empty %s expression", lang)
}
