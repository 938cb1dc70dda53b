package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/pkg/schema"
)

func TestExpr_Check(t *testing.T) {
	e := NewExprEngine()
	assert.NoError(t, e.Check("iteration < 5"))
	assert.NoError(t, e.Check(`vars.retry ?? false`))
	assert.NoError(t, e.Check(`len(input.items) > iteration`))

	for _, bad := range []string{"iteration <", `"text"`, "1 + 2", ""} {
		err := e.Check(bad)
		require.Error(t, err, bad)
		assert.Equal(t, schema.ErrCodeInvalidExpression, schema.CodeOf(err), bad)
	}
}

func TestExpr_Evaluate(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, "iteration < 3", map[string]any{"iteration": 2})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(ctx, "iteration < 3", map[string]any{"iteration": 3})
	require.NoError(t, err)
	assert.Equal(t, false, out)

	out, err = e.Evaluate(ctx, `input.status == "pending"`, map[string]any{
		"input": map[string]any{"status": "pending"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExpr_EvaluateNonBoolAtRuntime(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), "vars.count", map[string]any{
		"vars": map[string]any{"count": 3},
	})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeEvaluation, schema.CodeOf(err))
}
