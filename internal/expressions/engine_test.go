package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/pkg/schema"
)

func TestSet_EngineLookup(t *testing.T) {
	s, err := NewSet()
	require.NoError(t, err)

	for _, lang := range []Language{LanguageCEL, LanguageExpr, LanguageJQ, "CEL"} {
		e, ok := s.Engine(lang)
		require.True(t, ok, lang)
		assert.NotEmpty(t, e.Name())
	}
	_, ok := s.Engine("lua")
	assert.False(t, ok)

	assert.NoError(t, s.Check(LanguageCEL, "input.ok == true"))
	assert.Equal(t, schema.ErrCodeInvalidExpression, schema.CodeOf(s.Check(LanguageJQ, ".[")))
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(s.Check("lua", "x")))
}
