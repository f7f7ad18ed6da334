package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprEngine_Basic(t *testing.T) {
	e := NewExprEngine()
	env := BuildEnv("hola", map[string]any{"visits": 3}, nil, nil)

	out, err := e.Evaluate(context.Background(), `variables.visits >= 2`, env)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExprEngine_NilCoalescing(t *testing.T) {
	e := NewExprEngine()
	env := BuildEnv("", map[string]any{}, nil, nil)

	out, err := e.Evaluate(context.Background(), `variables.budget ?? 0`, env)
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestExprEngine_StringOps(t *testing.T) {
	e := NewExprEngine()
	env := BuildEnv("Necesito una cita URGENTE", nil, nil, nil)

	out, err := e.Evaluate(context.Background(), `lower(message) contains "urgente"`, env)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestExprEngine_CompileError(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), `message ==`, BuildEnv("x", nil, nil, nil))
	require.Error(t, err)
}

func TestExprEngine_EmptyExpression(t *testing.T) {
	e := NewExprEngine()
	_, err := e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestExprEngine_ProgramReusedAcrossSessions(t *testing.T) {
	e := NewExprEngine()
	ctx := context.Background()
	src := `variables.qualified == "yes"`

	out, err := e.Evaluate(ctx, src, BuildEnv("hi", map[string]any{"qualified": "yes"}, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, true, out)

	// A session without the variable runs the same cached program.
	out, err = e.Evaluate(ctx, src, BuildEnv("hi", nil, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, false, out)
	assert.Len(t, e.programs, 1)
}
