package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/pkg/schema"
)

func TestRender_PNG(t *testing.T) {
	png, err := Render(context.Background(), Build(conditionDoc(), nil), FormatPNG)
	require.NoError(t, err)
	require.True(t, len(png) > 8, "PNG should be larger than header")
	assert.Equal(t, byte(0x89), png[0])
	assert.Equal(t, byte('P'), png[1])
	assert.Equal(t, byte('N'), png[2])
	assert.Equal(t, byte('G'), png[3])
}

func TestRender_SVGWithStatus(t *testing.T) {
	model := Build(loopDoc(), &Overlay{
		Nodes: map[string]schema.NodeState{
			"start": {Status: schema.NodeStatusCompleted},
			"loop":  {Status: schema.NodeStatusRunning},
		},
		Edges: map[string]schema.EdgeStatus{"e1": schema.EdgeStatusTraversed},
	})
	svg, err := Render(context.Background(), model, FormatSVG)
	require.NoError(t, err)
	assert.Contains(t, string(svg), "<svg")
}

func TestRender_DOT(t *testing.T) {
	dot, err := Render(context.Background(), Build(conditionDoc(), nil), FormatDOT)
	require.NoError(t, err)
	assert.Contains(t, string(dot), "digraph")
	assert.Contains(t, string(dot), "check")
}

func TestRender_UnknownFormat(t *testing.T) {
	_, err := Render(context.Background(), Build(conditionDoc(), nil), "gif")
	assert.Error(t, err)
}
