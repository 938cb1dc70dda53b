package editor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/pkg/schema"
)

func TestHandlePort(t *testing.T) {
	tests := []struct {
		node, handle, want string
	}{
		{"c1", "", schema.PortOut},
		{"c1", "source", schema.PortOut},
		{"c1", "true", schema.PortTrue},
		{"c1", "c1:false", schema.PortFalse},
		{"c1", "c1-true", schema.PortTrue},
		{"c1", "other-true", "other-true"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HandlePort(tt.node, tt.handle), "%s/%s", tt.node, tt.handle)
	}
}

func TestGestures_Flow(t *testing.T) {
	ed := newEditor(t)
	g := NewGestures(ed)

	start, err := g.DropNode(" Start ", schema.Position{X: 10}, nil)
	require.NoError(t, err)
	cond, err := g.DropNode("condition", schema.Position{X: 20}, map[string]any{"expression": "amount > 100"})
	require.NoError(t, err)
	act, err := g.DropNode("action", schema.Position{X: 30}, nil)
	require.NoError(t, err)

	_, err = g.DropNode("webhook", schema.Position{}, nil)
	assert.True(t, errors.Is(err, schema.ErrInvalidKind))

	_, err = g.ConnectHandles(Connection{Source: start.ID, Target: cond.ID})
	require.NoError(t, err)
	edge, err := g.ConnectHandles(Connection{Source: cond.ID, SourceHandle: cond.ID + ":true", Target: act.ID})
	require.NoError(t, err)
	assert.Equal(t, schema.PortTrue, edge.SourcePort)

	_, err = g.ConnectHandles(Connection{Source: cond.ID, SourceHandle: "true", Target: act.ID})
	assert.True(t, errors.Is(err, schema.ErrPortOccupied))

	moved, err := g.DragEnd(act.ID, schema.Position{X: 99, Y: 1})
	require.NoError(t, err)
	assert.Equal(t, schema.Position{X: 99, Y: 1}, moved.Position)

	removed, err := g.DeleteSelection(Selection{NodeIDs: []string{cond.ID, "ghost"}, EdgeIDs: []string{edge.ID}})
	require.NoError(t, err)
	assert.Len(t, removed, 2, "the explicit edge plus the cascaded start edge")
	assert.False(t, ed.HasNode(cond.ID))
	assert.Empty(t, ed.Document().Edges)
}
