package mcp

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
)

func TestMCPNotifier_SkipsUnknownAgent(t *testing.T) {
	reg := NewSessionRegistry()
	n := NewMCPNotifier(server.NewMCPServer("test", "0.0.0"), reg)

	assert.NoError(t, n.Notify(context.Background(), "nobody", map[string]any{"event_type": "x"}))
}

func TestMCPNotifier_DropsExpiredSession(t *testing.T) {
	reg := NewSessionRegistry()
	reg.Register("planner", "gone")
	n := NewMCPNotifier(server.NewMCPServer("test", "0.0.0"), reg)

	assert.NoError(t, n.Notify(context.Background(), "planner", map[string]any{"event_type": "x"}))
	_, ok := reg.SessionFor("planner")
	assert.False(t, ok)
}
