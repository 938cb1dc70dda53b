package binding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/internal/validation"
	"github.com/rendis/flowgraph/pkg/schema"
)

func newBinder(t *testing.T, opts ...Option) *Binder {
	t.Helper()
	sv, err := validation.NewSchemaValidator()
	require.NoError(t, err)
	exprs, err := expressions.NewSet()
	require.NoError(t, err)
	return New(sv, exprs, opts...)
}

func n(id string, kind schema.NodeKind, cfg map[string]any) *schema.Node {
	return &schema.Node{ID: id, Kind: kind, Config: cfg}
}

func e(id, src, port, dst string) *schema.Edge {
	return &schema.Edge{ID: id, Source: src, SourcePort: port, Target: dst}
}

// validDoc: start -> check -(true)-> send -> end, check -(false)-> loop -> end
func validDoc() *schema.GraphDocument {
	return &schema.GraphDocument{
		ID:       "wf-1",
		Revision: 4,
		Nodes: []*schema.Node{
			n("start", schema.NodeKindStart, nil),
			n("check", schema.NodeKindCondition, map[string]any{"expression": "input.amount > 100"}),
			n("send", schema.NodeKindAction, map[string]any{
				"action":  "email.send",
				"params":  map[string]any{"to": "ops@example.com"},
				"output":  ".message_id",
				"retries": int64(2),
				"timeout": "30s",
			}),
			n("loop", schema.NodeKindLoop, map[string]any{"max_iterations": 3.0, "condition": "iteration < 3"}),
			n("end", schema.NodeKindEnd, nil),
		},
		Edges: []*schema.Edge{
			e("e1", "start", "", "check"),
			e("e2", "check", schema.PortTrue, "send"),
			e("e3", "check", schema.PortFalse, "loop"),
			e("e4", "send", "", "end"),
			e("e5", "loop", "", "end"),
		},
	}
}

func TestBind_ValidDocument(t *testing.T) {
	plan := newBinder(t).Bind(validDoc())

	require.True(t, plan.Runnable(), "%+v", plan.Result.Errors)
	require.NoError(t, plan.Err())
	assert.Equal(t, "wf-1", plan.WorkflowID)
	assert.Equal(t, int64(4), plan.Revision)
	assert.Equal(t, "start", plan.Start)

	send, ok := plan.Nodes["send"].Config.(*ActionConfig)
	require.True(t, ok)
	assert.Equal(t, "email.send", send.Action)
	assert.Equal(t, 2, send.Retries)
	assert.Equal(t, 30*time.Second, send.Timeout)
	assert.Equal(t, "ops@example.com", send.Params["to"])

	loop, ok := plan.Nodes["loop"].Config.(*LoopConfig)
	require.True(t, ok)
	assert.Equal(t, 3, loop.MaxIterations)

	assert.Nil(t, plan.Nodes["start"].Config)
	assert.Equal(t, []Successor{
		{EdgeID: "e3", Port: schema.PortFalse, Target: "loop"},
		{EdgeID: "e2", Port: schema.PortTrue, Target: "send"},
	}, plan.Successors["check"])
	assert.Equal(t, []Successor{{EdgeID: "e1", Port: schema.PortOut, Target: "check"}}, plan.Successors["start"])
	assert.Empty(t, plan.Successors["end"])
}

func TestBind_ConfigIssues(t *testing.T) {
	doc := validDoc()
	doc.Nodes[1].Config["expression"] = "input.amount >"
	doc.Nodes[2].Config["action"] = ""
	doc.Nodes[3].Config["condition"] = `"always"`

	plan := newBinder(t).Bind(doc)
	assert.False(t, plan.Runnable())
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(plan.Err()))

	exprIssues := plan.Result.WithCode(schema.IssueInvalidExpression)
	require.Len(t, exprIssues, 2)
	assert.Equal(t, "check", exprIssues[0].NodeID)
	assert.Equal(t, "loop", exprIssues[1].NodeID)

	cfgIssues := plan.Result.WithCode(schema.IssueInvalidConfig)
	require.Len(t, cfgIssues, 1)
	assert.Equal(t, "send", cfgIssues[0].NodeID)
	assert.Nil(t, plan.Nodes["send"].Config)
}

func TestBind_ActionOutputMapping(t *testing.T) {
	doc := validDoc()
	doc.Nodes[2].Config["output"] = ".items["

	plan := newBinder(t).Bind(doc)
	issues := plan.Result.WithCode(schema.IssueInvalidExpression)
	require.Len(t, issues, 1)
	assert.Equal(t, "send", issues[0].NodeID)
}

func TestBind_FractionalIterations(t *testing.T) {
	doc := validDoc()
	doc.Nodes[3].Config["max_iterations"] = 2.5

	plan := newBinder(t).Bind(doc)
	issues := plan.Result.WithCode(schema.IssueInvalidConfig)
	require.Len(t, issues, 1)
	assert.Equal(t, "loop", issues[0].NodeID)
}

func TestBind_StructuralIssuesIncluded(t *testing.T) {
	doc := validDoc()
	doc.Nodes = append(doc.Nodes, n("start2", schema.NodeKindStart, nil))
	doc.Edges = append(doc.Edges, e("e6", "start2", "", "end"))

	plan := newBinder(t).Bind(doc)
	assert.False(t, plan.Runnable())
	assert.True(t, plan.Result.HasCode(schema.IssueMultipleStart))
	assert.Equal(t, "start", plan.Start, "first start in document order")
	assert.Len(t, plan.Successors["start2"], 1)
}

func TestBind_SubprocessTarget(t *testing.T) {
	doc := &schema.GraphDocument{
		Nodes: []*schema.Node{
			n("start", schema.NodeKindStart, nil),
			n("sub", schema.NodeKindSubprocess, map[string]any{"workflow_id": "billing"}),
			n("sub2", schema.NodeKindSubprocess, map[string]any{"workflow_id": "ghost"}),
			n("end", schema.NodeKindEnd, nil),
		},
		Edges: []*schema.Edge{
			e("e1", "start", "", "sub"),
			e("e2", "sub", "", "sub2"),
			e("e3", "sub2", "", "end"),
		},
	}
	known := map[string]bool{"billing": true}
	plan := newBinder(t, WithWorkflowExists(func(id string) bool { return known[id] })).Bind(doc)

	issues := plan.Result.WithCode(schema.IssueInvalidConfig)
	require.Len(t, issues, 1)
	assert.Equal(t, "sub2", issues[0].NodeID)

	sub, ok := plan.Nodes["sub"].Config.(*SubprocessConfig)
	require.True(t, ok)
	assert.Equal(t, "billing", sub.WorkflowID)
}

func TestBind_DefaultConfigsNeedFilling(t *testing.T) {
	doc := &schema.GraphDocument{
		Nodes: []*schema.Node{
			n("start", schema.NodeKindStart, nil),
			n("a1", schema.NodeKindAction, map[string]any{"action": "", "params": map[string]any{}}),
			n("end", schema.NodeKindEnd, nil),
		},
		Edges: []*schema.Edge{e("e1", "start", "", "a1"), e("e2", "a1", "", "end")},
	}
	plan := newBinder(t).Bind(doc)
	assert.False(t, plan.Runnable())
	assert.True(t, plan.Result.HasCode(schema.IssueInvalidConfig))
}

func TestConfigSchema(t *testing.T) {
	assert.Empty(t, ConfigSchema(schema.NodeKindStart))
	assert.Contains(t, ConfigSchema(schema.NodeKindCondition), `"expression"`)
}
