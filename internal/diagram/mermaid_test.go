package diagram

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/flowgraph/pkg/schema"
)

func TestRenderMermaid_Shapes(t *testing.T) {
	output := RenderMermaid(Build(conditionDoc(), nil))

	assert.Contains(t, output, "graph TD")
	assert.Contains(t, output, "%% Refund flow")
	assert.Contains(t, output, `n_start(("Start"))`)
	assert.Contains(t, output, `n_check{"Large refund?"}`)
	assert.Contains(t, output, `n_send["Notify"]`)
	assert.Contains(t, output, `n_end(("End"))`)
	assert.Contains(t, output, "n_check -->|true| n_send")
	assert.Contains(t, output, "n_send --> n_end")
	assert.Contains(t, output, "classDef error")
}

func TestRenderMermaid_LoopAndStatus(t *testing.T) {
	model := Build(loopDoc(), &Overlay{
		Nodes: map[string]schema.NodeState{"body": {Status: schema.NodeStatusRunning}},
		Edges: map[string]schema.EdgeStatus{"e2": schema.EdgeStatusActive},
	})
	output := RenderMermaid(model)

	assert.Contains(t, output, `n_loop{{"Retry"}}`)
	assert.Contains(t, output, "n_body -.-> n_loop")
	assert.Contains(t, output, "n_loop ==> n_body")
	assert.Contains(t, output, "class n_body running")
}

func TestRenderMermaid_InvalidNodes(t *testing.T) {
	doc := conditionDoc()
	doc.Nodes[1].Errors = []schema.ValidationIssue{{Code: "X"}}
	output := RenderMermaid(Build(doc, nil))
	assert.Contains(t, output, "class n_check invalid")
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "n_end", mermaidSafeID("end"))
	assert.Equal(t, "n_a_b_c_d", mermaidSafeID("a.b-c d"))
}
