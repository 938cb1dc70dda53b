package diagram

import "github.com/rendis/flowgraph/pkg/schema"

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one graph node as drawn.
type Node struct {
	ID     string
	Label  string // first line is the title, further lines are detail
	Kind   schema.NodeKind
	Status *StatusOverlay
	// Issues counts validation errors attached to the node.
	Issues int
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status  schema.NodeStatus
	Message string
}

// Edge is a directed connection between two nodes.
type Edge struct {
	ID     string
	From   string
	To     string
	Label  string
	Status schema.EdgeStatus
	// Back marks edges that close a cycle, drawn dashed.
	Back bool
}

// Overlay is the per-instance state painted onto a document.
type Overlay struct {
	Nodes map[string]schema.NodeState
	Edges map[string]schema.EdgeStatus
}
