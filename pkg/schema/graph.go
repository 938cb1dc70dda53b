package schema

// NodeKind enumerates the kinds of nodes a workflow graph may contain.
type NodeKind string

const (
	NodeKindStart      NodeKind = "start"
	NodeKindEnd        NodeKind = "end"
	NodeKindAction     NodeKind = "action"
	NodeKindCondition  NodeKind = "condition"
	NodeKindLoop       NodeKind = "loop"
	NodeKindSubprocess NodeKind = "subprocess"
)

// Port labels.
const (
	PortOut   = "out"
	PortTrue  = "true"
	PortFalse = "false"
)

// Position is a 2D canvas coordinate. Presentation only.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a typed vertex of a workflow graph.
type Node struct {
	ID          string            `json:"id" yaml:"id"`
	Kind        NodeKind          `json:"kind" yaml:"kind"`
	Label       string            `json:"label,omitempty" yaml:"label,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Config      map[string]any    `json:"config,omitempty" yaml:"config,omitempty"`
	Status      NodeStatus        `json:"status,omitempty" yaml:"status,omitempty"`
	Position    Position          `json:"position" yaml:"position"`
	Warnings    []ValidationIssue `json:"warnings,omitempty" yaml:"-"`
	Errors      []ValidationIssue `json:"errors,omitempty" yaml:"-"`
}

// Clone returns a deep copy of the node. Config values that are maps or
// slices are copied recursively.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cp := *n
	cp.Config = CloneConfig(n.Config)
	if n.Warnings != nil {
		cp.Warnings = append([]ValidationIssue(nil), n.Warnings...)
	}
	if n.Errors != nil {
		cp.Errors = append([]ValidationIssue(nil), n.Errors...)
	}
	return &cp
}

// Edge is a directed, port-labeled connection between two nodes.
type Edge struct {
	ID         string `json:"id" yaml:"id"`
	Source     string `json:"source" yaml:"source"`
	SourcePort string `json:"source_port,omitempty" yaml:"source_port,omitempty"`
	Target     string `json:"target" yaml:"target"`
}

// Port returns the source port, defaulting to "out".
func (e *Edge) Port() string {
	if e.SourcePort == "" {
		return PortOut
	}
	return e.SourcePort
}

// GraphDocument is the serializable shape of a workflow graph. Any storage
// format must round-trip these fields losslessly.
type GraphDocument struct {
	ID       string         `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	Revision int64          `json:"revision,omitempty" yaml:"revision,omitempty"`
	Nodes    []*Node        `json:"nodes" yaml:"nodes"`
	Edges    []*Edge        `json:"edges" yaml:"edges"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Clone returns a deep copy of the document.
func (d *GraphDocument) Clone() *GraphDocument {
	if d == nil {
		return nil
	}
	cp := &GraphDocument{
		ID:       d.ID,
		Name:     d.Name,
		Revision: d.Revision,
		Nodes:    make([]*Node, 0, len(d.Nodes)),
		Edges:    make([]*Edge, 0, len(d.Edges)),
		Metadata: CloneConfig(d.Metadata),
	}
	for _, n := range d.Nodes {
		cp.Nodes = append(cp.Nodes, n.Clone())
	}
	for _, e := range d.Edges {
		ec := *e
		cp.Edges = append(cp.Edges, &ec)
	}
	return cp
}

// CloneConfig deep-copies a configuration map.
func CloneConfig(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneConfig(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
