package graph

import "github.com/rendis/flowgraph/pkg/schema"

// NodeLookup answers node-existence questions. The projector depends on this
// interface only, so it never needs mutation access to a graph.
type NodeLookup interface {
	HasNode(id string) bool
}

// Snapshot is an immutable, frozen copy of a graph at a given revision.
// It is safe for concurrent reads.
type Snapshot struct {
	g        *Graph
	revision int64
}

// Freeze copies g into a Snapshot tagged with revision.
func Freeze(g *Graph, revision int64) *Snapshot {
	return &Snapshot{g: g.Clone(), revision: revision}
}

// Revision returns the editor revision the snapshot was taken at.
func (s *Snapshot) Revision() int64 { return s.revision }

// HasNode reports whether the frozen graph contains the node.
func (s *Snapshot) HasNode(id string) bool { return s.g.HasNode(id) }

// Node returns a copy of a frozen node.
func (s *Snapshot) Node(id string) (*schema.Node, bool) { return s.g.Node(id) }

// Outgoing returns the frozen edges leaving a node.
func (s *Snapshot) Outgoing(id string) []*schema.Edge { return s.g.Outgoing(id) }

// NodeIDs returns the frozen node ids in sorted order.
func (s *Snapshot) NodeIDs() []string { return s.g.NodeIDs() }

// Document returns a deep copy of the frozen graph as a document.
func (s *Snapshot) Document() *schema.GraphDocument {
	doc := s.g.Document()
	doc.Revision = s.revision
	return doc
}

var (
	_ NodeLookup = (*Graph)(nil)
	_ NodeLookup = (*Snapshot)(nil)
)
