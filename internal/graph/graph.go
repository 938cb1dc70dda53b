// Package graph is the in-memory model of one workflow: nodes, edges and the
// adjacency indices derived from them. Indices are maintained by the mutators
// only; callers never touch them. A Graph is not safe for concurrent use;
// the editor serializes access.
package graph

import (
	"fmt"
	"sort"

	"github.com/rendis/flowgraph/pkg/schema"
)

type idSet map[string]struct{}

// Graph holds the nodes and edges of a workflow together with
// outgoing/incoming edge indices keyed by node id.
type Graph struct {
	nodes    map[string]*schema.Node
	edges    map[string]*schema.Edge
	outgoing map[string]idSet // node ID -> IDs of edges leaving it
	incoming map[string]idSet // node ID -> IDs of edges entering it
	kinds    map[schema.NodeKind]int
}

// NodePatch is a partial update to a node's descriptive fields and config.
// Nil pointers leave the field untouched. Unset runs after Set.
type NodePatch struct {
	Label       *string        `json:"label,omitempty"`
	Description *string        `json:"description,omitempty"`
	Set         map[string]any `json:"set,omitempty"`
	Unset       []string       `json:"unset,omitempty"`
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]*schema.Node),
		edges:    make(map[string]*schema.Edge),
		outgoing: make(map[string]idSet),
		incoming: make(map[string]idSet),
		kinds:    make(map[schema.NodeKind]int),
	}
}

// FromDocument builds a graph from a document. It rejects duplicate ids and
// edges whose endpoints are missing; all other structural rules are left to
// the validator.
func FromDocument(doc *schema.GraphDocument) (*Graph, error) {
	g := New()
	if doc == nil {
		return g, nil
	}
	for _, n := range doc.Nodes {
		if _, err := g.InsertNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range doc.Edges {
		if _, err := g.InsertEdge(e); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// --- Queries ---

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (*schema.Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// HasNode reports whether a node with the given id exists.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// Kind returns the kind of the node with the given id.
func (g *Graph) Kind(id string) (schema.NodeKind, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return "", false
	}
	return n.Kind, true
}

// Edge returns a copy of the edge with the given id.
func (g *Graph) Edge(id string) (*schema.Edge, bool) {
	e, ok := g.edges[id]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// Outgoing returns the edges leaving node id, sorted by edge id.
func (g *Graph) Outgoing(id string) []*schema.Edge {
	return g.collect(g.outgoing[id])
}

// Incoming returns the edges entering node id, sorted by edge id.
func (g *Graph) Incoming(id string) []*schema.Edge {
	return g.collect(g.incoming[id])
}

// OutgoingOnPort returns the edges leaving node id through port.
func (g *Graph) OutgoingOnPort(id, port string) []*schema.Edge {
	var out []*schema.Edge
	for eid := range g.outgoing[id] {
		e := g.edges[eid]
		if e.Port() == port {
			cp := *e
			out = append(out, &cp)
		}
	}
	sortEdges(out)
	return out
}

// Degree returns the number of edges incident to node id.
func (g *Graph) Degree(id string) int {
	return len(g.outgoing[id]) + len(g.incoming[id])
}

// CountKind returns how many nodes of kind the graph holds.
func (g *Graph) CountKind(kind schema.NodeKind) int {
	return g.kinds[kind]
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// NodeIDs returns every node id in sorted order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Nodes returns copies of all nodes sorted by id.
func (g *Graph) Nodes() []*schema.Node {
	out := make([]*schema.Node, 0, len(g.nodes))
	for _, id := range g.NodeIDs() {
		out = append(out, g.nodes[id].Clone())
	}
	return out
}

// Edges returns copies of all edges sorted by id.
func (g *Graph) Edges() []*schema.Edge {
	out := make([]*schema.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		cp := *e
		out = append(out, &cp)
	}
	sortEdges(out)
	return out
}

// Document returns a deep, id-sorted copy of the graph as a document.
func (g *Graph) Document() *schema.GraphDocument {
	return &schema.GraphDocument{
		Nodes: g.Nodes(),
		Edges: g.Edges(),
	}
}

// Clone returns an independent deep copy of the graph.
func (g *Graph) Clone() *Graph {
	cp := New()
	for id, n := range g.nodes {
		cp.nodes[id] = n.Clone()
		cp.kinds[n.Kind]++
	}
	for id, e := range g.edges {
		ec := *e
		cp.edges[id] = &ec
		cp.index(&ec)
	}
	return cp
}

// --- Mutators ---

// InsertNode adds a node. The stored node is a copy of n.
func (g *Graph) InsertNode(n *schema.Node) (*schema.Node, error) {
	if n == nil || n.ID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "node id is required")
	}
	if _, exists := g.nodes[n.ID]; exists {
		return nil, schema.NewErrorf(schema.ErrCodeDuplicateID, "node %q already exists", n.ID).WithNode(n.ID)
	}
	if _, exists := g.edges[n.ID]; exists {
		return nil, schema.NewErrorf(schema.ErrCodeDuplicateID, "id %q already used by an edge", n.ID).WithNode(n.ID)
	}
	stored := n.Clone()
	g.nodes[n.ID] = stored
	g.kinds[stored.Kind]++
	return stored.Clone(), nil
}

// RemoveNode deletes a node and every edge incident to it. It returns the
// removed node and the cascaded edges sorted by id.
func (g *Graph) RemoveNode(id string) (*schema.Node, []*schema.Edge, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, nil, notFoundNode(id)
	}

	incident := make(idSet, g.Degree(id))
	for eid := range g.outgoing[id] {
		incident[eid] = struct{}{}
	}
	for eid := range g.incoming[id] {
		incident[eid] = struct{}{}
	}
	removed := make([]*schema.Edge, 0, len(incident))
	for eid := range incident {
		e := g.edges[eid]
		g.unindex(e)
		delete(g.edges, eid)
		removed = append(removed, e)
	}
	sortEdges(removed)

	delete(g.nodes, id)
	delete(g.outgoing, id)
	delete(g.incoming, id)
	g.kinds[n.Kind]--
	if g.kinds[n.Kind] == 0 {
		delete(g.kinds, n.Kind)
	}
	return n, removed, nil
}

// InsertEdge adds an edge between two existing nodes. The stored edge is a copy of e.
func (g *Graph) InsertEdge(e *schema.Edge) (*schema.Edge, error) {
	if e == nil || e.ID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "edge id is required")
	}
	if _, exists := g.edges[e.ID]; exists {
		return nil, schema.NewErrorf(schema.ErrCodeDuplicateID, "edge %q already exists", e.ID).WithEdge(e.ID)
	}
	if _, exists := g.nodes[e.ID]; exists {
		return nil, schema.NewErrorf(schema.ErrCodeDuplicateID, "id %q already used by a node", e.ID).WithEdge(e.ID)
	}
	if !g.HasNode(e.Source) {
		return nil, notFoundNode(e.Source).WithEdge(e.ID)
	}
	if !g.HasNode(e.Target) {
		return nil, notFoundNode(e.Target).WithEdge(e.ID)
	}
	stored := *e
	if stored.SourcePort == "" {
		stored.SourcePort = schema.PortOut
	}
	g.edges[stored.ID] = &stored
	g.index(&stored)
	cp := stored
	return &cp, nil
}

// RemoveEdge deletes an edge.
func (g *Graph) RemoveEdge(id string) (*schema.Edge, error) {
	e, ok := g.edges[id]
	if !ok {
		return nil, notFoundEdge(id)
	}
	g.unindex(e)
	delete(g.edges, id)
	return e, nil
}

// UpdateNodeConfig applies patch to a node and returns the updated copy.
func (g *Graph) UpdateNodeConfig(id string, patch NodePatch) (*schema.Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, notFoundNode(id)
	}
	next := n.Clone()
	if patch.Label != nil {
		next.Label = *patch.Label
	}
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if len(patch.Set) > 0 && next.Config == nil {
		next.Config = make(map[string]any, len(patch.Set))
	}
	for k, v := range schema.CloneConfig(patch.Set) {
		next.Config[k] = v
	}
	for _, k := range patch.Unset {
		delete(next.Config, k)
	}
	g.nodes[id] = next
	return next.Clone(), nil
}

// MoveNode sets a node's canvas position.
func (g *Graph) MoveNode(id string, pos schema.Position) (*schema.Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, notFoundNode(id)
	}
	n.Position = pos
	return n.Clone(), nil
}

// ReplaceEdge swaps the endpoints of an existing edge in one step.
func (g *Graph) ReplaceEdge(e *schema.Edge) (*schema.Edge, error) {
	old, ok := g.edges[e.ID]
	if !ok {
		return nil, notFoundEdge(e.ID)
	}
	if !g.HasNode(e.Source) {
		return nil, notFoundNode(e.Source).WithEdge(e.ID)
	}
	if !g.HasNode(e.Target) {
		return nil, notFoundNode(e.Target).WithEdge(e.ID)
	}
	g.unindex(old)
	stored := *e
	if stored.SourcePort == "" {
		stored.SourcePort = schema.PortOut
	}
	g.edges[stored.ID] = &stored
	g.index(&stored)
	cp := stored
	return &cp, nil
}

// CheckIndices verifies that the adjacency indices describe exactly the
// edge set and that kind counters match the nodes.
func (g *Graph) CheckIndices() error {
	seenOut, seenIn := 0, 0
	for nid, set := range g.outgoing {
		for eid := range set {
			e, ok := g.edges[eid]
			if !ok || e.Source != nid {
				return fmt.Errorf("outgoing index of %q lists stale edge %q", nid, eid)
			}
			seenOut++
		}
	}
	for nid, set := range g.incoming {
		for eid := range set {
			e, ok := g.edges[eid]
			if !ok || e.Target != nid {
				return fmt.Errorf("incoming index of %q lists stale edge %q", nid, eid)
			}
			seenIn++
		}
	}
	if seenOut != len(g.edges) || seenIn != len(g.edges) {
		return fmt.Errorf("index size mismatch: %d out, %d in, %d edges", seenOut, seenIn, len(g.edges))
	}
	for eid, e := range g.edges {
		if !g.HasNode(e.Source) || !g.HasNode(e.Target) {
			return fmt.Errorf("edge %q references a missing node", eid)
		}
	}
	counts := make(map[schema.NodeKind]int, len(g.kinds))
	for _, n := range g.nodes {
		counts[n.Kind]++
	}
	for k, c := range counts {
		if g.kinds[k] != c {
			return fmt.Errorf("kind counter for %q is %d, want %d", k, g.kinds[k], c)
		}
	}
	if len(counts) != len(g.kinds) {
		return fmt.Errorf("kind counters hold %d kinds, want %d", len(g.kinds), len(counts))
	}
	return nil
}

// --- internals ---

func (g *Graph) index(e *schema.Edge) {
	if g.outgoing[e.Source] == nil {
		g.outgoing[e.Source] = make(idSet)
	}
	if g.incoming[e.Target] == nil {
		g.incoming[e.Target] = make(idSet)
	}
	g.outgoing[e.Source][e.ID] = struct{}{}
	g.incoming[e.Target][e.ID] = struct{}{}
}

func (g *Graph) unindex(e *schema.Edge) {
	delete(g.outgoing[e.Source], e.ID)
	if len(g.outgoing[e.Source]) == 0 {
		delete(g.outgoing, e.Source)
	}
	delete(g.incoming[e.Target], e.ID)
	if len(g.incoming[e.Target]) == 0 {
		delete(g.incoming, e.Target)
	}
}

func (g *Graph) collect(set idSet) []*schema.Edge {
	out := make([]*schema.Edge, 0, len(set))
	for eid := range set {
		cp := *g.edges[eid]
		out = append(out, &cp)
	}
	sortEdges(out)
	return out
}

func sortEdges(es []*schema.Edge) {
	sort.Slice(es, func(i, j int) bool { return es[i].ID < es[j].ID })
}

func notFoundNode(id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", id).WithNode(id)
}

func notFoundEdge(id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "edge %q not found", id).WithEdge(id)
}
