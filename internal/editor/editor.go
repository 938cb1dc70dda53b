// Package editor applies validated mutations to a workflow graph. Each
// operation checks the node-kind port contract before committing and either
// fully applies or leaves the graph untouched.
package editor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rendis/flowgraph/internal/catalog"
	"github.com/rendis/flowgraph/internal/graph"
	"github.com/rendis/flowgraph/internal/logging"
	"github.com/rendis/flowgraph/internal/metrics"
	"github.com/rendis/flowgraph/internal/streaming"
	"github.com/rendis/flowgraph/internal/validation"
	"github.com/rendis/flowgraph/pkg/schema"
)

// Editor operation names, used in logs, metrics and mutation events.
const (
	OpAddNode     = "add_node"
	OpConnect     = "connect"
	OpReconnect   = "reconnect"
	OpDisconnect  = "disconnect"
	OpDeleteNode  = "delete_node"
	OpReconfigure = "reconfigure"
	OpMove        = "move"
)

// Mutation is the payload published for every committed operation.
type Mutation struct {
	Op       string   `json:"op"`
	Revision int64    `json:"revision"`
	NodeIDs  []string `json:"node_ids,omitempty"`
	EdgeIDs  []string `json:"edge_ids,omitempty"`
}

// Editor owns one mutable graph. Mutators are serialized by a write lock;
// Validate, Document and lookups take the read lock so they always observe a
// consistent snapshot.
type Editor struct {
	mu         sync.RWMutex
	g          *graph.Graph
	workflowID string
	name       string
	metadata   map[string]any
	revision   int64

	newID     func() string
	limits    map[schema.NodeKind]int
	logger    *slog.Logger
	publisher streaming.Publisher
	metrics   *metrics.Metrics
}

// Option configures an Editor.
type Option func(*Editor)

// WithIDGenerator replaces the uuid-based id generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Editor) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithMaxInstances overrides the catalog instance limit for kind.
// Zero removes the limit.
func WithMaxInstances(kind schema.NodeKind, n int) Option {
	return func(e *Editor) { e.limits[kind] = n }
}

// WithLogger sets the logger used for mutation records.
func WithLogger(l *slog.Logger) Option {
	return func(e *Editor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPublisher publishes a graph_mutated event after every committed
// mutation.
func WithPublisher(p streaming.Publisher) Option {
	return func(e *Editor) { e.publisher = p }
}

// WithMetrics records operation outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Editor) { e.metrics = m }
}

// WithWorkflow sets the workflow id and display name.
func WithWorkflow(id, name string) Option {
	return func(e *Editor) {
		e.workflowID = id
		e.name = name
	}
}

// New creates an editor over an empty graph.
func New(opts ...Option) *Editor {
	e := &Editor{
		g:      graph.New(),
		newID:  func() string { return uuid.NewString() },
		limits: make(map[schema.NodeKind]int),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open creates an editor over a copy of doc. Structural problems other than
// duplicate ids and dangling edges are accepted and left to Validate.
func Open(doc *schema.GraphDocument, opts ...Option) (*Editor, error) {
	g, err := graph.FromDocument(doc)
	if err != nil {
		return nil, err
	}
	e := New(opts...)
	e.g = g
	if doc != nil {
		if e.workflowID == "" {
			e.workflowID = doc.ID
		}
		if e.name == "" {
			e.name = doc.Name
		}
		e.revision = doc.Revision
		e.metadata = schema.CloneConfig(doc.Metadata)
	}
	return e, nil
}

// --- Mutations ---

// AddNode creates a node of kind with the kind's default config overlaid by
// initialConfig.
func (e *Editor) AddNode(kind schema.NodeKind, initialConfig map[string]any, pos schema.Position) (*schema.Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	spec, ok := catalog.Lookup(kind)
	if !ok {
		return nil, e.fail(OpAddNode, schema.NewErrorf(schema.ErrCodeInvalidKind, "unknown node kind %q", kind))
	}
	if limit := e.limit(spec); limit > 0 && e.g.CountKind(kind) >= limit {
		return nil, e.fail(OpAddNode, schema.NewErrorf(schema.ErrCodeSingletonViolation,
			"graph already has %d %s node(s)", limit, kind).
			WithDetails(map[string]any{"kind": kind, "limit": limit}))
	}

	n, err := e.g.InsertNode(&schema.Node{
		ID:       e.newID(),
		Kind:     kind,
		Label:    spec.DisplayName,
		Config:   spec.NewConfig(initialConfig),
		Status:   schema.NodeStatusIdle,
		Position: pos,
	})
	if err != nil {
		return nil, e.fail(OpAddNode, err)
	}
	e.commit(Mutation{Op: OpAddNode, NodeIDs: []string{n.ID}})
	return n, nil
}

// Connect creates an edge from sourceID's sourcePort to targetID. An empty
// port means "out". Only the connection itself is checked; whole-graph rules
// are reported by Validate.
func (e *Editor) Connect(sourceID, sourcePort, targetID string) (*schema.Edge, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	port := defaultPort(sourcePort)
	if err := e.checkConnection(sourceID, port, targetID, ""); err != nil {
		return nil, e.fail(OpConnect, err)
	}
	edge, err := e.g.InsertEdge(&schema.Edge{
		ID:         e.newID(),
		Source:     sourceID,
		SourcePort: port,
		Target:     targetID,
	})
	if err != nil {
		return nil, e.fail(OpConnect, err)
	}
	e.commit(Mutation{Op: OpConnect, NodeIDs: []string{sourceID, targetID}, EdgeIDs: []string{edge.ID}})
	return edge, nil
}

// Reconnect moves an existing edge to a new source port and target, keeping
// its source node and id. The edge's current port does not count as occupied.
func (e *Editor) Reconnect(edgeID, sourcePort, targetID string) (*schema.Edge, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, ok := e.g.Edge(edgeID)
	if !ok {
		return nil, e.fail(OpReconnect, schema.NewErrorf(schema.ErrCodeNotFound, "edge %q not found", edgeID).WithEdge(edgeID))
	}
	port := defaultPort(sourcePort)
	if err := e.checkConnection(cur.Source, port, targetID, edgeID); err != nil {
		return nil, e.fail(OpReconnect, err)
	}
	edge, err := e.g.ReplaceEdge(&schema.Edge{
		ID:         edgeID,
		Source:     cur.Source,
		SourcePort: port,
		Target:     targetID,
	})
	if err != nil {
		return nil, e.fail(OpReconnect, err)
	}
	e.commit(Mutation{Op: OpReconnect, NodeIDs: []string{cur.Target, targetID}, EdgeIDs: []string{edgeID}})
	return edge, nil
}

// Disconnect removes an edge.
func (e *Editor) Disconnect(edgeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.g.RemoveEdge(edgeID); err != nil {
		return e.fail(OpDisconnect, err)
	}
	e.commit(Mutation{Op: OpDisconnect, EdgeIDs: []string{edgeID}})
	return nil
}

// DeleteNode removes a node together with every edge incident to it and
// returns the removed edges.
func (e *Editor) DeleteNode(nodeID string) ([]*schema.Edge, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, removed, err := e.g.RemoveNode(nodeID)
	if err != nil {
		return nil, e.fail(OpDeleteNode, err)
	}
	ids := make([]string, len(removed))
	for i, edge := range removed {
		ids[i] = edge.ID
	}
	e.commit(Mutation{Op: OpDeleteNode, NodeIDs: []string{nodeID}, EdgeIDs: ids})
	return removed, nil
}

// Reconfigure applies a label, description or config patch to a node.
func (e *Editor) Reconfigure(nodeID string, patch graph.NodePatch) (*schema.Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := e.g.UpdateNodeConfig(nodeID, patch)
	if err != nil {
		return nil, e.fail(OpReconfigure, err)
	}
	e.commit(Mutation{Op: OpReconfigure, NodeIDs: []string{nodeID}})
	return n, nil
}

// Move sets a node's canvas position.
func (e *Editor) Move(nodeID string, pos schema.Position) (*schema.Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, err := e.g.MoveNode(nodeID, pos)
	if err != nil {
		return nil, e.fail(OpMove, err)
	}
	e.commit(Mutation{Op: OpMove, NodeIDs: []string{nodeID}})
	return n, nil
}

// --- Reads ---

// Validate runs the validator over a consistent snapshot of the graph.
func (e *Editor) Validate() *schema.ValidationResult {
	doc := e.Document()
	result := validation.Validate(doc)
	for _, is := range result.Errors {
		e.metrics.ObserveIssue(string(is.Severity), is.Code)
	}
	for _, is := range result.Warnings {
		e.metrics.ObserveIssue(string(is.Severity), is.Code)
	}
	return result
}

// Annotated returns the current document with validation issues attached to
// each node, together with the result they came from.
func (e *Editor) Annotated() (*schema.GraphDocument, *schema.ValidationResult) {
	doc := e.Document()
	result := validation.Validate(doc)
	return validation.Annotate(doc, result), result
}

// Document returns a deep copy of the graph as a document.
func (e *Editor) Document() *schema.GraphDocument {
	e.mu.RLock()
	defer e.mu.RUnlock()

	doc := e.g.Document()
	doc.ID = e.workflowID
	doc.Name = e.name
	doc.Revision = e.revision
	doc.Metadata = schema.CloneConfig(e.metadata)
	return doc
}

// Freeze returns an immutable snapshot of the current graph for binding to a
// running instance. Later edits never affect it.
func (e *Editor) Freeze() *graph.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return graph.Freeze(e.g, e.revision)
}

// Revision returns the number of committed mutations since the document's
// stored revision.
func (e *Editor) Revision() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.revision
}

// WorkflowID returns the id of the workflow being edited.
func (e *Editor) WorkflowID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.workflowID
}

// HasNode reports whether the node exists. Editor satisfies graph.NodeLookup.
func (e *Editor) HasNode(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.HasNode(id)
}

// Node returns a copy of a node.
func (e *Editor) Node(id string) (*schema.Node, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Node(id)
}

// Outgoing returns copies of the edges leaving a node.
func (e *Editor) Outgoing(id string) []*schema.Edge {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Outgoing(id)
}

// OutgoingOnPort returns copies of the edges leaving a node through port.
func (e *Editor) OutgoingOnPort(id, port string) []*schema.Edge {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.OutgoingOnPort(id, port)
}

// Incoming returns copies of the edges entering a node.
func (e *Editor) Incoming(id string) []*schema.Edge {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Incoming(id)
}

// checkIndices exposes the graph's index self-check to tests.
func (e *Editor) checkIndices() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.CheckIndices()
}

// --- internals ---

// checkConnection applies the port contract to a prospective edge. skipEdge
// names an edge being reconnected, which never occupies its own port.
func (e *Editor) checkConnection(sourceID, port, targetID, skipEdge string) error {
	srcKind, ok := e.g.Kind(sourceID)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "source node %q not found", sourceID).WithNode(sourceID)
	}
	dstKind, ok := e.g.Kind(targetID)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "target node %q not found", targetID).WithNode(targetID)
	}
	src, ok := catalog.Lookup(srcKind)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeInvalidKind, "node %q has unknown kind %q", sourceID, srcKind).WithNode(sourceID)
	}
	dst, ok := catalog.Lookup(dstKind)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeInvalidKind, "node %q has unknown kind %q", targetID, dstKind).WithNode(targetID)
	}

	if !src.HasPort(port) {
		return schema.NewErrorf(schema.ErrCodeInvalidPort, "%s node has no output port %q", srcKind, port).
			WithNode(sourceID).
			WithDetails(map[string]any{"port": port, "allowed": src.OutputPorts})
	}
	if !dst.AcceptsInput() {
		return schema.NewErrorf(schema.ErrCodeInvalidPort, "%s node has no input port", dstKind).WithNode(targetID)
	}
	if sourceID == targetID && !src.AllowsSelfEdge {
		return schema.NewErrorf(schema.ErrCodeSelfLoop, "%s node cannot connect to itself", srcKind).WithNode(sourceID)
	}
	if src.ExclusivePorts {
		for _, existing := range e.g.OutgoingOnPort(sourceID, port) {
			if existing.ID == skipEdge {
				continue
			}
			return schema.NewErrorf(schema.ErrCodePortOccupied, "port %q is already connected", port).
				WithNode(sourceID).
				WithDetails(map[string]any{"port": port, "edge_id": existing.ID})
		}
	}
	return nil
}

func (e *Editor) limit(spec catalog.Spec) int {
	if n, ok := e.limits[spec.Kind]; ok {
		return n
	}
	return spec.MaxInstances
}

// commit bumps the revision and reports the mutation. Called with the write
// lock held.
func (e *Editor) commit(m Mutation) {
	e.revision++
	m.Revision = e.revision
	e.metrics.ObserveEditorOp(m.Op, "ok")

	ctx := logging.WithWorkflowID(context.Background(), e.workflowID)
	e.logger.DebugContext(ctx, "graph mutated",
		slog.String("op", m.Op),
		slog.Int64("revision", m.Revision),
		slog.Any("node_ids", m.NodeIDs),
		slog.Any("edge_ids", m.EdgeIDs),
	)
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, streaming.StreamEvent{
		WorkflowID: e.workflowID,
		EventType:  schema.EventGraphMutated,
		Payload:    m,
	}); err != nil {
		e.logger.WarnContext(ctx, "publish graph mutation failed", slog.String("error", err.Error()))
	}
}

func (e *Editor) fail(op string, err error) error {
	code := schema.CodeOf(err)
	if code == "" {
		code = "error"
	}
	e.metrics.ObserveEditorOp(op, code)
	e.logger.Debug("graph mutation rejected",
		slog.String("workflow_id", e.workflowID),
		slog.String("op", op),
		slog.String("code", code),
		slog.String("error", err.Error()),
	)
	return err
}

func defaultPort(p string) string {
	if p == "" {
		return schema.PortOut
	}
	return p
}

var _ graph.NodeLookup = (*Editor)(nil)
