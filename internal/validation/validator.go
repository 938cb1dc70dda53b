// Package validation analyses workflow graph documents and reports structural
// errors and warnings. Validation is pure: it never mutates its input.
package validation

import (
	"sort"

	"github.com/rendis/flowgraph/internal/catalog"
	"github.com/rendis/flowgraph/pkg/schema"
)

// Validate runs every structural check over doc and returns the findings
// sorted by subject id, then by check order. Identical input always yields
// identical output.
func Validate(doc *schema.GraphDocument) *schema.ValidationResult {
	result := &schema.ValidationResult{
		Errors:   []schema.ValidationIssue{},
		Warnings: []schema.ValidationIssue{},
	}
	if doc == nil {
		result.Add(schema.ValidationIssue{Code: schema.IssueMissingStart, Message: "graph is empty"})
		return result
	}

	v := newView(doc)
	v.checkNodes(result)
	v.checkCounts(result)
	v.checkEdges(result)
	v.checkConditionPorts(result)
	v.checkLoops(result)
	v.checkCycles(result)
	v.checkReachability(result)

	sortIssues(result.Errors)
	sortIssues(result.Warnings)
	return result
}

// SortResult orders both issue lists by subject id, keeping check order for
// issues on the same subject. Callers that merge results use it to restore
// the deterministic ordering Validate guarantees.
func SortResult(r *schema.ValidationResult) {
	sortIssues(r.Errors)
	sortIssues(r.Warnings)
}

// sortIssues orders issues by subject. The sort is stable, so issues sharing
// a subject keep the order in which the checks produced them.
func sortIssues(issues []schema.ValidationIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Subject() < issues[j].Subject()
	})
}

// view is a read-only index over a document built once per validation.
type view struct {
	doc   *schema.GraphDocument
	nodes map[string]*schema.Node
	ids   []string // sorted node ids
	// valid holds edges whose endpoints exist, sorted by edge id.
	valid []*schema.Edge
	// out maps node id to its valid outgoing edges, sorted by edge id.
	out   map[string][]*schema.Edge
	kinds map[schema.NodeKind][]string
}

func newView(doc *schema.GraphDocument) *view {
	v := &view{
		doc:   doc,
		nodes: make(map[string]*schema.Node, len(doc.Nodes)),
		out:   make(map[string][]*schema.Edge),
		kinds: make(map[schema.NodeKind][]string),
	}
	for _, n := range doc.Nodes {
		if n == nil {
			continue
		}
		if _, dup := v.nodes[n.ID]; dup {
			continue
		}
		v.nodes[n.ID] = n
		v.ids = append(v.ids, n.ID)
		v.kinds[n.Kind] = append(v.kinds[n.Kind], n.ID)
	}
	sort.Strings(v.ids)
	for k := range v.kinds {
		sort.Strings(v.kinds[k])
	}

	edges := make([]*schema.Edge, 0, len(doc.Edges))
	for _, e := range doc.Edges {
		if e != nil {
			edges = append(edges, e)
		}
	}
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	for _, e := range edges {
		if v.nodes[e.Source] == nil || v.nodes[e.Target] == nil {
			continue
		}
		v.valid = append(v.valid, e)
		v.out[e.Source] = append(v.out[e.Source], e)
	}
	return v
}

func (v *view) kindOf(id string) schema.NodeKind {
	if n := v.nodes[id]; n != nil {
		return n.Kind
	}
	return ""
}

func (v *view) spec(id string) (catalog.Spec, bool) {
	return catalog.Lookup(v.kindOf(id))
}

// Annotate returns a copy of doc whose nodes carry the issues from result in
// their Warnings and Errors lists. Edge-scoped issues are attached to the
// edge's source node. Existing annotations on doc are replaced.
func Annotate(doc *schema.GraphDocument, result *schema.ValidationResult) *schema.GraphDocument {
	out := doc.Clone()
	if out == nil {
		return nil
	}
	byID := make(map[string]*schema.Node, len(out.Nodes))
	for _, n := range out.Nodes {
		n.Warnings = nil
		n.Errors = nil
		byID[n.ID] = n
	}
	source := make(map[string]string, len(out.Edges))
	for _, e := range out.Edges {
		source[e.ID] = e.Source
	}
	owner := func(issue schema.ValidationIssue) *schema.Node {
		if issue.NodeID != "" {
			return byID[issue.NodeID]
		}
		return byID[source[issue.EdgeID]]
	}
	if result == nil {
		return out
	}
	for _, issue := range result.Errors {
		if n := owner(issue); n != nil {
			n.Errors = append(n.Errors, issue)
		}
	}
	for _, issue := range result.Warnings {
		if n := owner(issue); n != nil {
			n.Warnings = append(n.Warnings, issue)
		}
	}
	return out
}
