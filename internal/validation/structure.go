package validation

import (
	"fmt"

	"github.com/rendis/flowgraph/internal/catalog"
	"github.com/rendis/flowgraph/pkg/schema"
)

// checkNodes reports duplicate node ids and kinds outside the catalog.
func (v *view) checkNodes(r *schema.ValidationResult) {
	seen := make(map[string]bool, len(v.doc.Nodes))
	for _, n := range v.doc.Nodes {
		if n == nil {
			continue
		}
		if seen[n.ID] {
			r.Add(schema.ValidationIssue{
				NodeID:  n.ID,
				Code:    schema.ErrCodeDuplicateID,
				Message: fmt.Sprintf("node id %q is used more than once", n.ID),
			})
			continue
		}
		seen[n.ID] = true
		if _, ok := catalog.Lookup(n.Kind); !ok {
			r.Add(schema.ValidationIssue{
				NodeID:  n.ID,
				Code:    schema.IssueUnknownKind,
				Message: fmt.Sprintf("node %q has unknown kind %q", n.ID, n.Kind),
			})
		}
	}
}

// checkCounts enforces exactly one start node and at least one end node.
func (v *view) checkCounts(r *schema.ValidationResult) {
	starts := v.kinds[schema.NodeKindStart]
	switch {
	case len(starts) == 0:
		r.Add(schema.ValidationIssue{Code: schema.IssueMissingStart, Message: "workflow has no start node"})
	case len(starts) > 1:
		for _, id := range starts[1:] {
			r.Add(schema.ValidationIssue{
				NodeID:  id,
				Code:    schema.IssueMultipleStart,
				Message: fmt.Sprintf("workflow has %d start nodes; %q is extra", len(starts), id),
			})
		}
	}
	if len(v.kinds[schema.NodeKindEnd]) == 0 {
		r.Add(schema.ValidationIssue{Code: schema.IssueMissingEnd, Message: "workflow has no end node"})
	}
}

// checkEdges reports dangling references and per-edge port contract
// violations. Port checks only run on edges whose endpoints exist.
func (v *view) checkEdges(r *schema.ValidationResult) {
	seen := make(map[string]bool, len(v.doc.Edges))
	for _, e := range v.doc.Edges {
		if e == nil {
			continue
		}
		if seen[e.ID] {
			r.Add(schema.ValidationIssue{
				EdgeID:  e.ID,
				Code:    schema.ErrCodeDuplicateID,
				Message: fmt.Sprintf("edge id %q is used more than once", e.ID),
			})
			continue
		}
		seen[e.ID] = true

		dangling := false
		if v.nodes[e.Source] == nil {
			dangling = true
			r.Add(schema.ValidationIssue{
				EdgeID:  e.ID,
				Code:    schema.IssueDanglingEdge,
				Message: fmt.Sprintf("edge %q references missing source node %q", e.ID, e.Source),
			})
		}
		if v.nodes[e.Target] == nil {
			dangling = true
			r.Add(schema.ValidationIssue{
				EdgeID:  e.ID,
				Code:    schema.IssueDanglingEdge,
				Message: fmt.Sprintf("edge %q references missing target node %q", e.ID, e.Target),
			})
		}
		if dangling {
			continue
		}
		v.checkEdgeContract(r, e)
	}
}

func (v *view) checkEdgeContract(r *schema.ValidationResult, e *schema.Edge) {
	src, srcKnown := v.spec(e.Source)
	dst, dstKnown := v.spec(e.Target)

	if srcKnown {
		switch {
		case len(src.OutputPorts) == 0:
			r.Add(schema.ValidationIssue{
				EdgeID:  e.ID,
				Code:    schema.IssueEndHasOutgoing,
				Message: fmt.Sprintf("%s node %q cannot have outgoing edges", src.Kind, e.Source),
			})
		case !src.HasPort(e.Port()):
			r.Add(schema.ValidationIssue{
				EdgeID:  e.ID,
				Code:    schema.IssueInvalidPort,
				Message: fmt.Sprintf("port %q is not valid for %s node %q", e.Port(), src.Kind, e.Source),
			})
		}
	}
	if dstKnown && !dst.AcceptsInput() {
		r.Add(schema.ValidationIssue{
			EdgeID:  e.ID,
			Code:    schema.IssueStartHasIncoming,
			Message: fmt.Sprintf("%s node %q cannot have incoming edges", dst.Kind, e.Target),
		})
	}
	if e.Source == e.Target && srcKnown && !src.AllowsSelfEdge {
		r.Add(schema.ValidationIssue{
			EdgeID:  e.ID,
			Code:    schema.IssueSelfLoop,
			Message: fmt.Sprintf("%s node %q cannot connect to itself", src.Kind, e.Source),
		})
	}
}

// checkConditionPorts warns about missing branches and rejects ports wired
// more than once.
func (v *view) checkConditionPorts(r *schema.ValidationResult) {
	spec := catalog.MustLookup(schema.NodeKindCondition)
	for _, id := range v.kinds[schema.NodeKindCondition] {
		byPort := make(map[string][]string, len(spec.OutputPorts))
		for _, e := range v.out[id] {
			byPort[e.Port()] = append(byPort[e.Port()], e.ID)
		}
		for _, port := range spec.OutputPorts {
			switch n := len(byPort[port]); {
			case n == 0:
				r.Add(schema.ValidationIssue{
					Severity: schema.SeverityWarning,
					NodeID:   id,
					Code:     schema.IssueMissingConditionBranch,
					Message:  fmt.Sprintf("condition %q has no %q branch", id, port),
				})
			case n > 1:
				r.Add(schema.ValidationIssue{
					NodeID:  id,
					EdgeIDs: byPort[port],
					Code:    schema.IssueConditionPortConflict,
					Message: fmt.Sprintf("condition %q has %d edges on port %q", id, n, port),
				})
			}
		}
	}
}

// checkLoops warns about loops that have no termination bound: neither a
// positive max_iterations nor a condition.
func (v *view) checkLoops(r *schema.ValidationResult) {
	for _, id := range v.kinds[schema.NodeKindLoop] {
		cfg := v.nodes[id].Config
		if positive(cfg["max_iterations"]) {
			continue
		}
		if s, _ := cfg["condition"].(string); s != "" {
			continue
		}
		r.Add(schema.ValidationIssue{
			Severity: schema.SeverityWarning,
			NodeID:   id,
			Code:     schema.IssueLoopUnbounded,
			Message:  fmt.Sprintf("loop %q needs max_iterations > 0 or a condition", id),
		})
	}
}

func positive(v any) bool {
	switch n := v.(type) {
	case int:
		return n > 0
	case int32:
		return n > 0
	case int64:
		return n > 0
	case uint:
		return n > 0
	case uint64:
		return n > 0
	case float32:
		return n > 0
	case float64:
		return n > 0
	}
	return false
}
