package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/flowgraph/pkg/schema"
)

const (
	white = iota // unvisited
	gray         // on the recursion stack
	black        // finished
)

// checkCycles runs a depth-first search with a recursion-stack colouring and
// reports one error per distinct cycle, listing the participating edges.
// Edges leaving a loop node are skipped: loops are cyclic on purpose and are
// bounded by checkLoops instead. Self edges are reported by checkEdges.
func (v *view) checkCycles(r *schema.ValidationResult) {
	color := make(map[string]int, len(v.ids))
	// depth records the length of path when a node was pushed.
	depth := make(map[string]int, len(v.ids))
	var path []*schema.Edge
	reported := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		depth[id] = len(path)
		for _, e := range v.out[id] {
			if e.Source == e.Target || v.kindOf(e.Source) == schema.NodeKindLoop {
				continue
			}
			switch color[e.Target] {
			case white:
				path = append(path, e)
				visit(e.Target)
				path = path[:len(path)-1]
			case gray:
				cycle := append(append([]*schema.Edge{}, path[depth[e.Target]:]...), e)
				v.reportCycle(r, cycle, reported)
			}
		}
		color[id] = black
	}

	for _, id := range v.ids {
		if color[id] == white {
			visit(id)
		}
	}
}

func (v *view) reportCycle(r *schema.ValidationResult, cycle []*schema.Edge, reported map[string]bool) {
	edgeIDs := make([]string, len(cycle))
	nodeIDs := make([]string, len(cycle))
	for i, e := range cycle {
		edgeIDs[i] = e.ID
		nodeIDs[i] = e.Source
	}
	sort.Strings(edgeIDs)
	key := strings.Join(edgeIDs, "\x00")
	if reported[key] {
		return
	}
	reported[key] = true

	r.Add(schema.ValidationIssue{
		EdgeID:  edgeIDs[0],
		EdgeIDs: edgeIDs,
		Code:    schema.IssueCycleDetected,
		Message: fmt.Sprintf("cycle through nodes %s", strings.Join(nodeIDs, " -> ")),
	})
}

// checkReachability walks forward from every start node, loop edges
// included, and warns about each node it never reaches. It is skipped when
// there is no start node since MISSING_START already covers that case.
func (v *view) checkReachability(r *schema.ValidationResult) {
	starts := v.kinds[schema.NodeKindStart]
	if len(starts) == 0 {
		return
	}

	reached := make(map[string]bool, len(v.ids))
	queue := append([]string{}, starts...)
	for _, id := range starts {
		reached[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range v.out[id] {
			if !reached[e.Target] {
				reached[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}

	for _, id := range v.ids {
		if reached[id] {
			continue
		}
		r.Add(schema.ValidationIssue{
			Severity: schema.SeverityWarning,
			NodeID:   id,
			Code:     schema.IssueUnreachableNode,
			Message:  fmt.Sprintf("node %q is not reachable from start", id),
		})
	}
}
