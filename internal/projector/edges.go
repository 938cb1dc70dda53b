package projector

import "github.com/rendis/flowgraph/pkg/schema"

// EdgeStatuses derives the visual state of each edge from node statuses:
// active while the source runs, traversed once the source completed and the
// target has started, idle otherwise.
func EdgeStatuses(m StatusMap, edges []*schema.Edge) map[string]schema.EdgeStatus {
	out := make(map[string]schema.EdgeStatus, len(edges))
	for _, e := range edges {
		out[e.ID] = edgeStatus(m.Status(e.Source), m.Status(e.Target))
	}
	return out
}

func edgeStatus(src, dst schema.NodeStatus) schema.EdgeStatus {
	switch {
	case src == schema.NodeStatusRunning:
		return schema.EdgeStatusActive
	case src == schema.NodeStatusCompleted && dst != schema.NodeStatusIdle:
		return schema.EdgeStatusTraversed
	}
	return schema.EdgeStatusIdle
}
