package diagram

import (
	"sort"

	"github.com/rendis/flowgraph/internal/catalog"
	"github.com/rendis/flowgraph/pkg/schema"
)

// Build constructs a DiagramModel from a document and an optional status
// overlay. Node errors already attached to the document (see
// validation.Annotate) are counted so renderers can flag invalid nodes.
func Build(doc *schema.GraphDocument, overlay *Overlay) *DiagramModel {
	model := &DiagramModel{Title: titleFromDoc(doc)}
	known := make(map[string]bool, len(doc.Nodes))

	for _, n := range doc.Nodes {
		if n == nil || known[n.ID] {
			continue
		}
		known[n.ID] = true
		node := &Node{
			ID:     n.ID,
			Label:  nodeLabel(n),
			Kind:   n.Kind,
			Issues: len(n.Errors),
		}
		overlayStatus(node, n, overlay)
		model.Nodes = append(model.Nodes, node)
	}

	for _, e := range doc.Edges {
		if e == nil || !known[e.Source] || !known[e.Target] {
			continue
		}
		edge := Edge{ID: e.ID, From: e.Source, To: e.Target}
		if port := e.Port(); port != schema.PortOut {
			edge.Label = port
		}
		if overlay != nil {
			edge.Status = overlay.Edges[e.ID]
		}
		model.Edges = append(model.Edges, edge)
	}

	back := backEdges(model)
	for i := range model.Edges {
		model.Edges[i].Back = back[model.Edges[i].ID]
	}
	model.Levels = buildLevels(model)
	return model
}

// nodeLabel uses the node label (or its kind's display name) as title and the
// kind-specific config summary as detail.
func nodeLabel(n *schema.Node) string {
	title := n.Label
	if title == "" {
		title = n.ID
		if spec, ok := catalog.Lookup(n.Kind); ok && (n.Kind == schema.NodeKindStart || n.Kind == schema.NodeKindEnd) {
			title = spec.DisplayName
		}
	}
	var detail string
	switch n.Kind {
	case schema.NodeKindAction:
		detail, _ = n.Config["action"].(string)
	case schema.NodeKindCondition:
		detail, _ = n.Config["expression"].(string)
	case schema.NodeKindSubprocess:
		detail, _ = n.Config["workflow_id"].(string)
	}
	if detail != "" {
		return title + "\n" + detail
	}
	return title
}

// overlayStatus prefers the instance overlay and falls back to the status
// stored on the document node. Idle nodes get no overlay.
func overlayStatus(node *Node, n *schema.Node, overlay *Overlay) {
	if overlay != nil {
		if st, ok := overlay.Nodes[n.ID]; ok && st.Status != schema.NodeStatusIdle {
			node.Status = &StatusOverlay{Status: st.Status, Message: st.Message}
			return
		}
	}
	if n.Status != "" && n.Status != schema.NodeStatusIdle {
		node.Status = &StatusOverlay{Status: n.Status}
	}
}

// backEdges runs a DFS from start nodes, then from any unvisited node, in id
// order and returns the ids of edges that point at a node on the stack.
func backEdges(model *DiagramModel) map[string]bool {
	out := adjacency(model)
	ids := sortedIDs(model, true)

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(ids))
	back := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		for _, e := range out[id] {
			switch color[e.To] {
			case gray:
				back[e.ID] = true
			case white:
				visit(e.To)
			}
		}
		color[id] = black
	}
	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
	return back
}

// buildLevels assigns each node its longest distance from a root over
// forward edges and groups nodes by level, ids sorted within a level.
func buildLevels(model *DiagramModel) [][]string {
	indeg := make(map[string]int, len(model.Nodes))
	out := make(map[string][]string, len(model.Nodes))
	for _, n := range model.Nodes {
		indeg[n.ID] = 0
	}
	for _, e := range model.Edges {
		if e.Back || e.From == e.To {
			continue
		}
		out[e.From] = append(out[e.From], e.To)
		indeg[e.To]++
	}

	level := make(map[string]int, len(model.Nodes))
	queue := sortedIDs(model, false)
	queue = filter(queue, func(id string) bool { return indeg[id] == 0 })
	maxLevel := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, to := range out[id] {
			if level[id]+1 > level[to] {
				level[to] = level[id] + 1
			}
			indeg[to]--
			if indeg[to] == 0 {
				queue = append(queue, to)
			}
		}
		if level[id] > maxLevel {
			maxLevel = level[id]
		}
	}

	if len(model.Nodes) == 0 {
		return nil
	}
	levels := make([][]string, maxLevel+1)
	for _, id := range sortedIDs(model, false) {
		l := level[id]
		levels[l] = append(levels[l], id)
	}
	return levels
}

func adjacency(model *DiagramModel) map[string][]Edge {
	out := make(map[string][]Edge, len(model.Nodes))
	for _, e := range model.Edges {
		out[e.From] = append(out[e.From], e)
	}
	for _, list := range out {
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	return out
}

// sortedIDs returns node ids sorted, optionally with start nodes first.
func sortedIDs(model *DiagramModel, startsFirst bool) []string {
	ids := make([]string, 0, len(model.Nodes))
	kind := make(map[string]schema.NodeKind, len(model.Nodes))
	for _, n := range model.Nodes {
		ids = append(ids, n.ID)
		kind[n.ID] = n.Kind
	}
	sort.Slice(ids, func(i, j int) bool {
		if startsFirst {
			si, sj := kind[ids[i]] == schema.NodeKindStart, kind[ids[j]] == schema.NodeKindStart
			if si != sj {
				return si
			}
		}
		return ids[i] < ids[j]
	})
	return ids
}

func filter(ids []string, keep func(string) bool) []string {
	out := ids[:0]
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}

func titleFromDoc(doc *schema.GraphDocument) string {
	if doc.Name != "" {
		return doc.Name
	}
	if name, ok := doc.Metadata["name"].(string); ok && name != "" {
		return name
	}
	return "Workflow"
}
