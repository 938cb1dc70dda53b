package editor

import (
	"errors"
	"strings"

	"github.com/rendis/flowgraph/pkg/schema"
)

// Connection is a canvas connect gesture: a drag from a source handle to a
// target handle. Handle ids name ports; an empty id or a generic "source"
// handle means the default port.
type Connection struct {
	Source       string `json:"source"`
	SourceHandle string `json:"source_handle,omitempty"`
	Target       string `json:"target"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// Selection is the set of canvas elements removed by one delete gesture.
type Selection struct {
	NodeIDs []string `json:"node_ids,omitempty"`
	EdgeIDs []string `json:"edge_ids,omitempty"`
}

// Gestures translates UI gestures into editor operations. It holds no state
// of its own.
type Gestures struct {
	ed *Editor
}

// NewGestures binds a gesture adapter to ed.
func NewGestures(ed *Editor) Gestures {
	return Gestures{ed: ed}
}

// DropNode handles a palette item dropped onto the canvas. kind is the
// palette item's type string.
func (g Gestures) DropNode(kind string, pos schema.Position, config map[string]any) (*schema.Node, error) {
	return g.ed.AddNode(schema.NodeKind(strings.ToLower(strings.TrimSpace(kind))), config, pos)
}

// DragEnd handles the end of a node drag.
func (g Gestures) DragEnd(nodeID string, pos schema.Position) (*schema.Node, error) {
	return g.ed.Move(nodeID, pos)
}

// ConnectHandles handles a completed connect gesture.
func (g Gestures) ConnectHandles(c Connection) (*schema.Edge, error) {
	return g.ed.Connect(c.Source, HandlePort(c.Source, c.SourceHandle), c.Target)
}

// DeleteSelection removes the selected edges, then the selected nodes.
// Elements already gone, for example edges cascaded away by an earlier node
// in the same selection, are skipped. It returns every removed edge id.
func (g Gestures) DeleteSelection(sel Selection) ([]string, error) {
	var removed []string
	for _, id := range sel.EdgeIDs {
		if err := g.ed.Disconnect(id); err != nil {
			if errors.Is(err, schema.ErrNotFound) {
				continue
			}
			return removed, err
		}
		removed = append(removed, id)
	}
	for _, id := range sel.NodeIDs {
		edges, err := g.ed.DeleteNode(id)
		if err != nil {
			if errors.Is(err, schema.ErrNotFound) {
				continue
			}
			return removed, err
		}
		for _, e := range edges {
			removed = append(removed, e.ID)
		}
	}
	return removed, nil
}

// HandlePort maps a canvas handle id to a port label. Handles may be bare
// port names ("true") or prefixed with the node id ("cond-1:true" or
// "cond-1-true").
func HandlePort(nodeID, handle string) string {
	h := strings.TrimSpace(handle)
	if h == "" || h == "source" {
		return schema.PortOut
	}
	for _, sep := range []string{":", "-"} {
		if rest, ok := strings.CutPrefix(h, nodeID+sep); ok && rest != "" {
			return rest
		}
	}
	return h
}
