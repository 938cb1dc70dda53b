package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rendis/flowgraph/internal/diagram"
	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/internal/projector"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/pkg/schema"
)

type instanceView struct {
	InstanceID string                       `json:"instance_id"`
	WorkflowID string                       `json:"workflow_id,omitempty"`
	Revision   int64                        `json:"revision"`
	Tracked    bool                         `json:"tracked"`
	Nodes      projector.StatusMap          `json:"nodes"`
	Edges      map[string]schema.EdgeStatus `json:"edges"`
}

type eventResult struct {
	InstanceID string            `json:"instance_id"`
	NodeID     string            `json:"node_id"`
	Applied    bool              `json:"applied"`
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message,omitempty"`
	Previous   schema.NodeStatus `json:"previous,omitempty"`
	Status     schema.NodeStatus `json:"status,omitempty"`
}

type evaluateRequest struct {
	Language   expressions.Language `json:"language"`
	Expression string               `json:"expression"`
	Data       map[string]any       `json:"data,omitempty"`
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	workflowID := r.URL.Query().Get("workflow_id")
	stored, err := s.deps.Store.ListInstances(r.Context(), store.InstanceFilter{
		WorkflowID: workflowID,
		Limit:      queryInt(r, "limit", 50),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if stored == nil {
		stored = []*store.Instance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tracked": s.deps.Projector.Instances(workflowID),
		"stored":  stored,
	})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	view, _, err := s.instance(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleInstanceAnomalies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Projector.Anomalies(chi.URLParam(r, "instanceID")))
}

func (s *Server) handleAnomalies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Projector.Anomalies(""))
}

// handleInstanceDiagram renders the frozen instance graph with live statuses.
func (s *Server) handleInstanceDiagram(w http.ResponseWriter, r *http.Request) {
	view, inst, err := s.instance(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if inst == nil {
		writeError(w, schema.NewErrorf(schema.ErrCodeNotFound, "instance %q has no stored graph", view.InstanceID))
		return
	}
	s.renderDiagram(w, r, inst.Document, &diagram.Overlay{Nodes: view.Nodes, Edges: view.Edges})
}

// handleIngestEvents applies one status event or an array of them
// synchronously and reports each outcome. Anomalies are not request errors.
func (s *Server) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var events []schema.StatusEvent
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &events)
	} else {
		var ev schema.StatusEvent
		err = json.Unmarshal(trimmed, &ev)
		events = []schema.StatusEvent{ev}
	}
	if err != nil {
		writeError(w, schema.NewError(schema.ErrCodeDecode, "invalid status event").WithCause(err))
		return
	}

	results := make([]eventResult, 0, len(events))
	for _, ev := range events {
		out := s.deps.Projector.Ingest(r.Context(), ev)
		res := eventResult{
			InstanceID: ev.InstanceID,
			NodeID:     ev.NodeID,
			Applied:    out.Applied(),
			Code:       out.Code,
			Message:    out.Message,
			Previous:   out.Previous,
		}
		if out.Applied() {
			res.Status = out.State.Status
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, results)
}

// handleEvaluateExpression compiles and runs an expression against sample
// data so editors can preview conditions.
func (s *Server) handleEvaluateExpression(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	eng, ok := s.deps.Exprs.Engine(req.Language)
	if !ok {
		writeError(w, schema.NewErrorf(schema.ErrCodeValidation, "unknown expression language %q", req.Language))
		return
	}
	result, err := eng.Evaluate(r.Context(), req.Expression, req.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"language": eng.Name(), "result": result})
}

// instance combines the projector view with the stored instance record.
// It fails with NOT_FOUND only when neither knows the id.
func (s *Server) instance(r *http.Request) (*instanceView, *store.Instance, error) {
	id := chi.URLParam(r, "instanceID")
	statuses, tracked := s.deps.Projector.Snapshot(id)

	inst, err := s.deps.Store.GetInstance(r.Context(), id)
	if err != nil {
		if !errors.Is(err, schema.ErrNotFound) {
			return nil, nil, err
		}
		if !tracked {
			return nil, nil, err
		}
	}

	view := &instanceView{InstanceID: id, Tracked: tracked, Nodes: statuses}
	if view.Nodes == nil {
		view.Nodes = projector.StatusMap{}
	}
	if tracked {
		for _, info := range s.deps.Projector.Instances("") {
			if info.InstanceID == id {
				view.WorkflowID = info.WorkflowID
				break
			}
		}
	}
	if inst != nil {
		view.WorkflowID = inst.WorkflowID
		view.Revision = inst.Revision
		view.Edges = projector.EdgeStatuses(view.Nodes, inst.Document.Edges)
	}
	if view.Edges == nil {
		view.Edges = map[string]schema.EdgeStatus{}
	}
	return view, inst, nil
}
