package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rendis/flowgraph/internal/catalog"
	"github.com/rendis/flowgraph/internal/codec"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/internal/validation"
	"github.com/rendis/flowgraph/pkg/schema"
)

type kindInfo struct {
	Kind           schema.NodeKind `json:"kind"`
	DisplayName    string          `json:"display_name"`
	MaxInstances   int             `json:"max_instances,omitempty"`
	InputPorts     int             `json:"input_ports"`
	OutputPorts    []string        `json:"output_ports"`
	ExclusivePorts bool            `json:"exclusive_ports,omitempty"`
	AllowsSelfEdge bool            `json:"allows_self_edge,omitempty"`
	DefaultConfig  map[string]any  `json:"default_config,omitempty"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	kinds := catalog.Kinds()
	out := make([]kindInfo, 0, len(kinds))
	for _, k := range kinds {
		spec := catalog.MustLookup(k)
		out = append(out, kindInfo{
			Kind:           spec.Kind,
			DisplayName:    spec.DisplayName,
			MaxInstances:   spec.MaxInstances,
			InputPorts:     spec.InputPorts,
			OutputPorts:    spec.OutputPorts,
			ExclusivePorts: spec.ExclusivePorts,
			AllowsSelfEdge: spec.AllowsSelfEdge,
			DefaultConfig:  spec.NewConfig(nil),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := s.deps.Store.ListWorkflows(r.Context(), store.WorkflowFilter{
		Name:   r.URL.Query().Get("name"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if wfs == nil {
		wfs = []*store.Workflow{}
	}
	writeJSON(w, http.StatusOK, wfs)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteWorkflow(r.Context(), chi.URLParam(r, "workflowID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImportWorkflow decodes a JSON or YAML document (?format=yaml) and
// saves it. A document without an id gets one minted.
func (s *Server) handleImportWorkflow(w http.ResponseWriter, r *http.Request) {
	format, err := codec.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := s.deps.Codec.Decode(data, format)
	if err != nil {
		writeError(w, err)
		return
	}
	if doc.ID == "" {
		doc.ID = s.newID()
	}
	wf := &store.Workflow{ID: doc.ID, Name: doc.Name, Revision: doc.Revision, Document: doc}
	if err := s.deps.Store.SaveWorkflow(r.Context(), wf); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"workflow":   wf,
		"validation": validation.Validate(doc),
	})
}

func (s *Server) handleExportWorkflow(w http.ResponseWriter, r *http.Request) {
	format, err := codec.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}
	wf, err := s.deps.Store.GetWorkflow(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		writeError(w, err)
		return
	}
	doc := wf.Document
	doc.ID, doc.Name, doc.Revision = wf.ID, wf.Name, wf.Revision
	data, err := s.deps.Codec.Encode(doc, format)
	if err != nil {
		writeError(w, err)
		return
	}
	contentType := "application/json"
	if format == codec.FormatYAML {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, validation.Validate(wf.Document))
}

func (s *Server) handleWorkflowDiagram(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Store.GetWorkflow(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		writeError(w, err)
		return
	}
	doc := wf.Document
	doc.Name = wf.Name
	s.renderDiagram(w, r, validation.Annotate(doc, validation.Validate(doc)), nil)
}

func (s *Server) newID() string {
	if s.deps.NewID != nil {
		return s.deps.NewID()
	}
	return uuid.NewString()
}
