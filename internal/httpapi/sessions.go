package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rendis/flowgraph/internal/editor"
	"github.com/rendis/flowgraph/internal/graph"
	"github.com/rendis/flowgraph/internal/session"
	"github.com/rendis/flowgraph/pkg/schema"
)

type openSessionRequest struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	Name       string `json:"name,omitempty"`
	// Create starts a new, empty workflow instead of loading a stored one.
	Create bool `json:"create,omitempty"`
}

type sessionView struct {
	ID         string                   `json:"id"`
	WorkflowID string                   `json:"workflow_id"`
	Revision   int64                    `json:"revision"`
	Document   *schema.GraphDocument    `json:"document"`
	Validation *schema.ValidationResult `json:"validation"`
}

type addNodeRequest struct {
	Kind     schema.NodeKind `json:"kind"`
	Config   map[string]any  `json:"config,omitempty"`
	Position schema.Position `json:"position"`
}

type connectRequest struct {
	Source     string `json:"source"`
	SourcePort string `json:"source_port,omitempty"`
	Target     string `json:"target"`
}

type dropRequest struct {
	Type     string          `json:"type"`
	Position schema.Position `json:"position"`
	Config   map[string]any  `json:"config,omitempty"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sessions.List())
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var (
		sess *session.Session
		err  error
	)
	if req.Create {
		sess, err = s.deps.Sessions.Create(r.Context(), req.WorkflowID, req.Name)
	} else {
		sess, err = s.deps.Sessions.Open(r.Context(), req.WorkflowID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Close(chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Sessions.Save(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleValidateSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Editor.Validate())
}

func (s *Server) handleBindSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Binder.Bind(sess.Editor.Document()))
}

func (s *Server) handleSessionDiagram(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	doc, _ := sess.Editor.Annotated()
	s.renderDiagram(w, r, doc, nil)
}

func (s *Server) handleStartInstance(w http.ResponseWriter, r *http.Request) {
	inst, plan, err := s.deps.Sessions.StartInstance(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		if plan != nil && !plan.Runnable() {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err, "plan": plan})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"instance": inst, "plan": plan})
}

// --- Editor operations ---

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req addNodeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	node, err := sess.Editor.AddNode(req.Kind, req.Config, req.Position)
	respond(w, http.StatusCreated, node, err)
}

func (s *Server) handleReconfigureNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var patch graph.NodePatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	node, err := sess.Editor.Reconfigure(chi.URLParam(r, "nodeID"), patch)
	respond(w, http.StatusOK, node, err)
}

func (s *Server) handleMoveNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var pos schema.Position
	if err := decodeBody(r, &pos); err != nil {
		writeError(w, err)
		return
	}
	node, err := sess.Editor.Move(chi.URLParam(r, "nodeID"), pos)
	respond(w, http.StatusOK, node, err)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	removed, err := sess.Editor.DeleteNode(chi.URLParam(r, "nodeID"))
	if removed == nil {
		removed = []*schema.Edge{}
	}
	respond(w, http.StatusOK, map[string]any{"removed_edges": removed}, err)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	edge, err := sess.Editor.Connect(req.Source, req.SourcePort, req.Target)
	respond(w, http.StatusCreated, edge, err)
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	edge, err := sess.Editor.Reconnect(chi.URLParam(r, "edgeID"), req.SourcePort, req.Target)
	respond(w, http.StatusOK, edge, err)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Editor.Disconnect(chi.URLParam(r, "edgeID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Canvas gestures ---

func (s *Server) handleDropGesture(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req dropRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	node, err := editor.NewGestures(sess.Editor).DropNode(req.Type, req.Position, req.Config)
	respond(w, http.StatusCreated, node, err)
}

func (s *Server) handleConnectGesture(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req editor.Connection
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	edge, err := editor.NewGestures(sess.Editor).ConnectHandles(req)
	respond(w, http.StatusCreated, edge, err)
}

func (s *Server) handleDeleteGesture(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req editor.Selection
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	removed, err := editor.NewGestures(sess.Editor).DeleteSelection(req)
	if removed == nil {
		removed = []string{}
	}
	respond(w, http.StatusOK, map[string]any{"removed_edges": removed}, err)
}

// --- helpers ---

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.deps.Sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

func respond(w http.ResponseWriter, status int, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, v)
}

func viewOf(sess *session.Session) sessionView {
	doc, result := sess.Editor.Annotated()
	return sessionView{
		ID:         sess.ID,
		WorkflowID: sess.WorkflowID,
		Revision:   doc.Revision,
		Document:   doc,
		Validation: result,
	}
}
