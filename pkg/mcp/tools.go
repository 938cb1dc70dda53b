package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowgraph/internal/diagram"
	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/internal/graph"
	"github.com/rendis/flowgraph/internal/projector"
	"github.com/rendis/flowgraph/internal/session"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/pkg/schema"
)

const (
	opAddNode     = "add_node"
	opConnect     = "connect"
	opReconnect   = "reconnect"
	opDisconnect  = "disconnect"
	opDeleteNode  = "delete_node"
	opReconfigure = "reconfigure"
	opMove        = "move"
)

type sessionResult struct {
	SessionID  string                   `json:"session_id"`
	WorkflowID string                   `json:"workflow_id"`
	Revision   int64                    `json:"revision"`
	Document   *schema.GraphDocument    `json:"document"`
	Validation *schema.ValidationResult `json:"validation"`
}

type instanceResult struct {
	InstanceID string                       `json:"instance_id"`
	WorkflowID string                       `json:"workflow_id,omitempty"`
	Revision   int64                        `json:"revision"`
	Tracked    bool                         `json:"tracked"`
	Nodes      projector.StatusMap          `json:"nodes"`
	Edges      map[string]schema.EdgeStatus `json:"edges"`
	Anomalies  []schema.StatusAnomaly       `json:"anomalies,omitempty"`
}

type eventOutcome struct {
	InstanceID string            `json:"instance_id"`
	NodeID     string            `json:"node_id"`
	Applied    bool              `json:"applied"`
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message,omitempty"`
	Previous   schema.NodeStatus `json:"previous,omitempty"`
	Status     schema.NodeStatus `json:"status,omitempty"`
}

// handleOpen creates or loads a workflow into a new editing session.
func (s *FlowServer) handleOpen(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID := req.GetString("workflow_id", "")
	var (
		sess *session.Session
		err  error
	)
	if req.GetBool("create", false) {
		sess, err = s.sessions.Create(ctx, workflowID, req.GetString("name", ""))
	} else {
		if workflowID == "" {
			return mcp.NewToolResultError("workflow_id is required unless create is true"), nil
		}
		sess, err = s.sessions.Open(ctx, workflowID)
	}
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(resultOf(sess))
}

func (s *FlowServer) handleClose(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	if err := s.sessions.Close(id); err != nil {
		return toolError(err), nil
	}
	return marshalResult(map[string]any{"session_id": id, "closed": true})
}

// handleEdit dispatches one mutation and returns its result together with
// the graph's new revision and validation state.
func (s *FlowServer) handleEdit(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := s.session(req)
	if errResult != nil {
		return errResult, nil
	}
	op, err := req.RequireString("op")
	if err != nil {
		return mcp.NewToolResultError("op is required"), nil
	}

	ed := sess.Editor
	var result any
	switch op {
	case opAddNode:
		kind, kerr := req.RequireString("kind")
		if kerr != nil {
			return mcp.NewToolResultError("kind is required for add_node"), nil
		}
		result, err = ed.AddNode(schema.NodeKind(kind), mcp.ParseStringMap(req, "config", nil), position(req))
	case opConnect:
		source, target := req.GetString("source", ""), req.GetString("target", "")
		if source == "" || target == "" {
			return mcp.NewToolResultError("source and target are required for connect"), nil
		}
		result, err = ed.Connect(source, req.GetString("port", ""), target)
	case opReconnect:
		edgeID, eerr := req.RequireString("edge_id")
		if eerr != nil {
			return mcp.NewToolResultError("edge_id is required for reconnect"), nil
		}
		result, err = ed.Reconnect(edgeID, req.GetString("port", ""), req.GetString("target", ""))
	case opDisconnect:
		edgeID, eerr := req.RequireString("edge_id")
		if eerr != nil {
			return mcp.NewToolResultError("edge_id is required for disconnect"), nil
		}
		err = ed.Disconnect(edgeID)
		result = map[string]any{"edge_id": edgeID}
	case opDeleteNode:
		nodeID, nerr := req.RequireString("node_id")
		if nerr != nil {
			return mcp.NewToolResultError("node_id is required for delete_node"), nil
		}
		var removed []*schema.Edge
		removed, err = ed.DeleteNode(nodeID)
		if removed == nil {
			removed = []*schema.Edge{}
		}
		result = map[string]any{"node_id": nodeID, "removed_edges": removed}
	case opReconfigure:
		nodeID, nerr := req.RequireString("node_id")
		if nerr != nil {
			return mcp.NewToolResultError("node_id is required for reconfigure"), nil
		}
		result, err = ed.Reconfigure(nodeID, patchFrom(req))
	case opMove:
		nodeID, nerr := req.RequireString("node_id")
		if nerr != nil {
			return mcp.NewToolResultError("node_id is required for move"), nil
		}
		result, err = ed.Move(nodeID, position(req))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown op: %s", op)), nil
	}
	if err != nil {
		return toolError(err), nil
	}

	return marshalResult(map[string]any{
		"op":         op,
		"result":     result,
		"revision":   ed.Revision(),
		"validation": ed.Validate(),
	})
}

func (s *FlowServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := s.session(req)
	if errResult != nil {
		return errResult, nil
	}
	return marshalResult(sess.Editor.Validate())
}

func (s *FlowServer) handleBind(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := s.session(req)
	if errResult != nil {
		return errResult, nil
	}
	if s.binder == nil {
		return mcp.NewToolResultError("binding is not configured"), nil
	}
	return marshalResult(s.binder.Bind(sess.Editor.Document()))
}

func (s *FlowServer) handleSave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	wf, err := s.sessions.Save(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(wf)
}

// handleDiagram renders either a session's annotated graph or an instance's
// frozen graph overlaid with live statuses.
func (s *FlowServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" {
		return mcp.NewToolResultError("format must be ascii or mermaid"), nil
	}

	sessionID := req.GetString("session_id", "")
	instanceID := req.GetString("instance_id", "")

	var model *diagram.DiagramModel
	switch {
	case instanceID != "":
		view, inst, verr := s.instance(ctx, instanceID)
		if verr != nil {
			return toolError(verr), nil
		}
		if inst == nil {
			return mcp.NewToolResultError(fmt.Sprintf("instance %q has no stored graph", instanceID)), nil
		}
		model = diagram.Build(inst.Document, &diagram.Overlay{Nodes: view.Nodes, Edges: view.Edges})
	case sessionID != "":
		sess, gerr := s.sessions.Get(sessionID)
		if gerr != nil {
			return toolError(gerr), nil
		}
		doc, _ := sess.Editor.Annotated()
		model = diagram.Build(doc, nil)
	default:
		return mcp.NewToolResultError("one of session_id or instance_id is required"), nil
	}

	if format == "ascii" {
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	}
	return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
}

func (s *FlowServer) handleStartInstance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	inst, plan, err := s.sessions.StartInstance(ctx, id)
	if err != nil {
		if plan != nil && !plan.Runnable() {
			data, _ := json.Marshal(plan.Result.Errors)
			return mcp.NewToolResultError(fmt.Sprintf("graph cannot run: %s", data)), nil
		}
		return toolError(err), nil
	}
	return marshalResult(map[string]any{
		"instance_id": inst.ID,
		"workflow_id": inst.WorkflowID,
		"revision":    inst.Revision,
		"start":       plan.Start,
	})
}

func (s *FlowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}
	view, _, err := s.instance(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	if req.GetBool("include_anomalies", false) {
		view.Anomalies = s.projector.Anomalies(id)
	}
	return marshalResult(view)
}

// handleEvents ingests events synchronously. Rejected events are reported
// per event rather than failing the call.
func (s *FlowServer) handleEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := req.GetArguments()["events"]
	if !ok {
		return mcp.NewToolResultError("events is required"), nil
	}
	var events []schema.StatusEvent
	if err := remarshal(raw, &events); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid events: %v", err)), nil
	}

	outcomes := make([]eventOutcome, 0, len(events))
	applied := 0
	for _, ev := range events {
		out := s.projector.Ingest(ctx, ev)
		res := eventOutcome{
			InstanceID: ev.InstanceID,
			NodeID:     ev.NodeID,
			Applied:    out.Applied(),
			Code:       out.Code,
			Message:    out.Message,
			Previous:   out.Previous,
		}
		if out.Applied() {
			res.Status = out.State.Status
			applied++
		}
		outcomes = append(outcomes, res)
	}
	return marshalResult(map[string]any{"applied": applied, "results": outcomes})
}

func (s *FlowServer) handleExpression(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lang, err := req.RequireString("language")
	if err != nil {
		return mcp.NewToolResultError("language is required"), nil
	}
	expression, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError("expression is required"), nil
	}
	eng, ok := s.exprs.Engine(expressions.Language(lang))
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown expression language: %s", lang)), nil
	}

	data := mcp.ParseStringMap(req, "data", nil)
	if data == nil {
		if err := eng.Check(expression); err != nil {
			return toolError(err), nil
		}
		return marshalResult(map[string]any{"language": eng.Name(), "valid": true})
	}
	result, err := eng.Evaluate(ctx, expression, data)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(map[string]any{"language": eng.Name(), "valid": true, "result": result})
}

func (s *FlowServer) handleWatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError("agent_id is required"), nil
	}
	if _, tracked := s.projector.Snapshot(instanceID); !tracked {
		return mcp.NewToolResultError(fmt.Sprintf("instance %q is not being tracked", instanceID)), nil
	}

	s.captureSession(ctx, agentID)
	started, err := s.watches.watch(agentID, instanceID)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(map[string]any{
		"instance_id": instanceID,
		"agent_id":    agentID,
		"watching":    true,
		"already":     !started,
	})
}

// --- Internal helpers ---

func (s *FlowServer) session(req mcp.CallToolRequest) (*session.Session, *mcp.CallToolResult) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return nil, mcp.NewToolResultError("session_id is required")
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, toolError(err)
	}
	return sess, nil
}

// instance merges the projector view with the stored instance record and
// fails with NOT_FOUND only when neither knows the id.
func (s *FlowServer) instance(ctx context.Context, id string) (*instanceResult, *store.Instance, error) {
	statuses, tracked := s.projector.Snapshot(id)

	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		if !errors.Is(err, schema.ErrNotFound) || !tracked {
			return nil, nil, err
		}
		inst = nil
	}

	view := &instanceResult{InstanceID: id, Tracked: tracked, Nodes: statuses}
	if view.Nodes == nil {
		view.Nodes = projector.StatusMap{}
	}
	for _, info := range s.projector.Instances("") {
		if info.InstanceID == id {
			view.WorkflowID = info.WorkflowID
			break
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

// captureSession maps the agent ID to its current MCP session for notifications.
func (s *FlowServer) captureSession(ctx context.Context, agentID string) {
	if cs := server.ClientSessionFromContext(ctx); cs != nil {
		s.agents.Register(agentID, cs.SessionID())
	}
}

func resultOf(sess *session.Session) sessionResult {
	doc, result := sess.Editor.Annotated()
	return sessionResult{
		SessionID:  sess.ID,
		WorkflowID: sess.WorkflowID,
		Revision:   doc.Revision,
		Document:   doc,
		Validation: result,
	}
}

func position(req mcp.CallToolRequest) schema.Position {
	return schema.Position{X: req.GetFloat("x", 0), Y: req.GetFloat("y", 0)}
}

func patchFrom(req mcp.CallToolRequest) graph.NodePatch {
	var patch graph.NodePatch
	args := req.GetArguments()
	if v, ok := args["label"].(string); ok {
		patch.Label = &v
	}
	if v, ok := args["description"].(string); ok {
		patch.Description = &v
	}
	patch.Set = mcp.ParseStringMap(req, "set", nil)
	patch.Unset = req.GetStringSlice("unset", nil)
	return patch
}

// remarshal converts loosely typed tool arguments into a typed value.
func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// toolError renders an error as a tool-level failure the agent can read.
func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
