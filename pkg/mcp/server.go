package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowgraph/internal/binding"
	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/internal/projector"
	"github.com/rendis/flowgraph/internal/session"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/internal/streaming"
)

// Deps holds the dependencies for creating a FlowServer.
type Deps struct {
	Sessions  *session.Manager
	Store     store.Store
	Projector *projector.Projector
	Binder    *binding.Binder
	Exprs     *expressions.Set
	Hub       streaming.EventHub
	// Notifier delivers watched instance events. Defaults to MCP push over
	// the agent's session.
	Notifier AgentNotifier
	Agents   *SessionRegistry
	Logger   *slog.Logger
}

// FlowServer exposes the graph editor and the status projector as MCP tools
// so agents can build workflows and follow running instances.
type FlowServer struct {
	sessions  *session.Manager
	store     store.Store
	projector *projector.Projector
	binder    *binding.Binder
	exprs     *expressions.Set
	agents    *SessionRegistry
	watches   *watcher
	logger    *slog.Logger
	mcpServer *server.MCPServer

	stopWatches context.CancelFunc
}

// NewServer creates a FlowServer with every flow.* tool registered.
func NewServer(deps Deps) *FlowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	agents := deps.Agents
	if agents == nil {
		agents = NewSessionRegistry()
	}

	s := &FlowServer{
		sessions:  deps.Sessions,
		store:     deps.Store,
		projector: deps.Projector,
		binder:    deps.Binder,
		exprs:     deps.Exprs,
		agents:    agents,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"flowgraph",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flowgraph edits workflow graphs and tracks running instances. "+
			"Open a session with flow.open, change the graph with flow.edit, check it with flow.validate or flow.bind, "+
			"persist it with flow.save and launch a run with flow.start_instance. "+
			"Report node progress with flow.events, read it back with flow.status or flow.diagram, "+
			"and use flow.watch to receive status pushes for an instance."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv

	notifier := deps.Notifier
	if notifier == nil {
		notifier = NewMCPNotifier(mcpSrv, agents)
	}
	watchCtx, stop := context.WithCancel(context.Background())
	s.stopWatches = stop
	s.watches = newWatcher(watchCtx, deps.Hub, notifier, logger)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FlowServer) Serve(ctx context.Context) error {
	defer s.Close()
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// Close stops every active watch.
func (s *FlowServer) Close() {
	s.stopWatches()
	s.watches.wait()
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *FlowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: openTool(), Handler: s.handleOpen},
		{Tool: closeTool(), Handler: s.handleClose},
		{Tool: editTool(), Handler: s.handleEdit},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: bindTool(), Handler: s.handleBind},
		{Tool: saveTool(), Handler: s.handleSave},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: startInstanceTool(), Handler: s.handleStartInstance},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: eventsTool(), Handler: s.handleEvents},
		{Tool: expressionTool(), Handler: s.handleExpression},
		{Tool: watchTool(), Handler: s.handleWatch},
	}
}

// --- Tool definitions ---

func openTool() mcp.Tool {
	return mcp.NewTool("flow.open",
		mcp.WithDescription("Open an editing session on a stored workflow, or create a new empty one"),
		mcp.WithString("workflow_id", mcp.Description("Workflow to open. Optional when create is true")),
		mcp.WithString("name", mcp.Description("Display name for a new workflow")),
		mcp.WithBoolean("create", mcp.Description("Create a new workflow instead of loading a stored one")),
	)
}

func closeTool() mcp.Tool {
	return mcp.NewTool("flow.close",
		mcp.WithDescription("Close an editing session, discarding unsaved edits"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to close")),
	)
}

func editTool() mcp.Tool {
	return mcp.NewTool("flow.edit",
		mcp.WithDescription("Apply one graph mutation to an editing session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Target session")),
		mcp.WithString("op", mcp.Required(),
			mcp.Enum(opAddNode, opConnect, opReconnect, opDisconnect, opDeleteNode, opReconfigure, opMove),
			mcp.Description("Mutation to apply"),
		),
		mcp.WithString("kind", mcp.Description("Node kind for add_node: start, action, condition, loop, subprocess or end")),
		mcp.WithObject("config", mcp.Description("Initial node config for add_node")),
		mcp.WithNumber("x", mcp.Description("Canvas x for add_node and move")),
		mcp.WithNumber("y", mcp.Description("Canvas y for add_node and move")),
		mcp.WithString("node_id", mcp.Description("Node for delete_node, reconfigure and move")),
		mcp.WithString("edge_id", mcp.Description("Edge for reconnect and disconnect")),
		mcp.WithString("source", mcp.Description("Source node for connect")),
		mcp.WithString("port", mcp.Description("Source port for connect and reconnect (true/false on conditions)")),
		mcp.WithString("target", mcp.Description("Target node for connect and reconnect")),
		mcp.WithString("label", mcp.Description("New label for reconfigure")),
		mcp.WithString("description", mcp.Description("New description for reconfigure")),
		mcp.WithObject("set", mcp.Description("Config keys to set for reconfigure")),
		mcp.WithArray("unset", mcp.Description("Config keys to remove for reconfigure"), mcp.WithStringItems()),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("flow.validate",
		mcp.WithDescription("Validate the structure of a session's graph"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to validate")),
	)
}

func bindTool() mcp.Tool {
	return mcp.NewTool("flow.bind",
		mcp.WithDescription("Bind a session's graph into a runnable plan, checking node configs and expressions"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to bind")),
	)
}

func saveTool() mcp.Tool {
	return mcp.NewTool("flow.save",
		mcp.WithDescription("Persist a session's graph as the workflow's current revision"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to save")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("flow.diagram",
		mcp.WithDescription("Render a session graph or a running instance as ASCII art or Mermaid flowchart syntax"),
		mcp.WithString("session_id", mcp.Description("Session whose graph to render")),
		mcp.WithString("instance_id", mcp.Description("Instance to render with live node statuses")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid"),
			mcp.Description("Output format"),
		),
	)
}

func startInstanceTool() mcp.Tool {
	return mcp.NewTool("flow.start_instance",
		mcp.WithDescription("Save the session's graph and start tracking a new instance of it. Refused when the graph does not bind"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to launch")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("flow.status",
		mcp.WithDescription("Get node and edge statuses of a workflow instance"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("Instance to query")),
		mcp.WithBoolean("include_anomalies", mcp.Description("Also return rejected events")),
	)
}

func eventsTool() mcp.Tool {
	return mcp.NewTool("flow.events",
		mcp.WithDescription("Report node status events for running instances"),
		mcp.WithArray("events", mcp.Required(),
			mcp.Description("Events with instance_id, node_id, status, timestamp (RFC 3339) and optional message"),
			mcp.Items(map[string]any{"type": "object"}),
		),
	)
}

func expressionTool() mcp.Tool {
	return mcp.NewTool("flow.expression",
		mcp.WithDescription("Check or evaluate a condition, loop or output-mapping expression"),
		mcp.WithString("language", mcp.Required(), mcp.Enum("cel", "expr", "jq"), mcp.Description("Expression language")),
		mcp.WithString("expression", mcp.Required(), mcp.Description("Expression text")),
		mcp.WithObject("data", mcp.Description("Variables for evaluation. Omit to only check that it compiles")),
	)
}

func watchTool() mcp.Tool {
	return mcp.NewTool("flow.watch",
		mcp.WithDescription("Push status changes of an instance to the calling agent until the instance is evicted"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("Instance to watch")),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("ID of the watching agent")),
	)
}
