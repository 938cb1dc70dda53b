// Package httpapi exposes the editor, validation, diagrams and status
// projection over HTTP, with a Server-Sent Events stream for live updates.
package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rendis/flowgraph/internal/binding"
	"github.com/rendis/flowgraph/internal/codec"
	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/internal/logging"
	"github.com/rendis/flowgraph/internal/metrics"
	"github.com/rendis/flowgraph/internal/projector"
	"github.com/rendis/flowgraph/internal/session"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/internal/streaming"
)

// Deps holds the dependencies for the API server.
type Deps struct {
	Store     store.Store
	Sessions  *session.Manager
	Projector *projector.Projector
	Binder    *binding.Binder
	Codec     *codec.Codec
	Exprs     *expressions.Set
	Hub       streaming.EventHub
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	NewID     func() string
}

// Server serves the HTTP API.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for all API routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(enableCORS)

	r.Get("/health", s.handleHealth)
	r.Get("/catalog", s.handleCatalog)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", s.handleListWorkflows)
		r.Post("/import", s.handleImportWorkflow)
		r.Get("/{workflowID}", s.handleGetWorkflow)
		r.Delete("/{workflowID}", s.handleDeleteWorkflow)
		r.Get("/{workflowID}/export", s.handleExportWorkflow)
		r.Get("/{workflowID}/validate", s.handleValidateWorkflow)
		r.Get("/{workflowID}/diagram", s.handleWorkflowDiagram)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleOpenSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleCloseSession)
			r.Post("/save", s.handleSaveSession)
			r.Get("/validate", s.handleValidateSession)
			r.Get("/bind", s.handleBindSession)
			r.Get("/diagram", s.handleSessionDiagram)
			r.Post("/instances", s.handleStartInstance)

			r.Post("/nodes", s.handleAddNode)
			r.Patch("/nodes/{nodeID}", s.handleReconfigureNode)
			r.Put("/nodes/{nodeID}/position", s.handleMoveNode)
			r.Delete("/nodes/{nodeID}", s.handleDeleteNode)
			r.Post("/edges", s.handleConnect)
			r.Put("/edges/{edgeID}", s.handleReconnect)
			r.Delete("/edges/{edgeID}", s.handleDisconnect)

			r.Post("/gestures/drop", s.handleDropGesture)
			r.Post("/gestures/connect", s.handleConnectGesture)
			r.Post("/gestures/delete", s.handleDeleteGesture)
		})
	})

	r.Route("/instances", func(r chi.Router) {
		r.Get("/", s.handleListInstances)
		r.Get("/{instanceID}", s.handleGetInstance)
		r.Get("/{instanceID}/anomalies", s.handleInstanceAnomalies)
		r.Get("/{instanceID}/diagram", s.handleInstanceDiagram)
	})

	r.Post("/events", s.handleIngestEvents)
	r.Get("/anomalies", s.handleAnomalies)
	r.Post("/expressions/evaluate", s.handleEvaluateExpression)
	r.Get("/stream", s.handleStream)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// observe records request duration by route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.deps.Metrics.ObserveHTTP(route, r.Method, strconv.Itoa(status), time.Since(start))
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
