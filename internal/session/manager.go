// Package session hands out exclusive editors over stored workflows. A
// workflow can be open in at most one session at a time; edits stay in
// memory until Save writes the document back to the store.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowgraph/internal/binding"
	"github.com/rendis/flowgraph/internal/editor"
	"github.com/rendis/flowgraph/internal/graph"
	"github.com/rendis/flowgraph/internal/logging"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/pkg/schema"
)

// Session is one open editor.
type Session struct {
	ID         string
	WorkflowID string
	Editor     *editor.Editor
	OpenedAt   time.Time
	SavedAt    time.Time
}

// Info summarizes a session for listings.
type Info struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	Revision   int64     `json:"revision"`
	OpenedAt   time.Time `json:"opened_at"`
	SavedAt    time.Time `json:"saved_at,omitempty"`
}

// InstanceBinder registers a started instance for status tracking.
// Satisfied by *projector.Projector.
type InstanceBinder interface {
	Bind(ctx context.Context, instanceID, workflowID string, lookup graph.NodeLookup) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithEditorOptions applies opts to every editor the manager opens.
func WithEditorOptions(opts ...editor.Option) Option {
	return func(m *Manager) { m.editorOpts = append(m.editorOpts, opts...) }
}

// WithBinder refuses to start instances whose bound plan has errors.
func WithBinder(b *binding.Binder) Option {
	return func(m *Manager) { m.binder = b }
}

// WithInstanceBinder registers started instances, usually with the projector.
func WithInstanceBinder(b InstanceBinder) Option {
	return func(m *Manager) { m.instances = b }
}

// WithIDGenerator replaces the uuid-based id generator for sessions,
// workflows and instances.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager tracks open sessions. It is safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	byWorkflow map[string]string

	store      store.Store
	editorOpts []editor.Option
	binder     *binding.Binder
	instances  InstanceBinder
	newID      func() string
	now        func() time.Time
	logger     *slog.Logger
}

// NewManager creates a Manager over st.
func NewManager(st store.Store, opts ...Option) *Manager {
	m := &Manager{
		sessions:   make(map[string]*Session),
		byWorkflow: make(map[string]string),
		store:      st,
		newID:      func() string { return uuid.NewString() },
		now:        time.Now,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a session over a new, empty workflow. An empty workflowID is
// minted. The workflow is not stored until the first Save.
func (m *Manager) Create(ctx context.Context, workflowID, name string) (*Session, error) {
	if workflowID == "" {
		workflowID = m.newID()
	} else if _, err := m.store.GetWorkflow(ctx, workflowID); err == nil {
		return nil, schema.NewErrorf(schema.ErrCodeDuplicateID, "workflow %q already exists", workflowID)
	} else if !errors.Is(err, schema.ErrNotFound) {
		return nil, err
	}
	ed := editor.New(m.options(workflowID, name)...)
	return m.register(ctx, workflowID, ed)
}

// Open loads a stored workflow into a new session.
func (m *Manager) Open(ctx context.Context, workflowID string) (*Session, error) {
	if id, busy := m.openFor(workflowID); busy {
		return nil, conflict(workflowID, id)
	}
	wf, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	ed, err := editor.Open(wf.Document, m.options(wf.ID, wf.Name)...)
	if err != nil {
		return nil, err
	}
	return m.register(ctx, wf.ID, ed)
}

// Get returns an open session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "session %q not found", id)
	}
	return s, nil
}

// List returns every open session ordered by id.
func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Info{
			ID:         s.ID,
			WorkflowID: s.WorkflowID,
			OpenedAt:   s.OpenedAt,
			SavedAt:    s.SavedAt,
		})
	}
	editors := make(map[string]*editor.Editor, len(m.sessions))
	for _, s := range m.sessions {
		editors[s.ID] = s.Editor
	}
	m.mu.Unlock()

	for i := range out {
		out[i].Revision = editors[out[i].ID].Revision()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Save writes the session's current document to the store.
func (m *Manager) Save(ctx context.Context, id string) (*store.Workflow, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return m.save(ctx, s)
}

// Close discards the session and its unsaved edits.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		delete(m.byWorkflow, s.WorkflowID)
	}
	m.mu.Unlock()

	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "session %q not found", id)
	}
	m.logger.InfoContext(logging.WithWorkflowID(context.Background(), s.WorkflowID),
		"session closed", slog.String("session_id", id))
	return nil
}

// StartInstance freezes the session's graph, saves the workflow, records a
// new instance against the frozen document and registers it for status
// tracking. It fails with VALIDATION_ERROR when a binder is configured and
// the frozen graph does not bind cleanly.
func (m *Manager) StartInstance(ctx context.Context, id string) (*store.Instance, *binding.Plan, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, nil, err
	}

	snap := s.Editor.Freeze()
	doc := snap.Document()
	doc.ID = s.WorkflowID
	current := s.Editor.Document()
	doc.Name = current.Name
	doc.Metadata = current.Metadata

	var plan *binding.Plan
	if m.binder != nil {
		plan = m.binder.Bind(doc)
		if err := plan.Err(); err != nil {
			return nil, plan, err
		}
	}

	if _, err := m.save(ctx, s); err != nil {
		return nil, plan, err
	}
	inst := &store.Instance{
		ID:         m.newID(),
		WorkflowID: s.WorkflowID,
		Revision:   snap.Revision(),
		Document:   doc,
	}
	if err := m.store.CreateInstance(ctx, inst); err != nil {
		return nil, plan, err
	}
	if m.instances != nil {
		if err := m.instances.Bind(ctx, inst.ID, s.WorkflowID, snap); err != nil {
			return nil, plan, err
		}
	}

	ctx = logging.WithIDs(ctx, s.WorkflowID, inst.ID, "")
	m.logger.InfoContext(ctx, "instance started", slog.Int64("revision", inst.Revision))
	return inst, plan, nil
}

func (m *Manager) save(ctx context.Context, s *Session) (*store.Workflow, error) {
	doc := s.Editor.Document()
	wf := &store.Workflow{
		ID:       s.WorkflowID,
		Name:     doc.Name,
		Revision: doc.Revision,
		Document: doc,
	}
	if existing, err := m.store.GetWorkflow(ctx, s.WorkflowID); err == nil {
		wf.CreatedAt = existing.CreatedAt
	}
	if err := m.store.SaveWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	m.mu.Lock()
	s.SavedAt = m.now()
	m.mu.Unlock()

	m.logger.InfoContext(logging.WithWorkflowID(ctx, s.WorkflowID), "workflow saved",
		slog.String("session_id", s.ID),
		slog.Int64("revision", wf.Revision))
	return wf, nil
}

func (m *Manager) register(ctx context.Context, workflowID string, ed *editor.Editor) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, busy := m.byWorkflow[workflowID]; busy {
		return nil, conflict(workflowID, id)
	}
	s := &Session{
		ID:         m.newID(),
		WorkflowID: workflowID,
		Editor:     ed,
		OpenedAt:   m.now(),
	}
	m.sessions[s.ID] = s
	m.byWorkflow[workflowID] = s.ID

	m.logger.InfoContext(logging.WithWorkflowID(ctx, workflowID), "session opened",
		slog.String("session_id", s.ID))
	return s, nil
}

func (m *Manager) openFor(workflowID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byWorkflow[workflowID]
	return id, ok
}

func (m *Manager) options(workflowID, name string) []editor.Option {
	opts := make([]editor.Option, 0, len(m.editorOpts)+1)
	opts = append(opts, m.editorOpts...)
	return append(opts, editor.WithWorkflow(workflowID, name))
}

func conflict(workflowID, sessionID string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q is open in another session", workflowID).
		WithDetails(map[string]any{"session_id": sessionID})
}
