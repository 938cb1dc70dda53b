package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/internal/logging"
	"github.com/rendis/flowgraph/internal/projector"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/pkg/schema"
)

func linearDoc() *schema.GraphDocument {
	return &schema.GraphDocument{
		ID:       "wf-1",
		Name:     "Refunds",
		Revision: 3,
		Nodes: []*schema.Node{
			{ID: "start", Kind: schema.NodeKindStart},
			{ID: "refund", Kind: schema.NodeKindAction, Config: map[string]any{"action": "refund.issue"}},
			{ID: "end", Kind: schema.NodeKindEnd},
		},
		Edges: []*schema.Edge{
			{ID: "e1", Source: "start", Target: "refund"},
			{ID: "e2", Source: "refund", Target: "end"},
		},
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	return newTestAppWith(t, defaultConfig())
}

func newTestAppWith(t *testing.T, cfg Config) *app {
	t.Helper()
	cfg.DBPath = filepath.Join(t.TempDir(), "data", "flowgraph.db")
	a, err := newApp(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func seedInstance(t *testing.T, st store.Store, id string) {
	t.Helper()
	ctx := context.Background()
	doc := linearDoc()
	require.NoError(t, st.SaveWorkflow(ctx, &store.Workflow{ID: doc.ID, Name: doc.Name, Revision: doc.Revision, Document: doc}))
	require.NoError(t, st.CreateInstance(ctx, &store.Instance{ID: id, WorkflowID: doc.ID, Revision: doc.Revision, Document: doc}))
}

func TestStoreResolver(t *testing.T) {
	a := newTestApp(t)
	seedInstance(t, a.store, "inst-1")
	resolve := storeResolver(a.store)

	wf, lookup, ok := resolve(context.Background(), "inst-1")
	require.True(t, ok)
	assert.Equal(t, "wf-1", wf)
	assert.True(t, lookup.HasNode("refund"))
	assert.False(t, lookup.HasNode("ghost"))

	_, _, ok = resolve(context.Background(), "unknown")
	assert.False(t, ok)
}

func TestProjectorResolvesStoredInstances(t *testing.T) {
	a := newTestApp(t)
	seedInstance(t, a.store, "inst-1")
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	out := a.projector.Ingest(ctx, schema.StatusEvent{InstanceID: "inst-1", NodeID: "ghost", Status: schema.NodeStatusRunning, Timestamp: t0})
	assert.Equal(t, schema.AnomalyUnknownNode, out.Code)

	out = a.projector.Ingest(ctx, schema.StatusEvent{InstanceID: "external", NodeID: "anything", Status: schema.NodeStatusRunning, Timestamp: t0})
	assert.True(t, out.Applied(), "unknown instances are tracked without node checks")
}

func TestRestoreInstances(t *testing.T) {
	a := newTestApp(t)
	seedInstance(t, a.store, "inst-1")
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for _, ev := range []schema.StatusEvent{
		{InstanceID: "inst-1", NodeID: "start", Status: schema.NodeStatusCompleted, Timestamp: t0},
		{InstanceID: "inst-1", NodeID: "refund", Status: schema.NodeStatusRunning, Timestamp: t0.Add(time.Second)},
		{InstanceID: "inst-2", NodeID: "x", Status: schema.NodeStatusRunning, Timestamp: t0},
	} {
		require.NoError(t, a.store.AppendStatusEvent(ctx, ev))
	}

	fresh := projector.New(projector.WithResolver(storeResolver(a.store)))
	n, err := restoreInstances(ctx, a.store, fresh, logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, ok := fresh.Status("inst-1", "refund")
	require.True(t, ok)
	assert.Equal(t, schema.NodeStatusRunning, st.Status)
	st, ok = fresh.Status("inst-2", "x")
	require.True(t, ok)
	assert.Equal(t, schema.NodeStatusRunning, st.Status)
}

func TestEndNodeLimit(t *testing.T) {
	ctx := context.Background()
	pos := schema.Position{}

	a := newTestApp(t)
	sess, err := a.sessions.Create(ctx, "wf-single", "Single end")
	require.NoError(t, err)
	_, err = sess.Editor.AddNode(schema.NodeKindEnd, nil, pos)
	require.NoError(t, err)
	_, err = sess.Editor.AddNode(schema.NodeKindEnd, nil, pos)
	assert.Equal(t, schema.ErrCodeSingletonViolation, schema.CodeOf(err))

	cfg := defaultConfig()
	cfg.MaxEndNodes = 2
	b := newTestAppWith(t, cfg)
	sess, err = b.sessions.Create(ctx, "wf-two", "Two ends")
	require.NoError(t, err)
	for range 2 {
		_, err = sess.Editor.AddNode(schema.NodeKindEnd, nil, pos)
		require.NoError(t, err)
	}
	_, err = sess.Editor.AddNode(schema.NodeKindEnd, nil, pos)
	assert.Equal(t, schema.ErrCodeSingletonViolation, schema.CodeOf(err))
}

func TestHandlerSwapper(t *testing.T) {
	sw := newHandlerSwapper(startingHandler())

	rec := httptest.NewRecorder()
	sw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "STARTING")

	sw.Swap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))
	rec = httptest.NewRecorder()
	sw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
