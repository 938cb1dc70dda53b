package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleDocument() *schema.GraphDocument {
	return &schema.GraphDocument{
		Nodes: []*schema.Node{
			{ID: "start", Kind: schema.NodeKindStart, Config: map[string]any{}},
			{ID: "a1", Kind: schema.NodeKindAction, Label: "Action", Config: map[string]any{"action": "email.send"}},
			{ID: "end", Kind: schema.NodeKindEnd, Config: map[string]any{}},
		},
		Edges: []*schema.Edge{
			{ID: "e1", Source: "start", SourcePort: schema.PortOut, Target: "a1"},
			{ID: "e2", Source: "a1", SourcePort: schema.PortOut, Target: "end"},
		},
	}
}

func seedWorkflow(t *testing.T, s *LibSQLStore) *Workflow {
	t.Helper()
	wf := &Workflow{
		ID:       uuid.New().String(),
		Name:     "onboarding",
		Revision: 3,
		Document: sampleDocument(),
	}
	require.NoError(t, s.SaveWorkflow(context.Background(), wf))
	return wf
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	v, err := schemaVersion(context.Background(), s.DB())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestSplitStatements_SkipsComments(t *testing.T) {
	stmts := splitStatements("-- header only;\nCREATE TABLE a (x INT);\n\n-- trailing\n")
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
}

func TestSaveAndGetWorkflow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "onboarding", got.Name)
	assert.Equal(t, int64(3), got.Revision)
	require.Len(t, got.Document.Nodes, 3)
	assert.Equal(t, "email.send", got.Document.Nodes[1].Config["action"])
	assert.Len(t, got.Document.Edges, 2)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSaveWorkflow_UpdatePreservesCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)
	first, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	doc := sampleDocument()
	doc.Nodes = doc.Nodes[:1]
	doc.Edges = nil
	require.NoError(t, s.SaveWorkflow(ctx, &Workflow{ID: wf.ID, Name: "renamed", Revision: 4, Document: doc}))

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, int64(4), got.Revision)
	assert.Len(t, got.Document.Nodes, 1)
	assert.True(t, first.CreatedAt.Equal(got.CreatedAt))
}

func TestSaveWorkflow_RequiresID(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveWorkflow(context.Background(), &Workflow{Document: sampleDocument()})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestGetWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetWorkflow(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, schema.ErrNotFound))
}

func TestListWorkflows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "a"} {
		require.NoError(t, s.SaveWorkflow(ctx, &Workflow{
			ID: uuid.New().String(), Name: name, Document: sampleDocument(),
		}))
	}

	all, err := s.ListWorkflows(ctx, WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	named, err := s.ListWorkflows(ctx, WorkflowFilter{Name: "a"})
	require.NoError(t, err)
	assert.Len(t, named, 2)

	page, err := s.ListWorkflows(ctx, WorkflowFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestDeleteWorkflow_CascadesInstances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)
	require.NoError(t, s.CreateInstance(ctx, &Instance{ID: "i1", WorkflowID: wf.ID, Document: wf.Document}))

	require.NoError(t, s.DeleteWorkflow(ctx, wf.ID))
	_, err := s.GetInstance(ctx, "i1")
	assert.True(t, errors.Is(err, schema.ErrNotFound))

	err = s.DeleteWorkflow(ctx, wf.ID)
	assert.True(t, errors.Is(err, schema.ErrNotFound))
}

func TestCreateAndGetInstance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf := seedWorkflow(t, s)

	inst := &Instance{ID: "i1", WorkflowID: wf.ID, Revision: 3, Document: wf.Document}
	require.NoError(t, s.CreateInstance(ctx, inst))

	got, err := s.GetInstance(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.WorkflowID)
	assert.Equal(t, int64(3), got.Revision)
	assert.Len(t, got.Document.Nodes, 3)

	err = s.CreateInstance(ctx, &Instance{ID: "i1", WorkflowID: wf.ID, Document: wf.Document})
	assert.Equal(t, schema.ErrCodeDuplicateID, schema.CodeOf(err))
}

func TestCreateInstance_UnknownWorkflow(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateInstance(context.Background(), &Instance{ID: "i1", WorkflowID: "ghost"})
	assert.True(t, errors.Is(err, schema.ErrNotFound))
}

func TestListInstances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wf1 := seedWorkflow(t, s)
	wf2 := seedWorkflow(t, s)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateInstance(ctx, &Instance{ID: "i1", WorkflowID: wf1.ID, CreatedAt: base}))
	require.NoError(t, s.CreateInstance(ctx, &Instance{ID: "i2", WorkflowID: wf1.ID, CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.CreateInstance(ctx, &Instance{ID: "i3", WorkflowID: wf2.ID, CreatedAt: base.Add(2 * time.Hour)}))

	byWf, err := s.ListInstances(ctx, InstanceFilter{WorkflowID: wf1.ID})
	require.NoError(t, err)
	require.Len(t, byWf, 2)
	assert.Equal(t, "i2", byWf[0].ID, "newest first")

	limited, err := s.ListInstances(ctx, InstanceFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "i3", limited[0].ID)
}
