package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/internal/binding"
	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/internal/projector"
	"github.com/rendis/flowgraph/internal/store"
	"github.com/rendis/flowgraph/internal/validation"
	"github.com/rendis/flowgraph/pkg/schema"
)

func newTestStore(t *testing.T) *store.LibSQLStore {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newBinder(t *testing.T) *binding.Binder {
	t.Helper()
	sv, err := validation.NewSchemaValidator()
	require.NoError(t, err)
	exprs, err := expressions.NewSet()
	require.NoError(t, err)
	return binding.New(sv, exprs)
}

// buildLinear fills the session editor with start -> action -> end.
func buildLinear(t *testing.T, s *Session) {
	t.Helper()
	start, err := s.Editor.AddNode(schema.NodeKindStart, nil, schema.Position{})
	require.NoError(t, err)
	act, err := s.Editor.AddNode(schema.NodeKindAction, map[string]any{"action": "email.send"}, schema.Position{Y: 100})
	require.NoError(t, err)
	end, err := s.Editor.AddNode(schema.NodeKindEnd, nil, schema.Position{Y: 200})
	require.NoError(t, err)
	_, err = s.Editor.Connect(start.ID, "", act.ID)
	require.NoError(t, err)
	_, err = s.Editor.Connect(act.ID, "", end.ID)
	require.NoError(t, err)
}

func TestCreateSaveOpen(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m := NewManager(st)

	s, err := m.Create(ctx, "wf-1", "Onboarding")
	require.NoError(t, err)
	buildLinear(t, s)

	wf, err := m.Save(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), wf.Revision)
	assert.False(t, s.SavedAt.IsZero())

	require.NoError(t, m.Close(s.ID))

	reopened, err := m.Open(ctx, "wf-1")
	require.NoError(t, err)
	doc := reopened.Editor.Document()
	assert.Equal(t, "Onboarding", doc.Name)
	assert.Len(t, doc.Nodes, 3)
	assert.Len(t, doc.Edges, 2)
	assert.Equal(t, int64(5), reopened.Editor.Revision())
}

func TestCreate_MintsWorkflowID(t *testing.T) {
	m := NewManager(newTestStore(t), WithIDGenerator(sequentialIDs()))
	s, err := m.Create(context.Background(), "", "draft")
	require.NoError(t, err)
	assert.Equal(t, "id-1", s.WorkflowID)
	assert.Equal(t, "id-2", s.ID)
	assert.Equal(t, "id-1", s.Editor.WorkflowID())
}

func TestCreate_ExistingWorkflow(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.SaveWorkflow(ctx, &store.Workflow{ID: "wf-1", Document: &schema.GraphDocument{}}))

	_, err := NewManager(st).Create(ctx, "wf-1", "")
	assert.True(t, errors.Is(err, schema.ErrDuplicateID))
}

func TestOpen_Exclusive(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m := NewManager(st)

	s, err := m.Create(ctx, "wf-1", "")
	require.NoError(t, err)
	_, err = m.Save(ctx, s.ID)
	require.NoError(t, err)

	_, err = m.Open(ctx, "wf-1")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))

	require.NoError(t, m.Close(s.ID))
	_, err = m.Open(ctx, "wf-1")
	assert.NoError(t, err)
}

func TestOpen_UnknownWorkflow(t *testing.T) {
	_, err := NewManager(newTestStore(t)).Open(context.Background(), "ghost")
	assert.True(t, errors.Is(err, schema.ErrNotFound))
}

func TestClose_DiscardsEdits(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(t))

	s, err := m.Create(ctx, "wf-1", "")
	require.NoError(t, err)
	_, err = m.Save(ctx, s.ID)
	require.NoError(t, err)
	buildLinear(t, s)
	require.NoError(t, m.Close(s.ID))

	reopened, err := m.Open(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, reopened.Editor.Document().Nodes)

	_, err = m.Get(s.ID)
	assert.True(t, errors.Is(err, schema.ErrNotFound))
	assert.True(t, errors.Is(m.Close(s.ID), schema.ErrNotFound))
}

func TestList(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(t), WithIDGenerator(sequentialIDs()))

	a, err := m.Create(ctx, "wf-a", "")
	require.NoError(t, err)
	_, err = m.Create(ctx, "wf-b", "")
	require.NoError(t, err)
	buildLinear(t, a)

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "wf-a", infos[0].WorkflowID)
	assert.Equal(t, int64(5), infos[0].Revision)
	assert.Equal(t, int64(0), infos[1].Revision)
}

func TestStartInstance(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	proj := projector.New()
	m := NewManager(st,
		WithIDGenerator(sequentialIDs()),
		WithBinder(newBinder(t)),
		WithInstanceBinder(proj))

	s, err := m.Create(ctx, "wf-1", "Onboarding")
	require.NoError(t, err)
	buildLinear(t, s)

	inst, plan, err := m.StartInstance(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.True(t, plan.Runnable())
	assert.Equal(t, "wf-1", inst.WorkflowID)
	assert.Equal(t, int64(5), inst.Revision)

	stored, err := st.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Document.Nodes, 3)
	assert.Equal(t, "Onboarding", stored.Document.Name)

	_, err = st.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err, "starting an instance saves the workflow")

	tracked := proj.Instances("wf-1")
	require.Len(t, tracked, 1)
	assert.Equal(t, inst.ID, tracked[0].InstanceID)

	// Later edits do not leak into the frozen instance document.
	_, err = s.Editor.AddNode(schema.NodeKindAction, map[string]any{"action": "audit.log"}, schema.Position{})
	require.NoError(t, err)
	stored, err = st.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Document.Nodes, 3)
}

func TestStartInstance_RefusedWhenNotRunnable(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	proj := projector.New()
	m := NewManager(st, WithBinder(newBinder(t)), WithInstanceBinder(proj))

	s, err := m.Create(ctx, "wf-1", "")
	require.NoError(t, err)
	_, err = s.Editor.AddNode(schema.NodeKindStart, nil, schema.Position{})
	require.NoError(t, err)

	inst, plan, err := m.StartInstance(ctx, s.ID)
	require.Error(t, err)
	assert.Nil(t, inst)
	require.NotNil(t, plan)
	assert.False(t, plan.Runnable())
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
	assert.Empty(t, proj.Instances(""))

	_, err = st.GetWorkflow(ctx, "wf-1")
	assert.True(t, errors.Is(err, schema.ErrNotFound), "refused start saves nothing")
}
