package projector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/internal/graph"
	"github.com/rendis/flowgraph/internal/metrics"
	"github.com/rendis/flowgraph/internal/streaming"
	"github.com/rendis/flowgraph/pkg/schema"
)

type memAppender struct {
	mu     sync.Mutex
	events []schema.StatusEvent
	err    error
}

func (a *memAppender) AppendStatusEvent(_ context.Context, ev schema.StatusEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.events = append(a.events, ev)
	return nil
}

func (a *memAppender) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestProjector_IngestAndRead(t *testing.T) {
	ctx := context.Background()
	app := &memAppender{}
	m := metrics.New(false)
	p := New(WithAppender(app), WithMetrics(m))
	require.NoError(t, p.Bind(ctx, "i1", "wf-1", nodeSet{"n1": true, "n2": true}))

	out := p.Ingest(ctx, ev("n1", schema.NodeStatusRunning, 5))
	require.True(t, out.Applied())
	out = p.Ingest(ctx, ev("n1", schema.NodeStatusCompleted, 3))
	assert.Equal(t, schema.AnomalyStaleEvent, out.Code)

	st, ok := p.Status("i1", "n1")
	require.True(t, ok)
	assert.Equal(t, schema.NodeStatusRunning, st.Status)

	st, ok = p.Status("i1", "n2")
	require.True(t, ok)
	assert.Equal(t, schema.NodeStatusIdle, st.Status, "unseen nodes are idle")

	_, ok = p.Status("nope", "n1")
	assert.False(t, ok)

	assert.Equal(t, 1, app.len(), "only applied events are persisted")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusEvents.WithLabelValues(OutcomeApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusEvents.WithLabelValues(schema.AnomalyStaleEvent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Instances))
}

func TestProjector_UnknownNodeIsAnomalyNotFailure(t *testing.T) {
	ctx := context.Background()
	p := New()
	require.NoError(t, p.Bind(ctx, "i1", "wf-1", nodeSet{"n1": true}))

	out := p.Ingest(ctx, ev("ghost", schema.NodeStatusRunning, 1))
	assert.Equal(t, schema.AnomalyUnknownNode, out.Code)

	anomalies := p.Anomalies("i1")
	require.Len(t, anomalies, 1)
	assert.Equal(t, schema.AnomalyUnknownNode, anomalies[0].Code)
	assert.Equal(t, "ghost", anomalies[0].Event.NodeID)

	snap, ok := p.Snapshot("i1")
	require.True(t, ok)
	assert.Empty(t, snap)
	assert.Empty(t, p.Anomalies("other"))
}

func TestProjector_MalformedAndDuplicate(t *testing.T) {
	ctx := context.Background()
	p := New()

	out := p.Ingest(ctx, schema.StatusEvent{NodeID: "n1", Status: schema.NodeStatusRunning})
	assert.Equal(t, schema.AnomalyMalformedEvent, out.Code)

	p.Ingest(ctx, ev("n1", schema.NodeStatusRunning, 1))
	out = p.Ingest(ctx, ev("n1", schema.NodeStatusRunning, 1))
	assert.Equal(t, schema.AnomalyDuplicateEvent, out.Code)

	all := p.Anomalies("")
	require.Len(t, all, 1, "duplicates are not recorded as anomalies")
	assert.Equal(t, schema.AnomalyMalformedEvent, all[0].Code)
}

func TestProjector_FrozenSnapshotIgnoresDraftEdits(t *testing.T) {
	ctx := context.Background()
	g := graph.New()
	_, err := g.InsertNode(&schema.Node{ID: "n1", Kind: schema.NodeKindAction})
	require.NoError(t, err)
	snap := graph.Freeze(g, 1)

	p := New()
	require.NoError(t, p.Bind(ctx, "i1", "wf-1", snap))

	_, _, err = g.RemoveNode("n1")
	require.NoError(t, err)

	out := p.Ingest(ctx, ev("n1", schema.NodeStatusRunning, 1))
	assert.True(t, out.Applied(), "the running instance still sees the frozen graph")
}

func TestProjector_BindConflict(t *testing.T) {
	ctx := context.Background()
	p := New()
	require.NoError(t, p.Bind(ctx, "i1", "wf-1", nil))
	require.NoError(t, p.Bind(ctx, "i1", "wf-1", nodeSet{"n": true}))

	err := p.Bind(ctx, "i1", "wf-2", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))

	assert.Error(t, p.Bind(ctx, "", "wf-1", nil))
}

func TestProjector_ResolverForUnboundInstances(t *testing.T) {
	ctx := context.Background()
	var calls int
	p := New(WithResolver(func(_ context.Context, id string) (string, graph.NodeLookup, bool) {
		calls++
		if id == "known" {
			return "wf-9", nodeSet{"n1": true}, true
		}
		return "", nil, false
	}))

	require.True(t, p.Ingest(ctx, schema.StatusEvent{
		NodeID: "n1", InstanceID: "known", Status: schema.NodeStatusRunning, Timestamp: at(1),
	}).Applied())
	assert.Equal(t, schema.AnomalyUnknownNode, p.Ingest(ctx, schema.StatusEvent{
		NodeID: "zz", InstanceID: "known", Status: schema.NodeStatusRunning, Timestamp: at(2),
	}).Code)
	assert.True(t, p.Ingest(ctx, schema.StatusEvent{
		NodeID: "zz", InstanceID: "minted-elsewhere", Status: schema.NodeStatusRunning, Timestamp: at(1),
	}).Applied(), "unresolved instances skip node checks")
	assert.Equal(t, 2, calls, "resolver runs once per tracked instance")

	infos := p.Instances("wf-9")
	require.Len(t, infos, 1)
	assert.Equal(t, "known", infos[0].InstanceID)
	assert.Len(t, p.Instances(""), 2)
}

func TestProjector_SubmitAndRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := streaming.NewMemoryHub()
	sub, unsub, err := hub.Subscribe(ctx, streaming.EventFilter{EventTypes: []string{schema.EventNodeStatusChanged}})
	require.NoError(t, err)
	defer unsub()

	p := New(WithPublisher(hub))
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.True(t, p.Submit(ev("n1", schema.NodeStatusRunning, 1)))

	select {
	case got := <-sub:
		assert.Equal(t, "i1", got.InstanceID)
		assert.Equal(t, "n1", got.NodeID)
		state, ok := got.Payload.(schema.NodeState)
		require.True(t, ok)
		assert.Equal(t, schema.NodeStatusRunning, state.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status event")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestProjector_SubmitNeverBlocks(t *testing.T) {
	m := metrics.New(false)
	p := New(WithInboxSize(2), WithMetrics(m))

	assert.True(t, p.Submit(ev("n", schema.NodeStatusRunning, 1)))
	assert.True(t, p.Submit(ev("n", schema.NodeStatusRunning, 2)))
	assert.False(t, p.Submit(ev("n", schema.NodeStatusRunning, 3)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusEvents.WithLabelValues(OutcomeDropped)))
}

func TestProjector_AppendFailureDoesNotFailIngest(t *testing.T) {
	app := &memAppender{err: errors.New("disk full")}
	p := New(WithAppender(app))
	out := p.Ingest(context.Background(), ev("n1", schema.NodeStatusRunning, 1))
	assert.True(t, out.Applied())
	st, _ := p.Status("i1", "n1")
	assert.Equal(t, schema.NodeStatusRunning, st.Status)
}

func TestProjector_Restore(t *testing.T) {
	ctx := context.Background()
	app := &memAppender{}
	p := New(WithAppender(app))
	require.NoError(t, p.Bind(ctx, "i1", "wf-1", nil))

	applied := p.Restore(ctx, "i1", []schema.StatusEvent{
		ev("a", schema.NodeStatusRunning, 1),
		ev("a", schema.NodeStatusCompleted, 2),
		ev("b", schema.NodeStatusRunning, 3),
		{NodeID: "x", InstanceID: "other", Status: schema.NodeStatusRunning, Timestamp: at(1)},
	})
	assert.Equal(t, 3, applied)
	assert.Zero(t, app.len(), "replayed events are not persisted again")

	snap, _ := p.Snapshot("i1")
	assert.Equal(t, schema.NodeStatusCompleted, snap.Status("a"))
	assert.Equal(t, schema.NodeStatusRunning, snap.Status("b"))

	edges, ok := p.EdgeStatuses("i1", []*schema.Edge{{ID: "ab", Source: "a", Target: "b"}})
	require.True(t, ok)
	assert.Equal(t, schema.EdgeStatusTraversed, edges["ab"])
}

func TestProjector_EvictFinished(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: t0}
	p := New(WithClock(clock.Now))

	p.Ingest(ctx, schema.StatusEvent{NodeID: "a", InstanceID: "done", Status: schema.NodeStatusCompleted, Timestamp: at(1)})
	p.Ingest(ctx, schema.StatusEvent{NodeID: "b", InstanceID: "done", Status: schema.NodeStatusStopped, Timestamp: at(1)})
	p.Ingest(ctx, schema.StatusEvent{NodeID: "a", InstanceID: "busy", Status: schema.NodeStatusRunning, Timestamp: at(1)})
	require.NoError(t, p.Bind(ctx, "empty", "wf", nil))

	assert.Empty(t, p.EvictFinished(ctx, time.Hour), "finished but too recent")

	clock.Advance(2 * time.Hour)
	assert.Equal(t, []string{"done", "empty"}, p.EvictFinished(ctx, time.Hour),
		"bound instances that never saw an event expire too")
	_, ok := p.Snapshot("done")
	assert.False(t, ok)
	assert.Len(t, p.Instances(""), 1)

	assert.True(t, p.Forget("busy"))
	assert.False(t, p.Forget("busy"))
}

func TestProjector_RejectedEventsDoNotTrackInstances(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: t0}
	m := metrics.New(false)
	p := New(WithClock(clock.Now), WithMetrics(m), WithResolver(func(_ context.Context, id string) (string, graph.NodeLookup, bool) {
		if id == "stored" {
			return "wf-1", nodeSet{"n1": true}, true
		}
		return "", nil, false
	}))

	for i := range 50 {
		out := p.Ingest(ctx, schema.StatusEvent{
			InstanceID: fmt.Sprintf("bogus-%d", i), NodeID: "n1", Status: "nonsense", Timestamp: at(1),
		})
		require.Equal(t, schema.AnomalyInvalidStatus, out.Code)
	}
	out := p.Ingest(ctx, schema.StatusEvent{InstanceID: "stored", NodeID: "ghost", Status: schema.NodeStatusRunning, Timestamp: at(1)})
	require.Equal(t, schema.AnomalyUnknownNode, out.Code)
	assert.Zero(t, p.Restore(ctx, "replayed", []schema.StatusEvent{
		{InstanceID: "replayed", NodeID: "n1", Status: "nonsense", Timestamp: at(1)},
	}))

	assert.Empty(t, p.Instances(""))
	_, ok := p.Snapshot("bogus-0")
	assert.False(t, ok)
	assert.Len(t, p.Anomalies(""), 51, "replayed events are not recorded as anomalies")

	clock.Advance(2 * time.Hour)
	assert.Empty(t, p.EvictFinished(ctx, time.Hour))
	assert.Zero(t, testutil.ToFloat64(m.Instances))
}

func TestProjector_EventAfterEvictionStartsOver(t *testing.T) {
	ctx := context.Background()
	p := New()
	require.NoError(t, p.Bind(ctx, "i1", "wf-1", nodeSet{"n1": true, "n2": true}))
	require.True(t, p.Ingest(ctx, ev("n1", schema.NodeStatusCompleted, 1)).Applied())

	// The instance is forgotten between lookup and apply.
	r := p.resolve(ctx, "i1")
	require.True(t, r.tracked)
	require.True(t, p.Forget("i1"))

	p.mu.Lock()
	inst := p.current("i1", r)
	p.mu.Unlock()
	assert.NotSame(t, r.inst, inst, "detached entry is not reused")
	assert.Equal(t, "wf-1", inst.workflowID)
	assert.Empty(t, inst.statuses)

	require.True(t, p.Ingest(ctx, ev("n2", schema.NodeStatusRunning, 2)).Applied())
	snap, ok := p.Snapshot("i1")
	require.True(t, ok)
	assert.Equal(t, schema.NodeStatusRunning, snap.Status("n2"))
	assert.Equal(t, schema.NodeStatusIdle, snap.Status("n1"))
	assert.Len(t, p.Instances(""), 1)
}

func TestProjector_AnomalyRingBounded(t *testing.T) {
	ctx := context.Background()
	p := New(WithAnomalyLimit(3))
	require.NoError(t, p.Bind(ctx, "i1", "wf", nodeSet{}))

	for _, node := range []string{"a", "b", "c", "d", "e"} {
		p.Ingest(ctx, ev(node, schema.NodeStatusRunning, 1))
	}
	all := p.Anomalies("")
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Event.NodeID)
	assert.Equal(t, "e", all[2].Event.NodeID)
}

// Status ingestion and graph editing share nothing but read access to node
// identities, so they can run side by side.
func TestProjector_ConcurrentIngest(t *testing.T) {
	ctx := context.Background()
	p := New()
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				p.Ingest(ctx, schema.StatusEvent{
					NodeID:     "n",
					InstanceID: "i1",
					Status:     schema.NodeStatusRunning,
					Timestamp:  at(w*100 + i),
				})
				p.Snapshot("i1")
			}
		}()
	}
	wg.Wait()

	st, ok := p.Status("i1", "n")
	require.True(t, ok)
	assert.Equal(t, at(799), st.UpdatedAt, "the newest timestamp wins regardless of arrival")
}
