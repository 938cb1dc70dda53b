package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowgraph/internal/adapters/redis"
	"github.com/rendis/flowgraph/internal/projector"
	"github.com/rendis/flowgraph/pkg/schema"
)

type recordingSink struct {
	mu     sync.Mutex
	events []schema.StatusEvent
}

func (s *recordingSink) Submit(ev schema.StatusEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

func (s *recordingSink) snapshot() []schema.StatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.StatusEvent(nil), s.events...)
}

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Transport) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	tr := redis.NewFromClient(client, redis.WithChannel("test:status"))
	t.Cleanup(func() { _ = tr.Close() })
	return mr, tr
}

// start runs the transport in the background and waits for the subscription.
func start(t *testing.T, mr *miniredis.Miniredis, tr *redis.Transport, sink redis.Sink) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, sink) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(tr.Channel())[tr.Channel()] == 1
	}, 2*time.Second, 10*time.Millisecond)
	return cancel
}

func TestTransport_PublishAndReceive(t *testing.T) {
	mr, tr := setup(t)
	sink := &recordingSink{}
	start(t, mr, tr, sink)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, tr.Publish(context.Background(), schema.StatusEvent{
		InstanceID: "inst-1",
		NodeID:     "a1",
		Status:     schema.NodeStatusRunning,
		Timestamp:  ts,
	}))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := sink.snapshot()[0]
	assert.Equal(t, "inst-1", got.InstanceID)
	assert.Equal(t, schema.NodeStatusRunning, got.Status)
	assert.True(t, ts.Equal(got.Timestamp))
}

func TestTransport_SkipsUndecodable(t *testing.T) {
	mr, tr := setup(t)
	sink := &recordingSink{}
	start(t, mr, tr, sink)

	mr.Publish(tr.Channel(), "not json")
	mr.Publish(tr.Channel(), `{"instance_id":"inst-1","node_id":"a1","status":"completed","timestamp":"2026-03-01T12:00:00Z"}`)

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, schema.NodeStatusCompleted, sink.snapshot()[0].Status)
}

func TestTransport_FeedsProjector(t *testing.T) {
	mr, tr := setup(t)
	p := projector.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()
	start(t, mr, tr, p)

	require.NoError(t, tr.Publish(context.Background(), schema.StatusEvent{
		InstanceID: "inst-9",
		NodeID:     "a1",
		Status:     schema.NodeStatusRunning,
		Timestamp:  time.Now(),
	}))

	require.Eventually(t, func() bool {
		st, ok := p.Status("inst-9", "a1")
		return ok && st.Status == schema.NodeStatusRunning
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTransport_StopsOnCancel(t *testing.T) {
	mr, tr := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, &recordingSink{}) }()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(tr.Channel())[tr.Channel()] == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("transport did not stop")
	}
}

func TestTransport_ConsumeResubscribes(t *testing.T) {
	mr, tr := setup(t)
	mr.Close()
	tr2 := redis.NewFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr()}),
		redis.WithChannel(tr.Channel()),
		redis.WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	t.Cleanup(func() { _ = tr2.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	sink := &recordingSink{}
	go func() { done <- tr2.Consume(ctx, sink) }()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, mr.Restart())
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(tr2.Channel())[tr2.Channel()] == 1
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, tr2.Publish(context.Background(), schema.StatusEvent{
		InstanceID: "inst-1", NodeID: "a1", Status: schema.NodeStatusRunning, Timestamp: time.Now(),
	}))
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not stop")
	}
}
