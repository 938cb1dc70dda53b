package mcp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rendis/flowgraph/internal/streaming"
	"github.com/rendis/flowgraph/pkg/schema"
)

type watchKey struct {
	agentID    string
	instanceID string
}

// watcher forwards hub events of one instance to one agent. A watch ends
// when the instance is evicted or the base context is cancelled.
type watcher struct {
	ctx      context.Context
	hub      streaming.EventHub
	notifier AgentNotifier
	logger   *slog.Logger

	mu     sync.Mutex
	active map[watchKey]bool
	wg     sync.WaitGroup
}

func newWatcher(ctx context.Context, hub streaming.EventHub, notifier AgentNotifier, logger *slog.Logger) *watcher {
	return &watcher{
		ctx:      ctx,
		hub:      hub,
		notifier: notifier,
		logger:   logger,
		active:   make(map[watchKey]bool),
	}
}

// watch starts forwarding and reports false when the agent already watches
// the instance.
func (w *watcher) watch(agentID, instanceID string) (bool, error) {
	if w.hub == nil {
		return false, schema.NewError(schema.ErrCodeValidation, "event streaming is not configured")
	}
	key := watchKey{agentID: agentID, instanceID: instanceID}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active[key] {
		return false, nil
	}
	events, cancel, err := w.hub.Subscribe(w.ctx, streaming.EventFilter{InstanceID: instanceID})
	if err != nil {
		return false, err
	}
	w.active[key] = true
	w.wg.Add(1)
	go w.forward(key, events, cancel)
	return true, nil
}

func (w *watcher) forward(key watchKey, events <-chan streaming.StreamEvent, cancel func()) {
	defer w.wg.Done()
	defer func() {
		cancel()
		w.mu.Lock()
		delete(w.active, key)
		w.mu.Unlock()
	}()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload := map[string]any{
				"event_type":  ev.EventType,
				"workflow_id": ev.WorkflowID,
				"instance_id": ev.InstanceID,
				"node_id":     ev.NodeID,
				"data":        ev.Payload,
			}
			if err := w.notifier.Notify(w.ctx, key.agentID, payload); err != nil {
				w.logger.Warn("watch notification failed",
					slog.String("agent_id", key.agentID),
					slog.String("instance_id", key.instanceID),
					slog.String("error", err.Error()))
			}
			if ev.EventType == schema.EventInstanceEvicted {
				return
			}
		}
	}
}

// watching returns how many watches are live.
func (w *watcher) watching() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}

func (w *watcher) wait() {
	w.wg.Wait()
}
