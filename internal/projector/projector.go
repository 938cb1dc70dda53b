package projector

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rendis/flowgraph/internal/graph"
	"github.com/rendis/flowgraph/internal/logging"
	"github.com/rendis/flowgraph/internal/metrics"
	"github.com/rendis/flowgraph/internal/streaming"
	"github.com/rendis/flowgraph/pkg/schema"
)

const (
	defaultInboxSize    = 1024
	defaultAnomalyLimit = 256
)

// Metric outcome labels for events that were applied or dropped at the inbox.
const (
	OutcomeApplied = "applied"
	OutcomeDropped = "dropped"
)

// EventAppender persists applied status events. Satisfied by the store.
type EventAppender interface {
	AppendStatusEvent(ctx context.Context, ev schema.StatusEvent) error
}

// Resolver finds the workflow and node lookup for an instance the projector
// has not been told about. ok is false when the instance is unknown; such
// instances are still tracked, without node membership checks.
type Resolver func(ctx context.Context, instanceID string) (workflowID string, lookup graph.NodeLookup, ok bool)

// InstanceInfo summarizes one tracked instance.
type InstanceInfo struct {
	InstanceID  string    `json:"instance_id"`
	WorkflowID  string    `json:"workflow_id,omitempty"`
	BoundAt     time.Time `json:"bound_at"`
	LastEventAt time.Time `json:"last_event_at,omitempty"`
	Nodes       int       `json:"nodes"`
	Finished    bool      `json:"finished"`
}

type instance struct {
	workflowID string
	lookup     graph.NodeLookup
	statuses   StatusMap
	boundAt    time.Time
	lastEvent  time.Time
}

// finished reports whether every tracked node is terminal. An instance with
// no tracked nodes is not finished.
func (i *instance) finished() bool {
	if len(i.statuses) == 0 {
		return false
	}
	for _, s := range i.statuses {
		if !s.Status.Terminal() {
			return false
		}
	}
	return true
}

// expired reports whether the retention sweep may drop the instance: it is
// finished and quiet since cutoff, or it was bound before cutoff and never
// received an applied event.
func (i *instance) expired(cutoff time.Time) bool {
	if len(i.statuses) == 0 {
		return i.boundAt.Before(cutoff)
	}
	return i.finished() && i.lastEvent.Before(cutoff)
}

// Projector ingests status events concurrently with editing. It never holds
// an editor lock: node membership is answered by each instance's lookup,
// usually a frozen graph snapshot.
type Projector struct {
	mu        sync.RWMutex
	instances map[string]*instance
	anomalies *ring

	inbox     chan schema.StatusEvent
	resolver  Resolver
	appender  EventAppender
	publisher streaming.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	inboxSize    int
	anomalyLimit int
}

// Option configures a Projector.
type Option func(*Projector)

// WithResolver sets the fallback used for events of unbound instances.
func WithResolver(r Resolver) Option {
	return func(p *Projector) { p.resolver = r }
}

// WithAppender persists every applied event.
func WithAppender(a EventAppender) Option {
	return func(p *Projector) { p.appender = a }
}

// WithPublisher fans applied events and anomalies out to live subscribers.
func WithPublisher(pub streaming.Publisher) Option {
	return func(p *Projector) { p.publisher = pub }
}

// WithMetrics records event outcomes and the tracked-instance gauge.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Projector) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Projector) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithInboxSize sets the capacity of the Submit buffer.
func WithInboxSize(n int) Option {
	return func(p *Projector) {
		if n > 0 {
			p.inboxSize = n
		}
	}
}

// WithAnomalyLimit sets how many recent anomalies are retained.
func WithAnomalyLimit(n int) Option {
	return func(p *Projector) {
		if n > 0 {
			p.anomalyLimit = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Projector) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a Projector.
func New(opts ...Option) *Projector {
	p := &Projector{
		instances:    make(map[string]*instance),
		logger:       logging.NewNop(),
		now:          time.Now,
		inboxSize:    defaultInboxSize,
		anomalyLimit: defaultAnomalyLimit,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.inbox = make(chan schema.StatusEvent, p.inboxSize)
	p.anomalies = newRing(p.anomalyLimit)
	return p
}

// --- Instance management ---

// Bind registers an instance with the workflow it runs and the lookup that
// answers node membership. Rebinding an instance to the same workflow
// replaces its lookup and keeps its statuses; binding it to a different
// workflow is a conflict.
func (p *Projector) Bind(ctx context.Context, instanceID, workflowID string, lookup graph.NodeLookup) error {
	if instanceID == "" {
		return schema.NewError(schema.ErrCodeValidation, "instance id is required")
	}

	p.mu.Lock()
	inst, ok := p.instances[instanceID]
	if ok && inst.workflowID != "" && inst.workflowID != workflowID {
		p.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict, "instance %q is bound to workflow %q", instanceID, inst.workflowID).
			WithDetails(map[string]any{"instance_id": instanceID, "workflow_id": inst.workflowID})
	}
	if !ok {
		inst = &instance{statuses: make(StatusMap), boundAt: p.now()}
		p.instances[instanceID] = inst
	}
	inst.workflowID = workflowID
	inst.lookup = lookup
	count := len(p.instances)
	p.mu.Unlock()

	p.metrics.SetInstances(count)
	ctx = logging.WithIDs(ctx, workflowID, instanceID, "")
	p.logger.InfoContext(ctx, "instance bound")
	p.publish(ctx, streaming.StreamEvent{
		WorkflowID: workflowID,
		InstanceID: instanceID,
		EventType:  schema.EventInstanceBound,
	})
	return nil
}

// Forget drops an instance and its statuses.
func (p *Projector) Forget(instanceID string) bool {
	p.mu.Lock()
	inst, ok := p.instances[instanceID]
	delete(p.instances, instanceID)
	count := len(p.instances)
	p.mu.Unlock()

	if ok {
		p.metrics.SetInstances(count)
		p.publish(context.Background(), streaming.StreamEvent{
			WorkflowID: inst.workflowID,
			InstanceID: instanceID,
			EventType:  schema.EventInstanceEvicted,
		})
	}
	return ok
}

// EvictFinished forgets instances whose tracked nodes are all terminal and
// that have received no event for olderThan, along with instances bound
// longer than olderThan ago that never saw an applied event. It returns the
// evicted ids in sorted order.
func (p *Projector) EvictFinished(ctx context.Context, olderThan time.Duration) []string {
	cutoff := p.now().Add(-olderThan)

	p.mu.Lock()
	var evicted []string
	workflows := make(map[string]string)
	for id, inst := range p.instances {
		if inst.expired(cutoff) {
			evicted = append(evicted, id)
			workflows[id] = inst.workflowID
			delete(p.instances, id)
		}
	}
	count := len(p.instances)
	p.mu.Unlock()

	sort.Strings(evicted)
	p.metrics.SetInstances(count)
	for _, id := range evicted {
		p.logger.InfoContext(logging.WithIDs(ctx, workflows[id], id, ""), "instance evicted")
		p.publish(ctx, streaming.StreamEvent{
			WorkflowID: workflows[id],
			InstanceID: id,
			EventType:  schema.EventInstanceEvicted,
		})
	}
	return evicted
}

// --- Ingestion ---

// Submit queues an event without blocking. It returns false when the inbox
// is full and the event was dropped.
func (p *Projector) Submit(ev schema.StatusEvent) bool {
	select {
	case p.inbox <- ev:
		return true
	default:
		p.metrics.ObserveStatusEvent(OutcomeDropped)
		p.logger.Warn("status inbox full, event dropped",
			slog.String("instance_id", ev.InstanceID),
			slog.String("node_id", ev.NodeID))
		return false
	}
}

// Run consumes submitted events until ctx is done.
func (p *Projector) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-p.inbox:
			p.Ingest(ctx, ev)
		}
	}
}

// Ingest applies one event synchronously and performs its side effects:
// persistence and fan-out for applied events, recording for anomalies.
func (p *Projector) Ingest(ctx context.Context, ev schema.StatusEvent) Outcome {
	ctx = logging.WithIDs(ctx, "", ev.InstanceID, ev.NodeID)
	if ev.InstanceID == "" || ev.NodeID == "" {
		out := Outcome{Code: schema.AnomalyMalformedEvent, Message: "event needs a node id and an instance id"}
		p.recordAnomaly(ctx, "", ev, out)
		return out
	}

	r := p.resolve(ctx, ev.InstanceID)

	p.mu.Lock()
	inst := p.current(ev.InstanceID, r)
	cur, seen := inst.statuses[ev.NodeID]
	out := decide(cur, seen, ev, inst.lookup)
	attached := false
	if out.Applied() {
		inst.statuses[ev.NodeID] = out.State
		inst.lastEvent = p.now()
		attached = p.attach(ev.InstanceID, inst)
	}
	workflowID := inst.workflowID
	count := len(p.instances)
	p.mu.Unlock()

	if attached {
		p.metrics.SetInstances(count)
	}
	if !out.Applied() {
		p.recordAnomaly(ctx, workflowID, ev, out)
		return out
	}

	p.metrics.ObserveStatusEvent(OutcomeApplied)
	p.logger.DebugContext(ctx, "node status changed",
		slog.String("from", string(out.Previous)),
		slog.String("to", string(out.State.Status)))
	if p.appender != nil {
		if err := p.appender.AppendStatusEvent(ctx, ev); err != nil {
			p.logger.ErrorContext(ctx, "persist status event failed", slog.String("error", err.Error()))
		}
	}
	p.publish(ctx, streaming.StreamEvent{
		WorkflowID: workflowID,
		InstanceID: ev.InstanceID,
		NodeID:     ev.NodeID,
		EventType:  schema.EventNodeStatusChanged,
		Payload:    out.State,
	})
	return out
}

// Restore replays persisted events for an instance through the reducer
// without persisting or publishing them again. It returns how many were
// applied.
func (p *Projector) Restore(ctx context.Context, instanceID string, events []schema.StatusEvent) int {
	r := p.resolve(ctx, instanceID)

	p.mu.Lock()
	inst := p.current(instanceID, r)
	applied := 0
	for _, ev := range events {
		if ev.InstanceID != instanceID {
			continue
		}
		cur, seen := inst.statuses[ev.NodeID]
		out := decide(cur, seen, ev, inst.lookup)
		if out.Applied() {
			inst.statuses[ev.NodeID] = out.State
			applied++
		}
	}
	attached := false
	if applied > 0 {
		inst.lastEvent = p.now()
		attached = p.attach(instanceID, inst)
	}
	count := len(p.instances)
	p.mu.Unlock()

	if attached {
		p.metrics.SetInstances(count)
	}
	return applied
}

// resolved is the outcome of looking an instance up before taking the write
// lock. tracked is false for an instance built from the resolver that is not
// in the map yet.
type resolved struct {
	inst    *instance
	tracked bool
}

// resolve finds the tracked instance or builds an untracked one through the
// resolver. Nothing is inserted: an instance is only tracked once it is bound
// or an event for it is applied.
func (p *Projector) resolve(ctx context.Context, id string) resolved {
	p.mu.RLock()
	inst, ok := p.instances[id]
	p.mu.RUnlock()
	if ok {
		return resolved{inst: inst, tracked: true}
	}

	var (
		workflowID string
		lookup     graph.NodeLookup
	)
	if p.resolver != nil {
		if wf, lk, found := p.resolver(ctx, id); found {
			workflowID, lookup = wf, lk
		}
	}
	if lookup == nil {
		p.logger.DebugContext(ctx, "unbound instance has no node checks")
	}
	return resolved{inst: &instance{
		workflowID: workflowID,
		lookup:     lookup,
		statuses:   make(StatusMap),
		boundAt:    p.now(),
	}}
}

// current returns the live entry for id. An instance evicted after resolve
// returned it starts over with the same binding instead of mutating the
// detached copy. Callers hold p.mu.
func (p *Projector) current(id string, r resolved) *instance {
	if inst, ok := p.instances[id]; ok {
		return inst
	}
	if !r.tracked {
		return r.inst
	}
	return &instance{
		workflowID: r.inst.workflowID,
		lookup:     r.inst.lookup,
		statuses:   make(StatusMap),
		boundAt:    p.now(),
	}
}

// attach tracks inst under id when it is not tracked yet and reports whether
// it did. Callers hold p.mu.
func (p *Projector) attach(id string, inst *instance) bool {
	if p.instances[id] == inst {
		return false
	}
	p.instances[id] = inst
	return true
}

func (p *Projector) recordAnomaly(ctx context.Context, workflowID string, ev schema.StatusEvent, out Outcome) {
	p.metrics.ObserveStatusEvent(out.Code)
	if !out.Anomaly() {
		p.logger.DebugContext(ctx, "duplicate status event ignored", slog.String("status", string(ev.Status)))
		return
	}
	a := schema.StatusAnomaly{
		Code:       out.Code,
		Event:      ev,
		Current:    out.Previous,
		Message:    out.Message,
		RecordedAt: p.now(),
	}
	p.mu.Lock()
	p.anomalies.push(a)
	p.mu.Unlock()

	p.logger.WarnContext(ctx, "status event anomaly",
		slog.String("code", out.Code),
		slog.String("status", string(ev.Status)),
		slog.String("message", out.Message))
	p.publish(ctx, streaming.StreamEvent{
		WorkflowID: workflowID,
		InstanceID: ev.InstanceID,
		NodeID:     ev.NodeID,
		EventType:  schema.EventStatusAnomaly,
		Payload:    a,
	})
}

func (p *Projector) publish(ctx context.Context, ev streaming.StreamEvent) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		p.logger.WarnContext(ctx, "publish failed", slog.String("event_type", ev.EventType), slog.String("error", err.Error()))
	}
}

// --- Reads ---

// Status returns the state of a node in an instance. Unseen nodes of a
// tracked instance are idle; ok is false only for unknown instances.
func (p *Projector) Status(instanceID, nodeID string) (schema.NodeState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.instances[instanceID]
	if !ok {
		return schema.NodeState{}, false
	}
	if s, seen := inst.statuses[nodeID]; seen {
		return s, true
	}
	return schema.NodeState{Status: schema.NodeStatusIdle}, true
}

// Snapshot returns a copy of an instance's status map.
func (p *Projector) Snapshot(instanceID string) (StatusMap, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.instances[instanceID]
	if !ok {
		return nil, false
	}
	return inst.statuses.Clone(), true
}

// EdgeStatuses derives edge states for an instance from its status map.
func (p *Projector) EdgeStatuses(instanceID string, edges []*schema.Edge) (map[string]schema.EdgeStatus, bool) {
	m, ok := p.Snapshot(instanceID)
	if !ok {
		return nil, false
	}
	return EdgeStatuses(m, edges), true
}

// Instances lists tracked instances sorted by id, optionally restricted to
// one workflow.
func (p *Projector) Instances(workflowID string) []InstanceInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]InstanceInfo, 0, len(p.instances))
	for id, inst := range p.instances {
		if workflowID != "" && inst.workflowID != workflowID {
			continue
		}
		out = append(out, InstanceInfo{
			InstanceID:  id,
			WorkflowID:  inst.workflowID,
			BoundAt:     inst.boundAt,
			LastEventAt: inst.lastEvent,
			Nodes:       len(inst.statuses),
			Finished:    inst.finished(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

// Anomalies returns recent anomalies oldest first, optionally restricted to
// one instance.
func (p *Projector) Anomalies(instanceID string) []schema.StatusAnomaly {
	p.mu.RLock()
	all := p.anomalies.items()
	p.mu.RUnlock()
	if instanceID == "" {
		return all
	}
	out := make([]schema.StatusAnomaly, 0, len(all))
	for _, a := range all {
		if a.Event.InstanceID == instanceID {
			out = append(out, a)
		}
	}
	return out
}
