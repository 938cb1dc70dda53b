// Package projector turns the unordered, at-least-once status event stream
// of an external orchestrator into a per-node status map for each running
// instance.
package projector

import (
	"fmt"
	"slices"

	"github.com/rendis/flowgraph/internal/graph"
	"github.com/rendis/flowgraph/pkg/schema"
)

// StatusMap holds the projected state of every node seen for one instance,
// keyed by node id. Nodes absent from the map are idle.
type StatusMap map[string]schema.NodeState

// Clone returns a shallow copy; NodeState values are immutable.
func (m StatusMap) Clone() StatusMap {
	cp := make(StatusMap, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// Status returns the node's status, idle when it has never been seen.
func (m StatusMap) Status(nodeID string) schema.NodeStatus {
	if s, ok := m[nodeID]; ok {
		return s.Status
	}
	return schema.NodeStatusIdle
}

// Outcome reports what the reducer did with one event. Code is empty when
// the event was applied and holds an anomaly code otherwise.
type Outcome struct {
	Code     string
	Message  string
	Previous schema.NodeStatus
	State    schema.NodeState
}

// Applied reports whether the event changed the status map.
func (o Outcome) Applied() bool { return o.Code == "" }

// Anomaly reports whether the outcome should be recorded as an anomaly.
// Duplicate deliveries are expected under at-least-once delivery and are
// not anomalies.
func (o Outcome) Anomaly() bool {
	return o.Code != "" && o.Code != schema.AnomalyDuplicateEvent
}

// validTransitions lists the forward moves of the node state machine.
// idle may jump straight to a terminal status because a running event can
// be lost or arrive after the terminal one. running -> running refreshes
// the timestamp and message.
var validTransitions = map[schema.NodeStatus][]schema.NodeStatus{
	schema.NodeStatusIdle: {
		schema.NodeStatusRunning,
		schema.NodeStatusCompleted,
		schema.NodeStatusError,
		schema.NodeStatusStopped,
	},
	schema.NodeStatusRunning: {
		schema.NodeStatusRunning,
		schema.NodeStatusCompleted,
		schema.NodeStatusError,
		schema.NodeStatusStopped,
	},
}

// IsValidTransition reports whether from -> to is a forward move.
func IsValidTransition(from, to schema.NodeStatus) bool {
	return slices.Contains(validTransitions[from], to)
}

// Reduce applies one event to m. It never mutates m: when the event is
// applied the returned map is a modified copy, otherwise it is m itself.
// lookup may be nil, in which case node membership is not checked.
func Reduce(m StatusMap, ev schema.StatusEvent, lookup graph.NodeLookup) (StatusMap, Outcome) {
	cur, seen := m[ev.NodeID]
	out := decide(cur, seen, ev, lookup)
	if !out.Applied() {
		return m, out
	}
	next := m.Clone()
	next[ev.NodeID] = out.State
	return next, out
}

// decide is the state machine shared by Reduce and the Projector. It
// orders checks so that an event is judged on identity first, then on
// time, then on the transition it would make.
func decide(cur schema.NodeState, seen bool, ev schema.StatusEvent, lookup graph.NodeLookup) Outcome {
	from := schema.NodeStatusIdle
	if seen {
		from = cur.Status
	}
	out := Outcome{Previous: from, State: cur}

	if !ev.Status.Valid() {
		out.Code = schema.AnomalyInvalidStatus
		out.Message = fmt.Sprintf("unknown status %q", ev.Status)
		return out
	}
	if lookup != nil && !lookup.HasNode(ev.NodeID) {
		out.Code = schema.AnomalyUnknownNode
		out.Message = fmt.Sprintf("node %q is not part of the instance graph", ev.NodeID)
		return out
	}
	if seen && ev.Timestamp.Before(cur.UpdatedAt) {
		out.Code = schema.AnomalyStaleEvent
		out.Message = fmt.Sprintf("event at %s is older than recorded %s", ev.Timestamp.Format(timeLayout), cur.UpdatedAt.Format(timeLayout))
		return out
	}
	sameTime := seen && ev.Timestamp.Equal(cur.UpdatedAt)
	if ev.Status == from && (sameTime || from != schema.NodeStatusRunning) {
		out.Code = schema.AnomalyDuplicateEvent
		out.Message = fmt.Sprintf("node already %s", from)
		return out
	}
	if !IsValidTransition(from, ev.Status) {
		out.Code = schema.AnomalyInvalidTransition
		out.Message = fmt.Sprintf("invalid transition %s -> %s", from, ev.Status)
		return out
	}

	out.State = schema.NodeState{
		Status:    ev.Status,
		UpdatedAt: ev.Timestamp,
		Message:   ev.Message,
	}
	return out
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"
