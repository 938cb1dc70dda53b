package schema

import "time"

// Stream event type constants.
const (
	EventNodeStatusChanged = "node_status_changed"
	EventStatusAnomaly     = "status_anomaly"
	EventGraphMutated      = "graph_mutated"
	EventInstanceBound     = "instance_bound"
	EventInstanceEvicted   = "instance_evicted"
)

// NodeStatus represents the runtime state of a node within one instance.
type NodeStatus string

const (
	NodeStatusIdle      NodeStatus = "idle"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusError     NodeStatus = "error"
	NodeStatusStopped   NodeStatus = "stopped"
)

// Valid reports whether s is one of the known statuses.
func (s NodeStatus) Valid() bool {
	switch s {
	case NodeStatusIdle, NodeStatusRunning, NodeStatusCompleted, NodeStatusError, NodeStatusStopped:
		return true
	}
	return false
}

// Terminal reports whether s ends a node's lifecycle for an instance.
func (s NodeStatus) Terminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusError || s == NodeStatusStopped
}

// StatusEvent is emitted by an external orchestrator whenever a node of a
// running instance changes status.
type StatusEvent struct {
	NodeID     string     `json:"node_id"`
	InstanceID string     `json:"instance_id"`
	Status     NodeStatus `json:"status"`
	Timestamp  time.Time  `json:"timestamp"`
	Message    string     `json:"message,omitempty"`
}

// EdgeStatus is the derived visual state of an edge for one instance.
type EdgeStatus string

const (
	EdgeStatusIdle      EdgeStatus = "idle"
	EdgeStatusActive    EdgeStatus = "active"
	EdgeStatusTraversed EdgeStatus = "traversed"
)

// NodeState is the projected status of one node within one instance.
type NodeState struct {
	Status    NodeStatus `json:"status"`
	UpdatedAt time.Time  `json:"updated_at"`
	Message   string     `json:"message,omitempty"`
}

// Status event anomaly codes. Anomalies are recorded and logged; they never
// fail ingestion.
const (
	AnomalyUnknownNode       = "UNKNOWN_NODE"
	AnomalyStaleEvent        = "STALE_EVENT"
	AnomalyDuplicateEvent    = "DUPLICATE_EVENT"
	AnomalyInvalidTransition = "INVALID_TRANSITION"
	AnomalyInvalidStatus     = "INVALID_STATUS"
	AnomalyMalformedEvent    = "MALFORMED_EVENT"
)

// StatusAnomaly describes a status event the projector did not apply.
type StatusAnomaly struct {
	Code       string      `json:"code"`
	Event      StatusEvent `json:"event"`
	Current    NodeStatus  `json:"current,omitempty"`
	Message    string      `json:"message"`
	RecordedAt time.Time   `json:"recorded_at"`
}
