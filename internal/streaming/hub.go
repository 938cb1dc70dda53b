// Package streaming fans out graph and status events to live subscribers
// such as SSE clients.
package streaming

import "context"

// StreamEvent is a real-time event about a workflow graph or one of its
// running instances.
type StreamEvent struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	NodeID     string `json:"node_id,omitempty"`
	EventType  string `json:"event_type"`
	Payload    any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	WorkflowID string   `json:"workflow_id,omitempty"`
	InstanceID string   `json:"instance_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Publisher is the write half of a hub.
type Publisher interface {
	Publish(ctx context.Context, event StreamEvent) error
}

// EventHub provides pub/sub for real-time events.
type EventHub interface {
	Publisher
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
