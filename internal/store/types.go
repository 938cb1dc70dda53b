package store

import (
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
)

// Workflow is a saved graph document.
type Workflow struct {
	ID        string                `json:"id"`
	Name      string                `json:"name,omitempty"`
	Revision  int64                 `json:"revision"`
	Document  *schema.GraphDocument `json:"document"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Instance is a running execution bound to a frozen copy of a workflow graph.
type Instance struct {
	ID         string                `json:"id"`
	WorkflowID string                `json:"workflow_id"`
	Revision   int64                 `json:"revision"`
	Document   *schema.GraphDocument `json:"document"`
	CreatedAt  time.Time             `json:"created_at"`
}

// StoredEvent is an applied status event as recorded in the log.
type StoredEvent struct {
	ID         int64              `json:"id"`
	Event      schema.StatusEvent `json:"event"`
	ReceivedAt time.Time          `json:"received_at"`
	Sequence   int64              `json:"sequence"`
}

// --- Filter types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	Name   string `json:"name,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// InstanceFilter specifies criteria for listing instances.
type InstanceFilter struct {
	WorkflowID string     `json:"workflow_id,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}
