package store

import (
	"context"
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	SaveWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Instances
	CreateInstance(ctx context.Context, inst *Instance) error
	GetInstance(ctx context.Context, id string) (*Instance, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*Instance, error)

	// Status events (append-only)
	AppendStatusEvent(ctx context.Context, ev schema.StatusEvent) error
	ListStatusEvents(ctx context.Context, instanceID string, since int64) ([]*StoredEvent, error)
	EventInstanceIDs(ctx context.Context) ([]string, error)
	PruneEvents(ctx context.Context, before time.Time) (int64, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

var _ Store = (*LibSQLStore)(nil)
