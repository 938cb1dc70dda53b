package binding

import (
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
)

// ActionConfig binds an action node to a concrete runtime action.
type ActionConfig struct {
	Action  string         `mapstructure:"action" json:"action"`
	Params  map[string]any `mapstructure:"params" json:"params,omitempty"`
	Output  string         `mapstructure:"output" json:"output,omitempty"`
	Retries int            `mapstructure:"retries" json:"retries,omitempty"`
	Timeout time.Duration  `mapstructure:"timeout" json:"timeout,omitempty"`
}

// ConditionConfig holds the CEL predicate that selects the true or false port.
type ConditionConfig struct {
	Expression string `mapstructure:"expression" json:"expression"`
}

// LoopConfig bounds a loop body. A zero MaxIterations means the loop runs
// until Condition is false.
type LoopConfig struct {
	MaxIterations int    `mapstructure:"max_iterations" json:"max_iterations"`
	Condition     string `mapstructure:"condition" json:"condition,omitempty"`
}

// SubprocessConfig references another saved workflow.
type SubprocessConfig struct {
	WorkflowID string         `mapstructure:"workflow_id" json:"workflow_id"`
	Inputs     map[string]any `mapstructure:"inputs" json:"inputs,omitempty"`
}

// configSchemas are the JSON Schemas each kind's raw config must satisfy
// before it is decoded. Start and end nodes take no config.
var configSchemas = map[schema.NodeKind]string{
	schema.NodeKindAction: `{
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": { "type": "string", "minLength": 1, "pattern": "^[a-z][a-z0-9_]*(\\.[a-z][a-z0-9_]*)*$" },
    "params": { "type": ["object", "null"] },
    "output": { "type": "string" },
    "retries": { "type": "integer", "minimum": 0, "maximum": 10 },
    "timeout": { "type": "string", "pattern": "^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$" }
  }
}`,
	schema.NodeKindCondition: `{
  "type": "object",
  "required": ["expression"],
  "properties": {
    "expression": { "type": "string", "minLength": 1 }
  }
}`,
	schema.NodeKindLoop: `{
  "type": "object",
  "properties": {
    "max_iterations": { "type": "integer", "minimum": 0 },
    "condition": { "type": "string" }
  }
}`,
	schema.NodeKindSubprocess: `{
  "type": "object",
  "required": ["workflow_id"],
  "properties": {
    "workflow_id": { "type": "string", "minLength": 1 },
    "inputs": { "type": ["object", "null"] }
  }
}`,
}

// ConfigSchema returns the JSON Schema text for kind, or "" when the kind
// takes no config.
func ConfigSchema(kind schema.NodeKind) string {
	return configSchemas[kind]
}
