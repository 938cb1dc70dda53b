// Package catalog holds the closed set of node kinds and the port contract
// each kind exposes. It carries no execution logic.
package catalog

import (
	"sort"

	"github.com/rendis/flowgraph/pkg/schema"
)

// Spec describes the fixed shape of a node kind.
type Spec struct {
	Kind schema.NodeKind
	// DisplayName is the default label given to new nodes.
	DisplayName string
	// MaxInstances bounds how many nodes of this kind a graph may hold.
	// Zero means unbounded.
	MaxInstances int
	// InputPorts is the number of input connection points (0 or 1).
	InputPorts int
	// OutputPorts lists the legal source port labels, in display order.
	OutputPorts []string
	// ExclusivePorts marks kinds whose output ports accept at most one edge each.
	ExclusivePorts bool
	// AllowsSelfEdge permits an edge whose source and target are this node.
	AllowsSelfEdge bool
	// DefaultConfig seeds a new node's configuration.
	DefaultConfig map[string]any
}

var specs = map[schema.NodeKind]Spec{
	schema.NodeKindStart: {
		Kind:         schema.NodeKindStart,
		DisplayName:  "Start",
		MaxInstances: 1,
		InputPorts:   0,
		OutputPorts:  []string{schema.PortOut},
	},
	schema.NodeKindEnd: {
		Kind:         schema.NodeKindEnd,
		DisplayName:  "End",
		MaxInstances: 1,
		InputPorts:   1,
	},
	schema.NodeKindAction: {
		Kind:        schema.NodeKindAction,
		DisplayName: "Action",
		InputPorts:  1,
		OutputPorts: []string{schema.PortOut},
		DefaultConfig: map[string]any{
			"action": "",
			"params": map[string]any{},
		},
	},
	schema.NodeKindCondition: {
		Kind:           schema.NodeKindCondition,
		DisplayName:    "Condition",
		InputPorts:     1,
		OutputPorts:    []string{schema.PortTrue, schema.PortFalse},
		ExclusivePorts: true,
		DefaultConfig: map[string]any{
			"expression": "",
		},
	},
	schema.NodeKindLoop: {
		Kind:           schema.NodeKindLoop,
		DisplayName:    "Loop",
		InputPorts:     1,
		OutputPorts:    []string{schema.PortOut},
		AllowsSelfEdge: true,
		DefaultConfig: map[string]any{
			"max_iterations": 10,
			"condition":      "",
		},
	},
	schema.NodeKindSubprocess: {
		Kind:        schema.NodeKindSubprocess,
		DisplayName: "Subprocess",
		InputPorts:  1,
		OutputPorts: []string{schema.PortOut},
		DefaultConfig: map[string]any{
			"workflow_id": "",
		},
	},
}

// Lookup returns the catalog entry for kind.
func Lookup(kind schema.NodeKind) (Spec, bool) {
	s, ok := specs[kind]
	return s, ok
}

// MustLookup returns the catalog entry for kind and panics for unknown kinds.
func MustLookup(kind schema.NodeKind) Spec {
	s, ok := specs[kind]
	if !ok {
		panic("catalog: unknown node kind " + string(kind))
	}
	return s
}

// Kinds returns every known kind in sorted order.
func Kinds() []schema.NodeKind {
	out := make([]schema.NodeKind, 0, len(specs))
	for k := range specs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasPort reports whether port is a legal output port of the kind.
func (s Spec) HasPort(port string) bool {
	for _, p := range s.OutputPorts {
		if p == port {
			return true
		}
	}
	return false
}

// AcceptsInput reports whether edges may target nodes of this kind.
func (s Spec) AcceptsInput() bool {
	return s.InputPorts > 0
}

// NewConfig returns a fresh copy of the default config overlaid with initial.
func (s Spec) NewConfig(initial map[string]any) map[string]any {
	cfg := schema.CloneConfig(s.DefaultConfig)
	if cfg == nil {
		cfg = make(map[string]any, len(initial))
	}
	for k, v := range schema.CloneConfig(initial) {
		cfg[k] = v
	}
	return cfg
}
