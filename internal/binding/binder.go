// Package binding turns a validated graph document into the contract a
// runtime executes: typed per-node configs plus a successor map. Binding also
// reports config and expression problems that structural validation does not
// look at.
package binding

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/rendis/flowgraph/internal/expressions"
	"github.com/rendis/flowgraph/internal/validation"
	"github.com/rendis/flowgraph/pkg/schema"
)

// BoundNode is a node with its config decoded into the kind's typed struct.
// Config is nil for start and end nodes.
type BoundNode struct {
	ID     string          `json:"id"`
	Kind   schema.NodeKind `json:"kind"`
	Label  string          `json:"label,omitempty"`
	Config any             `json:"config,omitempty"`
}

// Successor is one outgoing edge as the runtime sees it.
type Successor struct {
	EdgeID string `json:"edge_id"`
	Port   string `json:"port"`
	Target string `json:"target"`
}

// Plan is the bound form of a document.
type Plan struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	Revision   int64                   `json:"revision"`
	Start      string                  `json:"start,omitempty"`
	Nodes      map[string]*BoundNode   `json:"nodes"`
	Successors map[string][]Successor  `json:"successors"`
	Result     *schema.ValidationResult `json:"result"`
}

// Runnable reports whether the plan may be handed to a runtime.
func (p *Plan) Runnable() bool { return p.Result.Valid() }

// Err returns a VALIDATION_ERROR describing why the plan cannot run, or nil.
func (p *Plan) Err() error { return p.Result.ToError() }

// WorkflowExists reports whether a subprocess target can be resolved.
type WorkflowExists func(id string) bool

// Option configures a Binder.
type Option func(*Binder)

// WithWorkflowExists enables subprocess target checks.
func WithWorkflowExists(fn WorkflowExists) Option {
	return func(b *Binder) { b.workflowExists = fn }
}

// WithLogger sets the logger used for binding summaries.
func WithLogger(l *slog.Logger) Option {
	return func(b *Binder) { b.logger = l }
}

// Binder binds documents. It is safe for concurrent use.
type Binder struct {
	schemas        *validation.SchemaValidator
	exprs          *expressions.Set
	workflowExists WorkflowExists
	logger         *slog.Logger
}

// New creates a Binder.
func New(schemas *validation.SchemaValidator, exprs *expressions.Set, opts ...Option) *Binder {
	b := &Binder{
		schemas: schemas,
		exprs:   exprs,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bind validates doc structurally, checks and decodes every node config and
// builds the successor map. Nodes whose config fails are still listed with a
// nil Config so callers can render them.
func (b *Binder) Bind(doc *schema.GraphDocument) *Plan {
	result := validation.Validate(doc)
	plan := &Plan{
		WorkflowID: doc.ID,
		Revision:   doc.Revision,
		Nodes:      make(map[string]*BoundNode, len(doc.Nodes)),
		Successors: make(map[string][]Successor),
		Result:     result,
	}

	seen := make(map[string]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n == nil || seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		bn := &BoundNode{ID: n.ID, Kind: n.Kind, Label: n.Label}
		plan.Nodes[n.ID] = bn
		if n.Kind == schema.NodeKindStart && plan.Start == "" {
			plan.Start = n.ID
		}
		cfg, issues := b.bindConfig(n)
		bn.Config = cfg
		for _, issue := range issues {
			result.Add(issue)
		}
	}

	for _, e := range doc.Edges {
		if e == nil || !seen[e.Source] || !seen[e.Target] {
			continue
		}
		plan.Successors[e.Source] = append(plan.Successors[e.Source], Successor{
			EdgeID: e.ID,
			Port:   e.Port(),
			Target: e.Target,
		})
	}
	for _, list := range plan.Successors {
		sort.Slice(list, func(i, j int) bool {
			if list[i].Port != list[j].Port {
				return list[i].Port < list[j].Port
			}
			return list[i].EdgeID < list[j].EdgeID
		})
	}

	validation.SortResult(result)
	b.logger.Debug("graph bound",
		"workflow_id", doc.ID,
		"nodes", len(plan.Nodes),
		"errors", len(result.Errors),
		"warnings", len(result.Warnings))
	return plan
}

func (b *Binder) bindConfig(n *schema.Node) (any, []schema.ValidationIssue) {
	raw := ConfigSchema(n.Kind)
	if raw == "" {
		return nil, nil
	}
	cfg := n.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	if err := b.schemas.ValidateValue(cfg, []byte(raw)); err != nil {
		return nil, []schema.ValidationIssue{configIssue(n.ID, err)}
	}

	var issues []schema.ValidationIssue
	switch n.Kind {
	case schema.NodeKindAction:
		var out ActionConfig
		if err := decode(cfg, &out); err != nil {
			return nil, []schema.ValidationIssue{configIssue(n.ID, err)}
		}
		if out.Output != "" {
			issues = b.checkExpr(issues, n.ID, expressions.LanguageJQ, out.Output)
		}
		return &out, issues
	case schema.NodeKindCondition:
		var out ConditionConfig
		if err := decode(cfg, &out); err != nil {
			return nil, []schema.ValidationIssue{configIssue(n.ID, err)}
		}
		issues = b.checkExpr(issues, n.ID, expressions.LanguageCEL, out.Expression)
		return &out, issues
	case schema.NodeKindLoop:
		var out LoopConfig
		if err := decode(cfg, &out); err != nil {
			return nil, []schema.ValidationIssue{configIssue(n.ID, err)}
		}
		if out.Condition != "" {
			issues = b.checkExpr(issues, n.ID, expressions.LanguageExpr, out.Condition)
		}
		return &out, issues
	case schema.NodeKindSubprocess:
		var out SubprocessConfig
		if err := decode(cfg, &out); err != nil {
			return nil, []schema.ValidationIssue{configIssue(n.ID, err)}
		}
		if b.workflowExists != nil && !b.workflowExists(out.WorkflowID) {
			issues = append(issues, schema.ValidationIssue{
				Severity: schema.SeverityError,
				NodeID:   n.ID,
				Code:     schema.IssueInvalidConfig,
				Message:  fmt.Sprintf("subprocess %q references unknown workflow %q", n.ID, out.WorkflowID),
			})
		}
		return &out, issues
	}
	return nil, nil
}

func (b *Binder) checkExpr(issues []schema.ValidationIssue, nodeID string, lang expressions.Language, expression string) []schema.ValidationIssue {
	if err := b.exprs.Check(lang, expression); err != nil {
		msg := err.Error()
		var fe *schema.FlowError
		if errors.As(err, &fe) {
			msg = fe.Message
		}
		issues = append(issues, schema.ValidationIssue{
			Severity: schema.SeverityError,
			NodeID:   nodeID,
			Code:     schema.IssueInvalidExpression,
			Message:  fmt.Sprintf("node %q: %s", nodeID, msg),
		})
	}
	return issues
}

// decode maps a raw config onto a typed struct. Durations may be written as
// strings such as "30s".
func decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			wholeFloatToInt,
		),
		WeaklyTypedInput: false,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// wholeFloatToInt lets JSON numbers decoded as float64 fill int fields when
// they carry no fraction.
func wholeFloatToInt(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.Float64 || to.Kind() != reflect.Int {
		return data, nil
	}
	f := data.(float64)
	if f != float64(int(f)) {
		return nil, fmt.Errorf("%v is not a whole number", f)
	}
	return int(f), nil
}

func configIssue(nodeID string, err error) schema.ValidationIssue {
	msg := err.Error()
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		if v, ok := fe.Details["violations"].([]string); ok && len(v) > 0 {
			msg = strings.Join(v, "; ")
		} else {
			msg = fe.Message
		}
	}
	return schema.ValidationIssue{
		Severity: schema.SeverityError,
		NodeID:   nodeID,
		Code:     schema.IssueInvalidConfig,
		Message:  fmt.Sprintf("node %q has invalid config: %s", nodeID, msg),
	}
}
