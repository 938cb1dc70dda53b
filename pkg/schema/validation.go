package schema

import "fmt"

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// Structural issue codes produced by the validator.
const (
	IssueMissingStart           = "MISSING_START"
	IssueMultipleStart          = "MULTIPLE_START"
	IssueMissingEnd             = "MISSING_END"
	IssueDanglingEdge           = "DANGLING_EDGE"
	IssueInvalidPort            = "INVALID_PORT"
	IssueSelfLoop               = "SELF_LOOP"
	IssueStartHasIncoming       = "START_HAS_INCOMING"
	IssueEndHasOutgoing         = "END_HAS_OUTGOING"
	IssueConditionPortConflict  = "CONDITION_PORT_CONFLICT"
	IssueMissingConditionBranch = "MISSING_CONDITION_BRANCH"
	IssueLoopUnbounded          = "LOOP_UNBOUNDED"
	IssueCycleDetected          = "CYCLE_DETECTED"
	IssueUnreachableNode        = "UNREACHABLE_NODE"
	IssueUnknownKind            = "UNKNOWN_KIND"
	IssueInvalidConfig          = "INVALID_CONFIG"
	IssueInvalidExpression      = "INVALID_EXPRESSION"
)

// ValidationIssue is a single validation finding scoped to a node or an edge.
type ValidationIssue struct {
	Severity ValidationSeverity `json:"severity"`
	NodeID   string             `json:"node_id,omitempty"`
	EdgeID   string             `json:"edge_id,omitempty"`
	EdgeIDs  []string           `json:"edge_ids,omitempty"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
}

// Subject returns the id the issue is sorted by: the node id when set,
// otherwise the edge id.
func (i ValidationIssue) Subject() string {
	if i.NodeID != "" {
		return i.NodeID
	}
	return i.EdgeID
}

// ValidationResult aggregates all issues from a validation pass.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Add appends an issue to the list matching its severity.
func (r *ValidationResult) Add(issue ValidationIssue) {
	if issue.Severity == SeverityWarning {
		r.Warnings = append(r.Warnings, issue)
		return
	}
	issue.Severity = SeverityError
	r.Errors = append(r.Errors, issue)
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// HasCode reports whether any error or warning carries code.
func (r *ValidationResult) HasCode(code string) bool {
	return len(r.WithCode(code)) > 0
}

// WithCode returns all issues (errors first) carrying code.
func (r *ValidationResult) WithCode(code string) []ValidationIssue {
	var out []ValidationIssue
	for _, list := range [][]ValidationIssue{r.Errors, r.Warnings} {
		for _, i := range list {
			if i.Code == code {
				out = append(out, i)
			}
		}
	}
	return out
}

// ToError converts the result to a FlowError if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Errors))
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
