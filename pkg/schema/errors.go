package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeDuplicateID        = "DUPLICATE_ID"
	ErrCodeSingletonViolation = "SINGLETON_VIOLATION"
	ErrCodeInvalidPort        = "INVALID_PORT"
	ErrCodePortOccupied       = "PORT_OCCUPIED"
	ErrCodeSelfLoop           = "SELF_LOOP"
	ErrCodeInvalidKind        = "INVALID_KIND"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeDecode             = "DECODE_ERROR"
	ErrCodeStore              = "STORE_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInvalidExpression  = "INVALID_EXPRESSION"
	ErrCodeEvaluation         = "EVALUATION_ERROR"
)

// Sentinels for errors.Is matching. A *FlowError matches a sentinel when the
// codes are equal, regardless of message or attached ids.
var (
	ErrNotFound           = &FlowError{Code: ErrCodeNotFound, Message: "not found"}
	ErrDuplicateID        = &FlowError{Code: ErrCodeDuplicateID, Message: "duplicate id"}
	ErrSingletonViolation = &FlowError{Code: ErrCodeSingletonViolation, Message: "singleton violation"}
	ErrInvalidPort        = &FlowError{Code: ErrCodeInvalidPort, Message: "invalid port"}
	ErrPortOccupied       = &FlowError{Code: ErrCodePortOccupied, Message: "port occupied"}
	ErrSelfLoop           = &FlowError{Code: ErrCodeSelfLoop, Message: "self loop"}
	ErrInvalidKind        = &FlowError{Code: ErrCodeInvalidKind, Message: "invalid node kind"}
)

// FlowError is the structured error type returned by graph, editor and store operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	EdgeID  string         `json:"edge_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	switch {
	case e.NodeID != "":
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	case e.EdgeID != "":
		return fmt.Sprintf("[%s] edge %s: %s", e.Code, e.EdgeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *FlowError with the same code.
func (e *FlowError) Is(target error) bool {
	var t *FlowError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *FlowError) WithNode(nodeID string) *FlowError {
	e.NodeID = nodeID
	return e
}

// WithEdge attaches an edge ID to the error.
func (e *FlowError) WithEdge(edgeID string) *FlowError {
	e.EdgeID = edgeID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// CodeOf returns the code of a *FlowError anywhere in err's chain, or "".
func CodeOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
