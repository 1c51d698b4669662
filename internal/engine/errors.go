package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/earshot/internal/graph"
)

// RuntimeError represents a failure detected while admitting or evaluating
// a play request.
//
// Runtime errors include:
//   - Admission rejection: the graph has nothing playable
//   - Instance limit: see InstanceLimitError
//   - No bindings: evaluation produced no voice and no external transition
//   - Pool exhausted: a leaf could not acquire a voice
//   - Cycle detected: evaluation re-entered a node on its own path
//   - Authoring defect: a branch was skipped (missing clip, bad switch index)
//
// None of these is fatal to the process; they only mean one sound does not
// play.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Graph names the event definition involved.
	Graph string

	// Node identifies the node involved, if any.
	Node graph.NodeID

	// Err is the underlying cause. For NO_BINDINGS it joins the authoring
	// defects met during evaluation.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeAdmissionRejected indicates the graph has no playable leaves.
	ErrCodeAdmissionRejected RuntimeErrorCode = "ADMISSION_REJECTED"

	// ErrCodeNoBindings indicates evaluation bound no voice.
	ErrCodeNoBindings RuntimeErrorCode = "NO_BINDINGS"

	// ErrCodePoolExhausted indicates the voice pool had no free voice.
	ErrCodePoolExhausted RuntimeErrorCode = "POOL_EXHAUSTED"

	// ErrCodeCycleDetected indicates evaluation re-entered a node.
	ErrCodeCycleDetected RuntimeErrorCode = "CYCLE_DETECTED"

	// ErrCodeAuthoringDefect indicates a branch was skipped.
	ErrCodeAuthoringDefect RuntimeErrorCode = "AUTHORING_DEFECT"

	// ErrCodeEngineClosed indicates the engine has shut down.
	ErrCodeEngineClosed RuntimeErrorCode = "ENGINE_CLOSED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Graph != "" && e.Node != "" {
		msg = fmt.Sprintf("%s (graph=%s, node=%s)", msg, e.Graph, e.Node)
	} else if e.Graph != "" {
		msg = fmt.Sprintf("%s (graph=%s)", msg, e.Graph)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the category of a play failure: the outermost
// RuntimeError code, "INSTANCE_LIMIT" for instance-limit rejections, or ""
// for anything else.
func ErrorCode(err error) string {
	var re *RuntimeError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	if IsInstanceLimitError(err) {
		return "INSTANCE_LIMIT"
	}
	return ""
}

// hasCode reports whether err, or any RuntimeError nested in its cause
// chain, carries code.
func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if !errors.As(err, &re) {
		return false
	}
	if re.Code == code {
		return true
	}
	return re.Err != nil && hasCode(re.Err, code)
}

// IsCycleError returns true if the error is a cycle detection error.
func IsCycleError(err error) bool {
	return hasCode(err, ErrCodeCycleDetected)
}

// IsNoBindingsError returns true if evaluation produced nothing to play.
func IsNoBindingsError(err error) bool {
	return hasCode(err, ErrCodeNoBindings)
}

// IsPoolExhaustedError returns true if the voice pool ran dry.
func IsPoolExhaustedError(err error) bool {
	return hasCode(err, ErrCodePoolExhausted)
}

// IsAdmissionError returns true if the play request was rejected before
// evaluation, including instance-limit rejections.
func IsAdmissionError(err error) bool {
	if hasCode(err, ErrCodeAdmissionRejected) {
		return true
	}
	return IsInstanceLimitError(err)
}

// IsAuthoringDefect returns true if the error (or any error it joins) is
// an authoring defect.
func IsAuthoringDefect(err error) bool {
	return hasCode(err, ErrCodeAuthoringDefect)
}

// NewCycleError creates a RuntimeError for a node re-entered on its own
// evaluation path.
func NewCycleError(g *graph.Graph, node graph.NodeID) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeCycleDetected,
		Message: "evaluation re-entered a node on its own path",
		Graph:   g.Name,
		Node:    node,
	}
}

// NewPoolExhaustedError creates a RuntimeError for a failed voice
// allocation.
func NewPoolExhaustedError(g *graph.Graph, node graph.NodeID) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodePoolExhausted,
		Message: "no free voice",
		Graph:   g.Name,
		Node:    node,
	}
}

// NewNoBindingsError creates a RuntimeError for an evaluation that bound
// nothing. defects are joined as the cause.
func NewNoBindingsError(g *graph.Graph, defects []error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeNoBindings,
		Message: "evaluation produced no voice bindings",
		Graph:   g.Name,
		Err:     errors.Join(defects...),
	}
}

// NewAuthoringDefect creates a RuntimeError describing a skipped branch.
func NewAuthoringDefect(g *graph.Graph, node graph.NodeID, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeAuthoringDefect,
		Message: fmt.Sprintf(format, args...),
		Graph:   g.Name,
		Node:    node,
	}
}
