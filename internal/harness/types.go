package harness

import (
	"fmt"
	"strings"
)

// TraceEvent is one engine notice as observed by the harness.
type TraceEvent struct {
	Seq   int64    `json:"seq"`
	Tick  int      `json:"tick"` // ticks run before the notice; 0 during setup plays
	Kind  string   `json:"kind"` // played, rejected, failed, transition, removed
	Event string   `json:"event,omitempty"`
	Graph string   `json:"graph"`
	From  string   `json:"from,omitempty"`
	To    string   `json:"to,omitempty"`
	Clips []string `json:"clips,omitempty"`
	Code  string   `json:"code,omitempty"`
}

// Key renders the event for trace_order assertions: "kind:graph", plus
// ":to" for transitions.
func (e TraceEvent) Key() string {
	parts := []string{e.Kind, e.Graph}
	if e.Kind == "transition" {
		parts = append(parts, e.To)
	}
	return strings.Join(parts, ":")
}

func (e TraceEvent) String() string {
	s := fmt.Sprintf("#%d tick=%d %s", e.Seq, e.Tick, e.Key())
	if e.Event != "" {
		s += " " + e.Event
	}
	if len(e.Clips) > 0 {
		s += fmt.Sprintf(" clips=%v", e.Clips)
	}
	if e.Code != "" {
		s += " code=" + e.Code
	}
	return s
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step expectation and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains every engine notice in sequence order.
	Trace []TraceEvent `json:"trace"`

	// Snapshots lists mixer snapshot transitions as "name@seconds".
	Snapshots []string `json:"snapshots,omitempty"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
