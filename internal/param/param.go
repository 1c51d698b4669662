// Package param implements the parameter system: process-wide named
// parameters, per-event response-curve bindings, and per-instance copies
// that can be overridden locally.
package param

import (
	"fmt"
	"sort"

	"github.com/roach88/earshot/internal/curve"
)

// Role tags what an event parameter modulates.
type Role int

const (
	// RoleNone parameters only weight individual blend sources.
	RoleNone Role = iota
	// RoleVolume parameters scale the event's overall volume.
	RoleVolume
	// RolePitch parameters scale the event's overall pitch.
	RolePitch
)

// String returns the role name used in assets and logs.
func (r Role) String() string {
	switch r {
	case RoleVolume:
		return "volume"
	case RolePitch:
		return "pitch"
	default:
		return "none"
	}
}

// ParseRole parses a role name. The empty string is RoleNone.
func ParseRole(s string) (Role, error) {
	switch s {
	case "", "none":
		return RoleNone, nil
	case "volume":
		return RoleVolume, nil
	case "pitch":
		return RolePitch, nil
	default:
		return RoleNone, fmt.Errorf("invalid parameter role %q: must be none, volume, or pitch", s)
	}
}

// Parameter is a process-wide named scalar set by application code.
type Parameter struct {
	name  string
	value float64
}

// Name returns the parameter name.
func (p *Parameter) Name() string { return p.name }

// Value returns the current value.
func (p *Parameter) Value() float64 { return p.value }

// Set replaces the current value.
func (p *Parameter) Set(v float64) { p.value = v }

// Registry owns the global parameters of one runtime.
// Not safe for concurrent use; the runtime is single-threaded.
type Registry struct {
	params map[string]*Parameter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{params: make(map[string]*Parameter)}
}

// Lookup returns the named parameter, creating it with value 0 if absent.
// Event graphs reference parameters by name, so the first reference
// brings a parameter into existence.
func (r *Registry) Lookup(name string) *Parameter {
	if p, ok := r.params[name]; ok {
		return p
	}
	p := &Parameter{name: name}
	r.params[name] = p
	return p
}

// Set assigns a value, creating the parameter if needed.
func (r *Registry) Set(name string, v float64) {
	r.Lookup(name).Set(v)
}

// Get returns the value of a parameter and whether it exists.
func (r *Registry) Get(name string) (float64, bool) {
	p, ok := r.params[name]
	if !ok {
		return 0, false
	}
	return p.value, true
}

// Names returns all parameter names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.params))
	for name := range r.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EventParameter binds a global parameter to a response curve inside one
// event graph.
type EventParameter struct {
	Name  string      `json:"name"`
	Curve curve.Curve `json:"curve"`
	Role  Role        `json:"role"`

	// Gaze marks parameters driven by the angle between the event's gaze
	// reference and its primary voice instead of the global value.
	Gaze bool `json:"gaze,omitempty"`
}
