package compiler

import (
	"fmt"

	"golang.org/x/text/language"

	"github.com/roach88/earshot/internal/graph"
)

// Validation error codes (E100-E199)
const (
	ErrNotPlayable        = "E100" // no file leaf with a clip and no snapshot
	ErrMissingClip        = "E101" // file leaf without a clip
	ErrInvalidClipLength  = "E102" // clip length must be positive
	ErrInvalidStartWindow = "E103" // start fractions outside [0,1] or min > max
	ErrInvalidLanguage    = "E104" // voice_file language is not a BCP 47 tag
	ErrOutputFanIn        = "E105" // output evaluates only its first input
	ErrUnreachableNode    = "E106" // node never reaches the output
	ErrInvalidRange       = "E107" // volume/pitch range inverted or negative
	ErrNegativeValue      = "E108" // negative fade, delay, limit, or duration
	ErrSelectorNoInputs   = "E109" // selector or pass-through node without inputs
)

// ValidationError represents a graph validation error.
type ValidationError struct {
	Graph   string `json:"graph"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s: %s", e.Code, e.Graph, e.Field, e.Message)
}

// Validate checks a compiled event graph for authoring defects.
// Returns all errors found (does not fail-fast).
//
// None of these stop the runtime from loading the graph; they describe
// branches that will bind nothing or behave differently than authored.
func Validate(g *graph.Graph) []ValidationError {
	v := validator{g: g}

	v.envelope()
	v.output()
	for _, n := range g.Nodes() {
		v.node(n)
	}
	v.reachability()

	if !g.Playable() {
		v.add("nodes", ErrNotPlayable, "no file leaf carries a clip and no snapshot node exists")
	}
	return v.errs
}

type validator struct {
	g    *graph.Graph
	errs []ValidationError
}

func (v *validator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Graph:   v.g.Name,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

func (v *validator) envelope() {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"instance_limit", float64(v.g.InstanceLimit)},
		{"group", float64(v.g.Group)},
		{"fade_in", v.g.FadeIn},
		{"fade_out", v.g.FadeOut},
		{"delay", v.g.Delay},
	} {
		if f.value < 0 {
			v.add(f.name, ErrNegativeValue, "%s must not be negative, got %v", f.name, f.value)
		}
	}
}

func (v *validator) output() {
	out := v.g.OutputBody()
	if out.VolumeMin < 0 || out.VolumeMin > out.VolumeMax {
		v.add("output.volume", ErrInvalidRange, "invalid range [%v, %v]", out.VolumeMin, out.VolumeMax)
	}
	if out.PitchMin <= 0 || out.PitchMin > out.PitchMax {
		v.add("output.pitch", ErrInvalidRange, "invalid range [%v, %v]", out.PitchMin, out.PitchMax)
	}
	if n := len(v.g.Upstream(graph.OutputID)); n > 1 {
		v.add("output", ErrOutputFanIn, "%d inputs connected, only the first is evaluated", n)
	}
}

func (v *validator) node(n *graph.Node) {
	field := "nodes." + string(n.ID)

	// Leaves have no input connector; snapshots end evaluation themselves.
	if !n.Kind().Leaf() && n.Kind() != graph.KindSnapshot && n.ID != graph.OutputID &&
		len(v.g.Upstream(n.ID)) == 0 {
		v.add(field, ErrSelectorNoInputs, "%s node has no inputs", n.Kind())
	}

	switch b := n.Body.(type) {
	case *graph.File:
		v.file(field, b)
	case *graph.VoiceFile:
		v.file(field, &b.File)
		if _, err := language.Parse(b.Language); err != nil {
			v.add(field+".language", ErrInvalidLanguage, "invalid language tag %q", b.Language)
		}
	case *graph.BlendFile:
		v.file(field, &b.File)
	case *graph.Delay:
		if b.Seconds < 0 {
			v.add(field+".seconds", ErrNegativeValue, "delay must not be negative, got %v", b.Seconds)
		}
	case *graph.Snapshot:
		if b.Seconds < 0 {
			v.add(field+".seconds", ErrNegativeValue, "duration must not be negative, got %v", b.Seconds)
		}
	}
}

func (v *validator) file(field string, f *graph.File) {
	if f.Clip == nil {
		v.add(field+".clip", ErrMissingClip, "file node has no clip")
	} else if f.Clip.Length <= 0 {
		v.add(field+".clip.length", ErrInvalidClipLength, "clip %q has length %v", f.Clip.Name, f.Clip.Length)
	}
	if f.MinStart < 0 || f.MaxStart > 1 || f.MinStart > f.MaxStart {
		v.add(field+".start", ErrInvalidStartWindow, "start window [%v, %v] must lie within [0, 1]", f.MinStart, f.MaxStart)
	}
}

// reachability reports nodes from which the output cannot be reached.
func (v *validator) reachability() {
	seen := map[graph.NodeID]bool{graph.OutputID: true}
	queue := []graph.NodeID{graph.OutputID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, up := range v.g.Upstream(id) {
			if !seen[up.ID] {
				seen[up.ID] = true
				queue = append(queue, up.ID)
			}
		}
	}
	for _, n := range v.g.Nodes() {
		if !seen[n.ID] {
			v.add("nodes."+string(n.ID), ErrUnreachableNode, "node is not connected to the output")
		}
	}
}
