package compiler

import (
	"fmt"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/earshot/internal/audio"
	"github.com/roach88/earshot/internal/curve"
	"github.com/roach88/earshot/internal/graph"
	"github.com/roach88/earshot/internal/param"
)

// CompileSource compiles every event under the top-level "event" struct of
// a CUE source, in declaration order.
func CompileSource(filename, src string) ([]*graph.Graph, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileEvents(v)
}

// CompileEvents compiles every event under v's "event" struct.
func CompileEvents(v cue.Value) ([]*graph.Graph, error) {
	events := v.LookupPath(cue.ParsePath("event"))
	if !events.Exists() {
		return nil, &CompileError{Field: "event", Message: "no events defined", Pos: v.Pos()}
	}
	iter, err := events.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []*graph.Graph
	for iter.Next() {
		g, err := CompileEvent(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", label(iter.Selector()), err)
		}
		out = append(out, g)
	}
	return out, nil
}

// CompileEvent parses a CUE value into an event graph.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the event struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`event: Footsteps: { ... }`)
//	g, err := CompileEvent(v.LookupPath(cue.ParsePath("event.Footsteps")))
func CompileEvent(v cue.Value) (*graph.Graph, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	var name string
	if sels := v.Path().Selectors(); len(sels) > 0 {
		name = label(sels[len(sels)-1])
	}
	g := graph.New(name)

	var err error
	if g.InstanceLimit, err = optionalInt(v, "instance_limit"); err != nil {
		return nil, err
	}
	if g.Group, err = optionalInt(v, "group"); err != nil {
		return nil, err
	}
	if g.FadeIn, err = optionalFloat(v, "fade_in"); err != nil {
		return nil, err
	}
	if g.FadeOut, err = optionalFloat(v, "fade_out"); err != nil {
		return nil, err
	}
	if g.Delay, err = optionalFloat(v, "delay"); err != nil {
		return nil, err
	}

	if g.Parameters, err = parseParameters(v); err != nil {
		return nil, err
	}
	if err := parseOutput(v, g.OutputBody()); err != nil {
		return nil, err
	}
	if err := parseNodes(v, g); err != nil {
		return nil, err
	}
	if err := parseConnections(v, g); err != nil {
		return nil, err
	}

	return g, nil
}

func parseParameters(v cue.Value) ([]param.EventParameter, error) {
	pv := v.LookupPath(cue.ParsePath("parameters"))
	if !pv.Exists() {
		return nil, nil
	}
	iter, err := pv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var params []param.EventParameter
	for iter.Next() {
		item := iter.Value()
		name, err := requiredString(item, "name")
		if err != nil {
			return nil, err
		}
		roleStr, err := optionalString(item, "role")
		if err != nil {
			return nil, err
		}
		role, err := param.ParseRole(roleStr)
		if err != nil {
			return nil, &CompileError{Field: "parameters.role", Message: err.Error(), Pos: item.Pos()}
		}
		gaze, err := optionalBool(item, "gaze")
		if err != nil {
			return nil, err
		}
		c, err := parseCurve(item, "curve")
		if err != nil {
			return nil, err
		}
		params = append(params, param.EventParameter{Name: name, Curve: c, Role: role, Gaze: gaze})
	}
	return params, nil
}

func parseOutput(v cue.Value, out *graph.Output) error {
	ov := v.LookupPath(cue.ParsePath("output"))
	if !ov.Exists() {
		return nil
	}

	var err error
	if out.VolumeMin, out.VolumeMax, err = parseRange(ov, "volume", 1); err != nil {
		return err
	}
	if out.PitchMin, out.PitchMax, err = parseRange(ov, "pitch", 1); err != nil {
		return err
	}
	if out.Routing.Loop, err = optionalBool(ov, "loop"); err != nil {
		return err
	}
	if out.Routing.Mixer, err = optionalString(ov, "mixer"); err != nil {
		return err
	}

	sv := ov.LookupPath(cue.ParsePath("spatial"))
	if !sv.Exists() {
		return nil
	}
	sp := &out.Routing.Spatial
	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"blend", &sp.Blend},
		{"max_distance", &sp.MaxDistance},
		{"doppler", &sp.Doppler},
		{"reverb_mix", &sp.ReverbMix},
		{"spread", &sp.Spread},
	} {
		if *f.dst, err = optionalFloat(sv, f.name); err != nil {
			return err
		}
	}
	sp.Rolloff, err = optionalString(sv, "rolloff")
	return err
}

func parseNodes(v cue.Value, g *graph.Graph) error {
	nv := v.LookupPath(cue.ParsePath("nodes"))
	if !nv.Exists() {
		return nil
	}
	iter, err := nv.Fields()
	if err != nil {
		return formatCUEError(err)
	}

	for iter.Next() {
		id := graph.NodeID(label(iter.Selector()))
		body, err := parseBody(iter.Value())
		if err != nil {
			return fmt.Errorf("node %s: %w", id, err)
		}
		if _, err := g.AddNode(id, body); err != nil {
			return &CompileError{Field: "nodes", Message: err.Error(), Pos: iter.Value().Pos()}
		}
	}
	return nil
}

func parseBody(v cue.Value) (graph.Body, error) {
	typ, err := requiredString(v, "type")
	if err != nil {
		return nil, err
	}
	kind, ok := graph.ParseKind(typ)
	if !ok || kind == graph.KindOutput {
		return nil, &CompileError{Field: "type", Message: fmt.Sprintf("unknown node type %q", typ), Pos: v.Pos()}
	}

	switch kind {
	case graph.KindFile:
		f, err := parseFile(v)
		if err != nil {
			return nil, err
		}
		return &f, nil

	case graph.KindVoiceFile:
		f, err := parseFile(v)
		if err != nil {
			return nil, err
		}
		lang, err := requiredString(v, "language")
		if err != nil {
			return nil, err
		}
		return &graph.VoiceFile{File: f, Language: lang}, nil

	case graph.KindBlendFile:
		f, err := parseFile(v)
		if err != nil {
			return nil, err
		}
		p, err := optionalString(v, "parameter")
		if err != nil {
			return nil, err
		}
		c, err := parseCurve(v, "curve")
		if err != nil {
			return nil, err
		}
		return &graph.BlendFile{File: f, Parameter: p, Curve: c}, nil

	case graph.KindNull:
		return &graph.Null{}, nil
	case graph.KindRandom:
		return &graph.Random{}, nil
	case graph.KindSequence:
		return &graph.Sequence{}, nil
	case graph.KindLanguage:
		return &graph.Language{}, nil
	case graph.KindBlend:
		return &graph.Blend{}, nil

	case graph.KindSwitch:
		sw, err := requiredString(v, "switch")
		if err != nil {
			return nil, err
		}
		return &graph.Switch{Switch: sw}, nil

	case graph.KindDebug:
		msg, err := optionalString(v, "message")
		if err != nil {
			return nil, err
		}
		return &graph.Debug{Message: msg}, nil

	case graph.KindDelay:
		s, err := optionalFloat(v, "seconds")
		if err != nil {
			return nil, err
		}
		return &graph.Delay{Seconds: s}, nil

	case graph.KindSnapshot:
		snap, err := requiredString(v, "snapshot")
		if err != nil {
			return nil, err
		}
		s, err := optionalFloat(v, "seconds")
		if err != nil {
			return nil, err
		}
		p, err := optionalString(v, "parameter")
		if err != nil {
			return nil, err
		}
		c, err := parseCurve(v, "curve")
		if err != nil {
			return nil, err
		}
		return &graph.Snapshot{Snapshot: snap, Seconds: s, Parameter: p, Curve: c}, nil
	}

	return nil, &CompileError{Field: "type", Message: fmt.Sprintf("unsupported node type %q", typ), Pos: v.Pos()}
}

// parseFile reads the clip and start window shared by file-kind leaves.
// A missing clip is allowed here; validation and evaluation report it.
func parseFile(v cue.Value) (graph.File, error) {
	var f graph.File

	cv := v.LookupPath(cue.ParsePath("clip"))
	if cv.Exists() {
		name, err := requiredString(cv, "name")
		if err != nil {
			return f, err
		}
		length, err := optionalFloat(cv, "length")
		if err != nil {
			return f, err
		}
		f.Clip = &audio.Clip{Name: name, Length: length}
	}

	var err error
	f.MinStart, f.MaxStart, err = parseRange(v, "start", 0)
	return f, err
}

// parseRange reads [min, max] or a single number meaning min == max.
func parseRange(v cue.Value, field string, def float64) (float64, float64, error) {
	rv := v.LookupPath(cue.ParsePath(field))
	if !rv.Exists() {
		return def, def, nil
	}
	if rv.IncompleteKind() != cue.ListKind {
		x, err := rv.Float64()
		if err != nil {
			return 0, 0, formatCUEError(err)
		}
		return x, x, nil
	}

	var vals []float64
	iter, err := rv.List()
	if err != nil {
		return 0, 0, formatCUEError(err)
	}
	for iter.Next() {
		x, err := iter.Value().Float64()
		if err != nil {
			return 0, 0, formatCUEError(err)
		}
		vals = append(vals, x)
	}
	if len(vals) != 2 {
		return 0, 0, &CompileError{Field: field, Message: "range must be [min, max]", Pos: rv.Pos()}
	}
	return vals[0], vals[1], nil
}

// parseCurve reads a list of [time, value] keys.
func parseCurve(v cue.Value, field string) (curve.Curve, error) {
	cv := v.LookupPath(cue.ParsePath(field))
	if !cv.Exists() {
		return curve.Curve{}, nil
	}
	iter, err := cv.List()
	if err != nil {
		return curve.Curve{}, formatCUEError(err)
	}

	var keys []curve.Key
	for iter.Next() {
		kv := iter.Value()
		var pair []float64
		if err := kv.Decode(&pair); err != nil {
			return curve.Curve{}, formatCUEError(err)
		}
		if len(pair) != 2 {
			return curve.Curve{}, &CompileError{Field: field, Message: "curve key must be [time, value]", Pos: kv.Pos()}
		}
		keys = append(keys, curve.Key{Time: pair[0], Value: pair[1]})
	}

	c, err := curve.New(keys...)
	if err != nil {
		return curve.Curve{}, &CompileError{Field: field, Message: err.Error(), Pos: cv.Pos()}
	}
	return c, nil
}

func parseConnections(v cue.Value, g *graph.Graph) error {
	cv := v.LookupPath(cue.ParsePath("connections"))
	if !cv.Exists() {
		return nil
	}
	iter, err := cv.List()
	if err != nil {
		return formatCUEError(err)
	}

	for iter.Next() {
		ev := iter.Value()
		var pair []string
		if err := ev.Decode(&pair); err != nil {
			return formatCUEError(err)
		}
		if len(pair) != 2 {
			return &CompileError{Field: "connections", Message: "connection must be [from, to]", Pos: ev.Pos()}
		}
		if err := g.Connect(graph.NodeID(pair[0]), graph.NodeID(pair[1])); err != nil {
			return &CompileError{Field: "connections", Message: err.Error(), Pos: ev.Pos()}
		}
	}
	return nil
}

// label returns a field selector without CUE quoting.
func label(sel cue.Selector) string {
	s := sel.String()
	if u, err := strconv.Unquote(s); err == nil {
		return u
	}
	return s
}

func requiredString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalInt(v cue.Value, field string) (int, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, nil
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return int(n), nil
}

func optionalFloat(v cue.Value, field string) (float64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, nil
	}
	x, err := fv.Float64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return x, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
