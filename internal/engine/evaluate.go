package engine

import (
	"golang.org/x/text/language"

	"github.com/roach88/earshot/internal/audio"
	"github.com/roach88/earshot/internal/curve"
	"github.com/roach88/earshot/internal/graph"
	"github.com/roach88/earshot/internal/param"
)

// evaluation is the state of one graph walk for one play request.
//
// The walk starts at the Output node and recurses upstream; each node kind
// decides which of its upstream branches run. Authoring defects skip the
// branch and are collected. Pool exhaustion and cycles abort the walk.
//
// Effects that outlive the walk are held back until it completes: snapshot
// transitions reach the mixer only on success, and an aborted walk puts
// every sequence cursor it moved back where it found it.
type evaluation struct {
	e         *Engine
	ev        *ActiveEvent
	g         *graph.Graph
	path      *cycleDetector
	bound     map[graph.NodeID]bool
	defects   []error
	snapshots []pendingSnapshot
	cursors   map[*graph.Sequence]int
}

type pendingSnapshot struct {
	name    string
	seconds float64
}

// evaluate populates ev's bindings and base volume/pitch. On failure every
// voice acquired so far goes back to the pool.
func (e *Engine) evaluate(ev *ActiveEvent) error {
	x := &evaluation{
		e:     e,
		ev:    ev,
		g:       ev.graph,
		path:    newCycleDetector(),
		bound:   make(map[graph.NodeID]bool),
		cursors: make(map[*graph.Sequence]int),
	}

	if err := x.visit(ev.graph.Output()); err != nil {
		x.rollback()
		return err
	}

	if len(ev.sources) == 0 && !ev.external {
		return NewNoBindingsError(ev.graph, x.defects)
	}

	for _, s := range ev.sources {
		s.Voice.SetLoop(ev.routing.Loop)
		s.Voice.Route(ev.routing)
	}
	for _, snap := range x.snapshots {
		e.mixer.TransitionTo(snap.name, snap.seconds)
	}
	return nil
}

func (x *evaluation) visit(n *graph.Node) error {
	if x.path.WouldCycle(n.ID) {
		return NewCycleError(x.g, n.ID)
	}
	x.path.Enter(n.ID)
	defer x.path.Leave(n.ID)

	x.e.logger.Debug("evaluating node",
		"event_id", x.ev.id,
		"graph", x.g.Name,
		"node", n.ID,
		"kind", n.Kind().String(),
		"depth", x.path.Depth(),
	)

	switch b := n.Body.(type) {
	case *graph.Output:
		return x.output(n, b)

	case *graph.File:
		return x.bind(n, b, nil, curve.Curve{})

	case *graph.VoiceFile:
		return x.bind(n, &b.File, nil, curve.Curve{})

	case *graph.BlendFile:
		var p *param.Active
		if b.Parameter != "" {
			p = x.ev.blendParameter(b.Parameter)
		}
		return x.bind(n, &b.File, p, b.Curve)

	case *graph.Null:
		return nil

	case *graph.Random:
		up := x.g.Upstream(n.ID)
		if len(up) == 0 {
			return nil
		}
		return x.visit(up[x.e.rng.IntN(len(up))])

	case *graph.Sequence:
		up := x.g.Upstream(n.ID)
		if _, seen := x.cursors[b]; !seen {
			x.cursors[b] = b.Cursor()
		}
		i := b.Next(len(up))
		if i < 0 {
			return nil
		}
		return x.visit(up[i])

	case *graph.Language:
		return x.language(n)

	case *graph.Switch:
		up := x.g.Upstream(n.ID)
		v := x.e.switches[b.Switch]
		if v < 0 || v >= len(up) {
			x.defect(n.ID, "switch %q value %d out of range [0,%d)", b.Switch, v, len(up))
			return nil
		}
		return x.visit(up[v])

	case *graph.Blend:
		for _, u := range x.g.Upstream(n.ID) {
			if err := x.visit(u); err != nil {
				return err
			}
		}
		return nil

	case *graph.Debug:
		x.e.logger.Info("debug node",
			"event_id", x.ev.id,
			"graph", x.g.Name,
			"node", n.ID,
			"message", b.Message,
		)
		return x.one(n)

	case *graph.Delay:
		x.ev.delay += b.Seconds
		return x.one(n)

	case *graph.Snapshot:
		d := b.Seconds
		if b.Parameter != "" {
			d = b.Curve.Evaluate(x.parameterValue(b.Parameter))
		}
		x.snapshots = append(x.snapshots, pendingSnapshot{name: b.Snapshot, seconds: d})
		x.ev.external = true
		x.ev.externalDuration = max(x.ev.externalDuration, d)
		x.e.logger.Debug("snapshot transition pending",
			"event_id", x.ev.id,
			"snapshot", b.Snapshot,
			"seconds", d,
		)
		return x.one(n)

	default:
		x.defect(n.ID, "unknown node body %T", b)
		return nil
	}
}

func (x *evaluation) output(n *graph.Node, b *graph.Output) error {
	x.ev.baseVolume = x.uniform(b.VolumeMin, b.VolumeMax)
	x.ev.basePitch = x.uniform(b.PitchMin, b.PitchMax)
	x.ev.routing = b.Routing

	up := x.g.Upstream(n.ID)
	if len(up) == 0 {
		return nil
	}
	if len(up) > 1 {
		x.e.logger.Warn("output has more than one input, evaluating the first",
			"graph", x.g.Name,
			"inputs", len(up),
		)
	}
	return x.visit(up[0])
}

// one continues into a single upstream branch, chosen at random when there
// is more than one.
func (x *evaluation) one(n *graph.Node) error {
	up := x.g.Upstream(n.ID)
	switch len(up) {
	case 0:
		return nil
	case 1:
		return x.visit(up[0])
	default:
		return x.visit(up[x.e.rng.IntN(len(up))])
	}
}

func (x *evaluation) language(n *graph.Node) error {
	current := x.e.language
	for _, u := range x.g.Upstream(n.ID) {
		vf, ok := u.Body.(*graph.VoiceFile)
		if !ok {
			continue
		}
		tag, err := language.Parse(vf.Language)
		if err != nil {
			x.defect(u.ID, "invalid language tag %q: %v", vf.Language, err)
			continue
		}
		if tag == current {
			return x.visit(u)
		}
	}

	err := NewAuthoringDefect(x.g, n.ID, "no voice file for language %s", current)
	x.defects = append(x.defects, err)
	x.e.logger.Error("language not matched",
		"event_id", x.ev.id,
		"graph", x.g.Name,
		"node", n.ID,
		"language", current.String(),
	)
	return nil
}

func (x *evaluation) bind(n *graph.Node, f *graph.File, p *param.Active, c curve.Curve) error {
	if x.bound[n.ID] {
		return nil
	}
	if !f.Clip.Playable() {
		x.defect(n.ID, "clip missing or zero length")
		return nil
	}

	v, ok := x.e.pool.Acquire()
	if !ok {
		x.e.logger.Warn("voice pool exhausted",
			"event_id", x.ev.id,
			"graph", x.g.Name,
			"node", n.ID,
			"capacity", x.e.pool.Capacity(),
		)
		return NewPoolExhaustedError(x.g, n.ID)
	}

	offset := x.offset(f)
	v.SetClip(f.Clip, offset)
	// A reacquired voice still sits where its previous owner left it.
	v.SetPosition(audio.Vec3{})
	x.bound[n.ID] = true
	x.ev.sources = append(x.ev.sources, Source{
		Node:   n.ID,
		Voice:  v,
		Clip:   f.Clip,
		Offset: offset,
		Param:  p,
		Curve:  c,
	})

	x.e.logger.Debug("voice bound",
		"event_id", x.ev.id,
		"node", n.ID,
		"voice_id", int(v.ID()),
		"clip", f.Clip.Name,
		"offset", offset,
	)
	return nil
}

// offset picks the start position in seconds from the file's fractional
// [MinStart, MaxStart] window.
func (x *evaluation) offset(f *graph.File) float64 {
	lo, hi := f.MinStart, f.MaxStart
	if lo > hi {
		lo, hi = hi, lo
	}
	lo = min(max(lo, 0), 1)
	hi = min(max(hi, 0), 1)
	return x.uniform(lo, hi) * f.Clip.Length
}

func (x *evaluation) uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + x.e.rng.Float64()*(hi-lo)
}

func (x *evaluation) parameterValue(name string) float64 {
	if p, ok := x.ev.Parameter(name); ok {
		return p.Value()
	}
	v, _ := x.e.params.Get(name)
	return v
}

func (x *evaluation) defect(node graph.NodeID, format string, args ...any) {
	err := NewAuthoringDefect(x.g, node, format, args...)
	x.defects = append(x.defects, err)
	x.e.logger.Warn("authoring defect",
		"event_id", x.ev.id,
		"graph", x.g.Name,
		"node", node,
		"error", err.Message,
	)
}

// rollback returns every voice acquired by this evaluation and rewinds
// the sequence cursors it advanced. Pending snapshots are dropped.
func (x *evaluation) rollback() {
	for _, s := range x.ev.sources {
		s.Voice.Stop()
	}
	x.e.pool.Release(x.ev.voiceIDs()...)
	x.ev.sources = nil
	for seq, cursor := range x.cursors {
		seq.Seek(cursor)
	}
	x.snapshots = nil
	x.ev.external = false
}
