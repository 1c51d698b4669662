package engine

import (
	"context"
	"math"

	"github.com/roach88/earshot/internal/audio"
	"github.com/roach88/earshot/internal/curve"
	"github.com/roach88/earshot/internal/graph"
	"github.com/roach88/earshot/internal/param"
	"github.com/roach88/earshot/internal/voice"
)

// State is the lifecycle state of an ActiveEvent.
//
//	Initialized -> Played -> Stopped
//	Initialized -> Error
type State int

const (
	StateInitialized State = iota
	StatePlayed
	StateStopped
	StateError
)

// String returns the state name used in logs and recorded traces.
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StatePlayed:
		return "played"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Source is one voice binding produced by a leaf node.
type Source struct {
	Node   graph.NodeID
	Voice  voice.Voice
	Clip   *audio.Clip
	Offset float64

	// Param and Curve weight this source's volume (blend files only).
	Param *param.Active
	Curve curve.Curve
}

// ActiveEvent is one playback instance of an event graph.
//
// It is owned by the engine that created it; all methods must be called
// from the engine's driver goroutine.
type ActiveEvent struct {
	engine *Engine
	id     string
	graph  *graph.Graph
	state  State
	err    error

	sources   []Source
	params    []*param.Active
	overrides map[string]float64

	baseVolume float64
	basePitch  float64
	volume     float64
	pitch      float64
	routing    audio.Routing

	fadeIn       float64
	fadeOut      float64
	fadeLevel    float64
	fadeOrigin   float64
	fadeTarget   float64
	fadeDuration float64
	fadeElapsed  float64
	fading       bool
	stopQueued   bool

	delay        float64
	elapsed      float64
	started      bool
	lastTime     float64
	removalDelay float64

	emitter audio.Emitter
	gazeRef audio.Transform

	external         bool
	externalDuration float64

	muted  bool
	soloed bool

	onComplete func(*ActiveEvent)
	fired      bool
	removed    bool
}

func newActiveEvent(e *Engine, g *graph.Graph, id string) *ActiveEvent {
	return &ActiveEvent{
		engine:       e,
		id:           id,
		graph:        g,
		state:        StateInitialized,
		baseVolume:   1,
		basePitch:    1,
		pitch:        1,
		fadeIn:       g.FadeIn,
		fadeOut:      g.FadeOut,
		delay:        g.Delay,
		removalDelay: e.removalDelay,
	}
}

// ID returns the event handle.
func (ev *ActiveEvent) ID() string { return ev.id }

// Graph returns the event definition.
func (ev *ActiveEvent) Graph() *graph.Graph { return ev.graph }

// State returns the lifecycle state.
func (ev *ActiveEvent) State() State { return ev.state }

// Err returns the evaluation error of an event in the Error state.
func (ev *ActiveEvent) Err() error { return ev.err }

// Sources returns the voice bindings in evaluation order.
func (ev *ActiveEvent) Sources() []Source {
	out := make([]Source, len(ev.sources))
	copy(out, ev.sources)
	return out
}

// BaseVolume returns the volume sampled by the Output node.
func (ev *ActiveEvent) BaseVolume() float64 { return ev.baseVolume }

// BasePitch returns the pitch sampled by the Output node.
func (ev *ActiveEvent) BasePitch() float64 { return ev.basePitch }

// Volume returns the effective event volume last pushed to the voices,
// before per-source blend weighting.
func (ev *ActiveEvent) Volume() float64 { return ev.volume }

// Pitch returns the effective pitch last pushed to the voices.
func (ev *ActiveEvent) Pitch() float64 { return ev.pitch }

// Routing returns the routing resolved by the Output node.
func (ev *ActiveEvent) Routing() audio.Routing { return ev.routing }

// Delay returns the initial delay, including Delay nodes.
func (ev *ActiveEvent) Delay() float64 { return ev.delay }

// Elapsed returns the time since the event was played.
func (ev *ActiveEvent) Elapsed() float64 { return ev.elapsed }

// Started reports whether the voices have been started.
func (ev *ActiveEvent) Started() bool { return ev.started }

// External reports whether a snapshot transition ends the event.
func (ev *ActiveEvent) External() bool { return ev.external }

// Removed reports whether the event has left the active registry.
func (ev *ActiveEvent) Removed() bool { return ev.removed }

// Muted reports the event's own mute flag.
func (ev *ActiveEvent) Muted() bool { return ev.muted }

// Soloed reports the event's solo flag.
func (ev *ActiveEvent) Soloed() bool { return ev.soloed }

// Parameter returns the instance copy of a bound parameter.
func (ev *ActiveEvent) Parameter(name string) (*param.Active, bool) {
	for _, p := range ev.params {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// SetParameter overrides a bound parameter for this instance only.
// Returns false if the event has no binding with that name.
func (ev *ActiveEvent) SetParameter(name string, value float64) bool {
	p, ok := ev.Parameter(name)
	if !ok {
		return false
	}
	p.Override(value)
	if ev.state == StatePlayed {
		ev.refresh()
	}
	return true
}

// ResetParameter drops an instance override.
func (ev *ActiveEvent) ResetParameter(name string) bool {
	p, ok := ev.Parameter(name)
	if !ok {
		return false
	}
	p.Reset()
	if ev.state == StatePlayed {
		ev.refresh()
	}
	return true
}

// SetMute sets the event's own mute flag.
func (ev *ActiveEvent) SetMute(muted bool) {
	ev.muted = muted
	ev.engine.refreshMutes()
}

// SetSolo sets the solo flag. While any playing event is soloed, every
// event that is not soloed is muted.
func (ev *ActiveEvent) SetSolo(soloed bool) {
	ev.soloed = soloed
	ev.engine.refreshMutes()
}

// Remaining returns the time left on the primary voice, scaled by pitch.
// Looping events and events without voices report +Inf.
func (ev *ActiveEvent) Remaining() float64 {
	if len(ev.sources) == 0 || ev.routing.Loop {
		return math.Inf(1)
	}
	primary := ev.sources[0]
	pitch := ev.pitch
	if pitch <= 0 {
		pitch = 1
	}
	return (primary.Clip.Length - primary.Voice.Time()) / pitch
}

// Stop stops the event, fading out first when a fade-out is configured
// and playback has started.
func (ev *ActiveEvent) Stop() {
	if ev.state != StatePlayed {
		return
	}
	if ev.fadeOut <= 0 || !ev.started {
		ev.StopImmediate(ev.removalDelay)
		return
	}
	ev.fadeTo(0, ev.fadeOut)
	ev.stopQueued = true
}

// StopImmediate stops every voice now, fires the completion callback once
// and schedules removal from the active registry after delay seconds.
func (ev *ActiveEvent) StopImmediate(delay float64) {
	if ev.state != StatePlayed {
		return
	}
	ev.state = StateStopped
	ev.complete()

	for _, s := range ev.sources {
		s.Voice.Stop()
	}

	e := ev.engine
	e.schedule.At(e.clock.Now()+delay, "remove "+ev.id, func() {
		e.remove(ev)
	})

	e.logger.Info("event stopped",
		"event_id", ev.id,
		"graph", ev.graph.Name,
		"removal_delay", delay,
	)
	e.notify(context.Background(), Notice{Kind: NoticeTransition, EventID: ev.id, Graph: ev.graph.Name, From: StatePlayed, To: StateStopped})
}

func (ev *ActiveEvent) complete() {
	if ev.fired {
		return
	}
	ev.fired = true
	if ev.onComplete != nil {
		ev.onComplete(ev)
	}
}

// bindParameters creates the instance copies of the graph's parameters and
// applies play-time overrides.
func (ev *ActiveEvent) bindParameters() {
	reg := ev.engine.params
	for _, def := range ev.graph.Parameters {
		ev.params = append(ev.params, param.NewActive(def, reg.Lookup(def.Name)))
	}
	for name, v := range ev.overrides {
		if p, ok := ev.Parameter(name); ok {
			p.Override(v)
		}
	}
}

// blendParameter returns the instance parameter feeding a blend source,
// creating a weight-only binding when the graph declares none.
func (ev *ActiveEvent) blendParameter(name string) *param.Active {
	if p, ok := ev.Parameter(name); ok {
		return p
	}
	def := param.EventParameter{Name: name, Role: param.RoleNone}
	p := param.NewActive(def, ev.engine.params.Lookup(name))
	if v, ok := ev.overrides[name]; ok {
		p.Override(v)
	}
	ev.params = append(ev.params, p)
	return p
}

// begin moves a freshly evaluated event into Played.
func (ev *ActiveEvent) begin() {
	ev.state = StatePlayed
	ev.fadeTarget = ev.baseVolume
	if ev.fadeIn > 0 {
		ev.fadeLevel = 0
	} else {
		ev.fadeLevel = ev.baseVolume
	}

	for _, s := range ev.sources {
		s.Voice.SetPitch(ev.basePitch)
	}
	if ev.emitter != nil {
		ev.follow()
	}
	if ev.delay <= 0 {
		ev.startVoices()
	}
	ev.refresh()
	ev.applyMute(ev.engine.anySolo())
}

func (ev *ActiveEvent) startVoices() {
	ev.started = true
	if ev.fadeIn > 0 {
		ev.fadeTo(ev.baseVolume, ev.fadeIn)
	}
	for _, s := range ev.sources {
		s.Voice.Play()
	}
	if len(ev.sources) > 0 {
		ev.lastTime = ev.sources[0].Voice.Time()
	}
}

func (ev *ActiveEvent) fadeTo(target, duration float64) {
	ev.fadeOrigin = ev.fadeLevel
	ev.fadeTarget = target
	ev.fadeDuration = duration
	ev.fadeElapsed = 0
	ev.fading = true
}

// update runs one tick for a playing event.
func (ev *ActiveEvent) update(dt float64, solo bool) {
	if ev.state != StatePlayed {
		return
	}
	ev.elapsed += dt

	if !ev.started {
		if ev.elapsed < ev.delay {
			return
		}
		ev.startVoices()
	} else if ev.fading {
		ev.fadeElapsed += dt
		t := 1.0
		if ev.fadeDuration > 0 {
			t = math.Min(1, ev.fadeElapsed/ev.fadeDuration)
		}
		ev.fadeLevel = ev.fadeOrigin + (ev.fadeTarget-ev.fadeOrigin)*t
		if t >= 1 {
			ev.fading = false
			if ev.stopQueued {
				ev.StopImmediate(ev.removalDelay)
				return
			}
		}
	}

	if ev.emitter != nil {
		ev.follow()
	}

	if !ev.routing.Loop && !ev.external && len(ev.sources) > 0 {
		if ev.finished() {
			ev.engine.logger.Debug("event finished",
				"event_id", ev.id,
				"graph", ev.graph.Name,
			)
			ev.StopImmediate(ev.removalDelay)
			return
		}
		if remaining := ev.Remaining(); ev.fadeOut > 0 && !ev.stopQueued && remaining <= ev.fadeOut {
			ev.fadeTo(0, remaining)
			ev.stopQueued = true
		}
	}

	if ev.gazeRef != nil && len(ev.sources) > 0 {
		ev.gaze()
	}

	ev.refresh()
	ev.applyMute(solo)
}

// finished reports whether no voice is playing any more or the primary
// voice wrapped back towards zero.
func (ev *ActiveEvent) finished() bool {
	playing := false
	for _, s := range ev.sources {
		if s.Voice.Playing() {
			playing = true
			break
		}
	}
	if !playing {
		return true
	}

	t := ev.sources[0].Voice.Time()
	wrapped := t < ev.lastTime
	ev.lastTime = t
	return wrapped
}

func (ev *ActiveEvent) follow() {
	pos := ev.emitter.Position()
	for _, s := range ev.sources {
		s.Voice.SetPosition(pos)
	}
}

// gaze writes the angle between the reference's forward vector and the
// direction to the primary voice into every gaze parameter.
func (ev *ActiveEvent) gaze() {
	to := ev.sources[0].Voice.WorldPosition().Sub(ev.gazeRef.Position())
	angle := ev.gazeRef.Forward().AngleTo(to)
	for _, p := range ev.params {
		if p.Gaze() {
			p.Override(angle)
		}
	}
}

// refresh syncs parameters and pushes volume and pitch to the voices.
func (ev *ActiveEvent) refresh() {
	vol := ev.fadeLevel
	pitch := ev.basePitch
	for _, p := range ev.params {
		p.Sync()
		switch p.Role() {
		case param.RoleVolume:
			vol *= p.Result()
		case param.RolePitch:
			pitch *= p.Result()
		}
	}
	ev.volume = vol
	ev.pitch = pitch

	for _, s := range ev.sources {
		v := vol
		if s.Param != nil {
			v *= s.Curve.Evaluate(s.Param.Value())
		}
		s.Voice.SetVolume(v)
		s.Voice.SetPitch(pitch)
	}
}

func (ev *ActiveEvent) applyMute(solo bool) {
	muted := ev.muted
	if solo {
		muted = !ev.soloed
	}
	for _, s := range ev.sources {
		s.Voice.SetMute(muted)
	}
}

func (ev *ActiveEvent) voiceIDs() []voice.ID {
	ids := make([]voice.ID, len(ev.sources))
	for i, s := range ev.sources {
		ids[i] = s.Voice.ID()
	}
	return ids
}

func (ev *ActiveEvent) clipNames() []string {
	names := make([]string, len(ev.sources))
	for i, s := range ev.sources {
		names[i] = s.Clip.Name
	}
	return names
}
