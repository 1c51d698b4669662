package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/earshot/internal/audio"
	"github.com/roach88/earshot/internal/compiler"
	"github.com/roach88/earshot/internal/engine"
	"github.com/roach88/earshot/internal/graph"
	"github.com/roach88/earshot/internal/store"
	"github.com/roach88/earshot/internal/testutil"
	"github.com/roach88/earshot/internal/voice"
)

// Harness is the test execution engine.
// It runs scenarios with deterministic randomness, event IDs and time.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	device  *voice.SimDevice
	mixer   *testutil.Mixer
	events  map[string]*graph.Graph
	aliases map[string]*engine.ActiveEvent
	dt      float64
	tick    int
	done    bool
	logger  *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database and a fresh engine, and
// compiles its assets anew so sequence cursors start at the first branch.
//
// Execution flow:
//  1. Compile event assets
//  2. Create in-memory store, simulated device and engine
//  3. Execute steps, checking play expectations
//  4. Evaluate assertions
//  5. Return result with pass/fail, trace, and errors
func Run(scenario *Scenario) (*Result, error) {
	events, err := compileAssets(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to compile assets: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	result := NewResult()
	h := &Harness{
		store:   st,
		device:  voice.NewSimDevice(),
		mixer:   &testutil.Mixer{},
		events:  events,
		aliases: make(map[string]*engine.ActiveEvent),
		dt:      scenario.DT,
		logger:  testutil.DiscardLogger(),
	}
	if h.dt == 0 {
		h.dt = DefaultDT
	}

	voices := scenario.Voices
	if voices == 0 {
		voices = engine.DefaultCapacity
	}
	h.engine = engine.New(h.device,
		engine.WithCapacity(voices),
		engine.WithSeed(scenario.Seed),
		engine.WithIDGenerator(engine.NewCounterGenerator("ev")),
		engine.WithLogger(h.logger),
		engine.WithMixer(h.mixer),
		engine.WithRecorder(st),
		engine.WithObserver(engine.ObserverFunc(func(n engine.Notice) {
			if !h.done {
				result.Trace = append(result.Trace, h.traceEvent(n))
			}
		})),
	)
	defer h.engine.Close()

	if scenario.Language != "" {
		if err := h.engine.SetLanguage(scenario.Language); err != nil {
			return nil, err
		}
	}

	ctx := context.Background()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	result.Snapshots = append(result.Snapshots, h.mixer.Transitions...)

	actx := &AssertionContext{
		Store:  st,
		Engine: h.engine,
		Ctx:    ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	// Shutdown notices from the deferred Close are not part of the trace.
	h.done = true
	return result, nil
}

// compileAssets compiles the scenario's asset files and inline events into
// a name → graph map. Later definitions of the same name are an error.
func compileAssets(s *Scenario) (map[string]*graph.Graph, error) {
	events := make(map[string]*graph.Graph)
	add := func(filename, src string) error {
		graphs, err := compiler.CompileSource(filename, src)
		if err != nil {
			return err
		}
		for _, g := range graphs {
			if _, dup := events[g.Name]; dup {
				return fmt.Errorf("duplicate event %q in %s", g.Name, filename)
			}
			events[g.Name] = g
		}
		return nil
	}

	for _, path := range s.Assets {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read asset: %w", err)
		}
		if err := add(path, string(data)); err != nil {
			return nil, err
		}
	}
	if s.Events != "" {
		if err := add(s.Name+".cue", s.Events); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// traceEvent converts an engine notice to its trace form.
func (h *Harness) traceEvent(n engine.Notice) TraceEvent {
	ev := TraceEvent{
		Seq:   n.Seq,
		Tick:  h.tick,
		Kind:  string(n.Kind),
		Event: n.EventID,
		Graph: n.Graph,
		Clips: n.Clips,
		Code:  engine.ErrorCode(n.Err),
	}
	switch n.Kind {
	case engine.NoticePlayed, engine.NoticeFailed, engine.NoticeTransition:
		ev.From = n.From.String()
		ev.To = n.To.String()
	}
	return ev
}

// executeStep runs one scripted step. Play failures are outcomes checked
// against the step's expectation, not harness errors; unknown event names
// are harness errors.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	switch step.action() {
	case "play":
		return h.play(ctx, i, step, result)

	case "tick":
		for range step.Tick {
			h.tick++
			h.engine.Tick(h.dt)
		}

	case "stop":
		ev := h.aliases[step.Stop]
		if ev == nil {
			result.AddError(fmt.Sprintf("steps[%d]: %q never played", i, step.Stop))
			return nil
		}
		if step.Immediate {
			ev.StopImmediate(0)
		} else {
			ev.Stop()
		}

	case "stop_all":
		g, err := h.event(step.StopAll)
		if err != nil {
			return err
		}
		h.engine.StopAll(g)

	case "stop_group":
		h.engine.StopGroup(step.StopGroup)

	case "set_language":
		if err := h.engine.SetLanguage(step.SetLanguage); err != nil {
			result.AddError(fmt.Sprintf("steps[%d]: %v", i, err))
		}

	case "set_switch":
		for id, v := range step.SetSwitch {
			h.engine.SetSwitch(id, v)
		}

	case "set_parameter":
		for name, v := range step.SetParameter {
			h.engine.SetParameter(name, v)
		}

	case "mute":
		if ev := h.aliases[step.Mute]; ev != nil {
			ev.SetMute(true)
		}

	case "solo":
		if ev := h.aliases[step.Solo]; ev != nil {
			ev.SetSolo(true)
		}
	}

	h.logger.Info("step completed", "step", i, "action", step.action(), "tick", h.tick)
	return nil
}

func (h *Harness) play(ctx context.Context, i int, step Step, result *Result) error {
	g, err := h.event(step.Play)
	if err != nil {
		return err
	}

	var opts []engine.PlayOption
	if p := step.Position; p != nil {
		opts = append(opts, engine.WithPosition(audio.Vec3{X: p[0], Y: p[1], Z: p[2]}))
	}
	if step.FadeIn != nil {
		opts = append(opts, engine.WithFadeIn(*step.FadeIn))
	}
	if step.FadeOut != nil {
		opts = append(opts, engine.WithFadeOut(*step.FadeOut))
	}
	if step.Delay != nil {
		opts = append(opts, engine.WithDelay(*step.Delay))
	}
	for name, v := range step.Params {
		opts = append(opts, engine.WithParameter(name, v))
	}

	ev, err := h.engine.Play(ctx, g, opts...)
	outcome := OutcomePlayed
	switch {
	case err == nil:
		if step.As != "" {
			h.aliases[step.As] = ev
		}
	case engine.IsAdmissionError(err):
		outcome = OutcomeRejected
	default:
		outcome = OutcomeFailed
	}

	if step.Expect != "" && step.Expect != outcome {
		msg := fmt.Sprintf("steps[%d]: play %s: expected %s, got %s", i, step.Play, step.Expect, outcome)
		if err != nil {
			msg += fmt.Sprintf(" (%v)", err)
		}
		result.AddError(msg)
	}
	if step.Code != "" {
		if code := engine.ErrorCode(err); code != step.Code {
			result.AddError(fmt.Sprintf("steps[%d]: play %s: expected code %s, got %q", i, step.Play, step.Code, code))
		}
	}
	return nil
}

func (h *Harness) event(name string) (*graph.Graph, error) {
	g, ok := h.events[name]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", name)
	}
	return g, nil
}
