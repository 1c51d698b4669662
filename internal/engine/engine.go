package engine

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	"github.com/roach88/earshot/internal/audio"
	"github.com/roach88/earshot/internal/graph"
	"github.com/roach88/earshot/internal/param"
	"github.com/roach88/earshot/internal/voice"
)

const (
	// DefaultCapacity is the default number of voices in the pool.
	DefaultCapacity = 32

	// DefaultHistorySize is the default length of the history ring.
	DefaultHistorySize = 64

	// DefaultRemovalDelay is the default grace period, in seconds, between
	// an event stopping and its voices returning to the pool.
	DefaultRemovalDelay = 1.0
)

const tracerName = "github.com/roach88/earshot/internal/engine"

// Engine is the runtime context: it owns the voice pool, the active
// registry, the history ring, the parameter registry and the clock.
//
// Thread-safety model:
//   - Enqueue(): safe from any goroutine
//   - everything else: only from the goroutine that drives Tick (or Run)
//
// INVARIANTS:
//   - a voice is bound to at most one active event
//   - active order is play order; removal never reorders survivors
//   - voices return to the pool only through deferred removal or Close
type Engine struct {
	logger    *slog.Logger
	clock     *Clock
	rng       *rand.Rand
	ids       IDGenerator
	device    voice.Device
	pool      *voice.Pool
	params    *param.Registry
	mixer     Mixer
	recorder  Recorder
	observers []Observer
	tracer    trace.Tracer
	commands  *commandQueue
	schedule  *schedule

	active       []*ActiveEvent
	history      *history
	capacity     int
	historySize  int
	removalDelay float64

	language language.Tag
	switches map[string]int
	closed   bool
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithCapacity sets the voice pool capacity.
//
// Default: 32 voices (DefaultCapacity)
func WithCapacity(n int) EngineOption {
	return func(e *Engine) {
		e.capacity = n
	}
}

// WithHistorySize sets the length of the history ring.
func WithHistorySize(n int) EngineOption {
	return func(e *Engine) {
		e.historySize = n
	}
}

// WithDefaultRemovalDelay sets the default deferred-removal delay in seconds.
func WithDefaultRemovalDelay(d float64) EngineOption {
	return func(e *Engine) {
		e.removalDelay = d
	}
}

// WithRand injects the random source used by random selectors, start
// offsets and volume/pitch sampling.
func WithRand(r *rand.Rand) EngineOption {
	return func(e *Engine) {
		e.rng = r
	}
}

// WithSeed is WithRand with a PCG generator seeded from seed.
func WithSeed(seed uint64) EngineOption {
	return WithRand(rand.New(rand.NewPCG(seed, seed)))
}

// WithIDGenerator sets the active-event handle generator.
// Use NewFixedGenerator or NewCounterGenerator in tests.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithClock replaces the engine clock, for example with a wrapping clock.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMixer sets the collaborator that receives snapshot transitions.
func WithMixer(m Mixer) EngineOption {
	return func(e *Engine) {
		e.mixer = m
	}
}

// WithRecorder persists plays and state transitions.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithObserver registers an observer. May be given more than once.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

// WithTracer sets the tracer wrapping Play. Default: the global provider.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithLanguage sets the initial language. The tag must already be valid;
// use SetLanguage to parse untrusted input.
func WithLanguage(tag language.Tag) EngineOption {
	return func(e *Engine) {
		e.language = tag
	}
}

// New creates an Engine whose voices are created by device.
//
// The pool is sized by WithCapacity and its voices are created lazily on
// the first play request.
func New(device voice.Device, opts ...EngineOption) *Engine {
	e := &Engine{
		logger:       slog.Default(),
		clock:        NewClock(),
		ids:          UUIDv7Generator{},
		device:       device,
		params:       param.NewRegistry(),
		mixer:        NopMixer{},
		commands:     newCommandQueue(),
		schedule:     newSchedule(),
		capacity:     DefaultCapacity,
		historySize:  DefaultHistorySize,
		removalDelay: DefaultRemovalDelay,
		language:     language.English,
		switches:     make(map[string]int),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(randomSeed(), randomSeed()))
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	e.pool = voice.NewPool(e.capacity, device)
	e.history = newHistory(e.historySize)

	return e
}

func randomSeed() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b[:])
}

// PlayOption configures a single play request.
type PlayOption func(*ActiveEvent)

// WithEmitter makes the event follow an emitter's position every tick.
func WithEmitter(em audio.Emitter) PlayOption {
	return func(ev *ActiveEvent) {
		ev.emitter = em
	}
}

// WithPosition plays the event at a fixed position.
func WithPosition(pos audio.Vec3) PlayOption {
	return WithEmitter(audio.FixedPoint(pos))
}

// WithFadeIn overrides the graph's fade-in duration.
func WithFadeIn(seconds float64) PlayOption {
	return func(ev *ActiveEvent) {
		ev.fadeIn = seconds
	}
}

// WithFadeOut overrides the graph's fade-out duration.
func WithFadeOut(seconds float64) PlayOption {
	return func(ev *ActiveEvent) {
		ev.fadeOut = seconds
	}
}

// WithDelay overrides the graph's initial delay. Delay nodes add to it.
func WithDelay(seconds float64) PlayOption {
	return func(ev *ActiveEvent) {
		ev.delay = seconds
	}
}

// WithRemovalDelay overrides the engine's deferred-removal delay.
func WithRemovalDelay(seconds float64) PlayOption {
	return func(ev *ActiveEvent) {
		ev.removalDelay = seconds
	}
}

// OnComplete registers a callback fired exactly once when the event stops.
func OnComplete(fn func(*ActiveEvent)) PlayOption {
	return func(ev *ActiveEvent) {
		ev.onComplete = fn
	}
}

// WithParameter starts the event with an instance-local override.
func WithParameter(name string, value float64) PlayOption {
	return func(ev *ActiveEvent) {
		if ev.overrides == nil {
			ev.overrides = make(map[string]float64)
		}
		ev.overrides[name] = value
	}
}

// WithGazeReference sets the transform whose forward vector drives
// gaze parameters, usually the listener camera.
func WithGazeReference(ref audio.Transform) PlayOption {
	return func(ev *ActiveEvent) {
		ev.gazeRef = ref
	}
}

// Play admits, evaluates and starts one instance of g.
//
// Returns the new event, or nil and an error when admission rejects the
// request or evaluation produced nothing to play. A rejected request
// creates no state; a failed evaluation is recorded in history in the
// Error state and holds no voices.
func (e *Engine) Play(ctx context.Context, g *graph.Graph, opts ...PlayOption) (*ActiveEvent, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Play",
		trace.WithAttributes(attribute.String("earshot.graph", graphName(g))))
	defer span.End()

	ev, err := e.play(ctx, g, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("earshot.event_id", ev.id),
		attribute.Int("earshot.voices", len(ev.sources)),
	)
	return ev, nil
}

func (e *Engine) play(ctx context.Context, g *graph.Graph, opts []PlayOption) (*ActiveEvent, error) {
	if e.closed {
		return nil, &RuntimeError{Code: ErrCodeEngineClosed, Message: "engine is closed", Graph: graphName(g)}
	}
	if g == nil {
		return nil, &RuntimeError{Code: ErrCodeAdmissionRejected, Message: "nil event graph"}
	}

	if err := e.admit(g); err != nil {
		e.logger.Debug("play rejected", "graph", g.Name, "error", err)
		e.notify(ctx, Notice{Kind: NoticeRejected, Graph: g.Name, Err: err})
		return nil, err
	}

	ev := newActiveEvent(e, g, e.ids.Generate())
	for _, opt := range opts {
		opt(ev)
	}
	ev.bindParameters()

	if err := e.evaluate(ev); err != nil {
		ev.state = StateError
		ev.err = err
		e.history.Push(ev)
		e.logger.Warn("event failed to play",
			"event_id", ev.id,
			"graph", g.Name,
			"error", err,
		)
		e.notify(ctx, Notice{Kind: NoticeFailed, EventID: ev.id, Graph: g.Name, From: StateInitialized, To: StateError, Err: err})
		return nil, err
	}

	e.active = append(e.active, ev)
	e.history.Push(ev)
	ev.begin()

	if ev.external {
		e.schedule.At(e.clock.Now()+ev.externalDuration, "snapshot "+ev.id, func() {
			ev.StopImmediate(ev.removalDelay)
		})
	}

	e.logger.Info("event played",
		"event_id", ev.id,
		"graph", g.Name,
		"voices", len(ev.sources),
		"delay", ev.delay,
	)
	e.notify(ctx, Notice{Kind: NoticePlayed, EventID: ev.id, Graph: g.Name, From: StateInitialized, To: StatePlayed, Clips: ev.clipNames()})

	return ev, nil
}

// StopAll stops every playing instance of g, fading out where the event
// has a fade-out configured. Returns the number of events stopped.
func (e *Engine) StopAll(g *graph.Graph) int {
	return e.stopWhere(func(ev *ActiveEvent) bool { return ev.graph == g })
}

// StopGroup stops every playing event in mutual-exclusion group id.
func (e *Engine) StopGroup(id int) int {
	if id == 0 {
		return 0
	}
	return e.stopWhere(func(ev *ActiveEvent) bool { return ev.graph.Group == id })
}

func (e *Engine) stopWhere(match func(*ActiveEvent) bool) int {
	n := 0
	for _, ev := range e.Active() {
		if ev.state == StatePlayed && match(ev) {
			ev.Stop()
			n++
		}
	}
	return n
}

// Unload force-stops every instance of a graph whose definition is going
// away and rewinds its sequence cursors, so a reloaded definition starts
// from its first branches. Voices are reclaimed on the next tick.
func (e *Engine) Unload(g *graph.Graph) int {
	g.ResetSequences()
	n := 0
	for _, ev := range e.Active() {
		if ev.graph != g {
			continue
		}
		if ev.state == StatePlayed {
			ev.StopImmediate(0)
			n++
		}
	}
	if n > 0 {
		e.logger.Warn("graph unloaded while playing", "graph", g.Name, "stopped", n)
	}
	return n
}

// SetLanguage sets the current language from a BCP 47 tag.
func (e *Engine) SetLanguage(id string) error {
	tag, err := language.Parse(id)
	if err != nil {
		return fmt.Errorf("set language %q: %w", id, err)
	}
	e.language = tag
	e.logger.Debug("language set", "language", tag.String())
	return nil
}

// Language returns the current language.
func (e *Engine) Language() language.Tag {
	return e.language
}

// SetSwitch sets the integer value read by switch selectors.
func (e *Engine) SetSwitch(id string, value int) {
	e.switches[id] = value
}

// Switch returns the current value of a switch (0 if never set).
func (e *Engine) Switch(id string) int {
	return e.switches[id]
}

// SetParameter sets a global parameter. Instances pick the value up on
// their next tick unless they hold a local override.
func (e *Engine) SetParameter(name string, value float64) {
	e.params.Set(name, value)
}

// Params returns the global parameter registry.
func (e *Engine) Params() *param.Registry {
	return e.params
}

// Pool returns the voice pool.
func (e *Engine) Pool() *voice.Pool {
	return e.pool
}

// Clock returns the engine clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// Active returns a snapshot of the active registry in play order.
func (e *Engine) Active() []*ActiveEvent {
	return slices.Clone(e.active)
}

// History returns every recorded event, oldest first.
func (e *Engine) History() []*ActiveEvent {
	return e.history.Items()
}

// Enqueue submits a command to run at the start of the next tick.
// Thread-safe: may be called from any goroutine.
//
// Returns false if the engine has been closed.
func (e *Engine) Enqueue(c Command) bool {
	return e.commands.Enqueue(c)
}

// advancer is implemented by simulated devices that need the engine to
// move their playback positions.
type advancer interface {
	Advance(dt float64)
}

// Tick advances the runtime by dt seconds.
//
// Order within a tick: queued commands run, the device advances, the clock
// advances, every active event updates in play order, then due scheduled
// entries (deferred removals, snapshot timers) run. A clock reading lower
// than the previous one is a rollover and drains every scheduled entry.
func (e *Engine) Tick(dt float64) {
	for _, c := range e.commands.TakeAll() {
		e.runCommand(c)
	}
	if e.closed {
		return
	}

	if a, ok := e.device.(advancer); ok {
		a.Advance(dt)
	}

	prev := e.clock.Now()
	now := e.clock.Advance(dt)

	solo := e.anySolo()
	for _, ev := range e.Active() {
		ev.update(dt, solo)
	}

	if now < prev {
		n := e.schedule.DrainAll()
		e.logger.Warn("clock rollover, flushed scheduled entries",
			"previous", prev,
			"now", now,
			"flushed", n,
		)
		return
	}
	e.schedule.DrainDue(now)
}

// runCommand runs c, logging a panic instead of losing the rest of the
// batch.
func (e *Engine) runCommand(c Command) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("command panicked", "panic", fmt.Sprint(r))
		}
	}()
	c(e)
}

// Close stops every active event immediately, returns every voice to the
// pool and closes it. Later Play calls fail with ENGINE_CLOSED.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.commands.Close()

	for _, ev := range e.Active() {
		ev.StopImmediate(0)
	}
	e.schedule.Clear()
	for _, ev := range e.Active() {
		e.remove(ev)
	}
	e.pool.Close()

	e.logger.Info("engine closed")
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	return e.closed
}

// remove drops ev from the active registry and returns its voices.
func (e *Engine) remove(ev *ActiveEvent) {
	i := slices.Index(e.active, ev)
	if i < 0 {
		return
	}
	e.active = slices.Delete(e.active, i, i+1)

	ids := ev.voiceIDs()
	released := e.pool.Release(ids...)
	ev.removed = true

	e.logger.Debug("event removed",
		"event_id", ev.id,
		"graph", ev.graph.Name,
		"voices_released", released,
	)
	e.notify(context.Background(), Notice{Kind: NoticeRemoved, EventID: ev.id, Graph: ev.graph.Name, From: ev.state, To: ev.state})
}

func (e *Engine) anySolo() bool {
	for _, ev := range e.active {
		if ev.soloed && ev.state == StatePlayed {
			return true
		}
	}
	return false
}

// refreshMutes reapplies the mute/solo rule to every active event.
func (e *Engine) refreshMutes() {
	solo := e.anySolo()
	for _, ev := range e.active {
		ev.applyMute(solo)
	}
}

func graphName(g *graph.Graph) string {
	if g == nil {
		return ""
	}
	return g.Name
}
