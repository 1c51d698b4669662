package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/earshot/internal/audio"
	"github.com/roach88/earshot/internal/curve"
	"github.com/roach88/earshot/internal/graph"
	"github.com/roach88/earshot/internal/testutil"
)

func nodes(ev *ActiveEvent) []graph.NodeID {
	var out []graph.NodeID
	for _, s := range ev.Sources() {
		out = append(out, s.Node)
	}
	return out
}

func TestEvaluate_SingleFileOffsetWithinWindow(t *testing.T) {
	clip := testutil.Clip("step", 4)
	for seed := range uint64(20) {
		e, _ := newTestEngine(t, WithSeed(seed))
		g := graph.New("step")
		testutil.AddNode(t, g, "file", &graph.File{Clip: clip, MinStart: 0.25, MaxStart: 0.5})
		testutil.Connect(t, g, graph.OutputID, "file")

		ev, err := e.Play(context.Background(), g)
		require.NoError(t, err)
		src := ev.Sources()
		require.Len(t, src, 1)
		assert.Same(t, clip, src[0].Clip)
		assert.GreaterOrEqual(t, src[0].Offset, 1.0)
		assert.LessOrEqual(t, src[0].Offset, 2.0)
		assert.Equal(t, src[0].Offset, sim(t, ev, 0).Time(), "voice loaded at the offset")
	}
}

func TestEvaluate_FixedOffset(t *testing.T) {
	e, _ := newTestEngine(t)
	g := graph.New("fixed")
	testutil.AddNode(t, g, "file", &graph.File{Clip: testutil.Clip("c", 2), MinStart: 0.5, MaxStart: 0.5})
	testutil.Connect(t, g, graph.OutputID, "file")

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 1.0, ev.Sources()[0].Offset)
}

func TestEvaluate_OutputSamplesRangesAndRoutes(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "engine", testutil.Clip("idle", 3))
	out := g.OutputBody()
	out.VolumeMin, out.VolumeMax = 0.5, 0.8
	out.PitchMin, out.PitchMax = 0.9, 1.1
	out.Routing = audio.Routing{Mixer: "sfx", Loop: true, Spatial: audio.Spatial{Blend: 1, MaxDistance: 40}}

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, ev.BaseVolume(), 0.5)
	assert.LessOrEqual(t, ev.BaseVolume(), 0.8)
	assert.GreaterOrEqual(t, ev.BasePitch(), 0.9)
	assert.LessOrEqual(t, ev.BasePitch(), 1.1)

	v := sim(t, ev, 0)
	assert.True(t, v.Loop)
	assert.Equal(t, "sfx", v.Routing.Mixer)
	assert.Equal(t, 40.0, v.Routing.Spatial.MaxDistance)
}

func TestEvaluate_BlendBindsEveryBranch(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.Selector(t, "layers", &graph.Blend{},
		testutil.Clip("low", 2), testutil.Clip("mid", 2), testutil.Clip("high", 2))

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{"low", "mid", "high"}, nodes(ev))
}

func TestEvaluate_BlendSkipsInvalidBranches(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.Selector(t, "layers", &graph.Blend{},
		testutil.Clip("low", 2), testutil.Clip("broken", 0), testutil.Clip("high", 2))
	testutil.AddNode(t, g, "missing", &graph.File{})
	testutil.Connect(t, g, "sel", "missing")

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err, "event still plays with N-M > 0 bindings")
	assert.Equal(t, []graph.NodeID{"low", "high"}, nodes(ev))
}

func TestEvaluate_BlendDiamondBindsLeafOnce(t *testing.T) {
	e, _ := newTestEngine(t)
	g := graph.New("diamond")
	testutil.AddNode(t, g, "blend", &graph.Blend{})
	testutil.AddNode(t, g, "left", &graph.Debug{Message: "left"})
	testutil.AddNode(t, g, "right", &graph.Debug{Message: "right"})
	testutil.AddNode(t, g, "leaf", testutil.File(testutil.Clip("c", 1)))
	testutil.Connect(t, g, graph.OutputID, "blend")
	testutil.Connect(t, g, "blend", "left", "right")
	testutil.Connect(t, g, "left", "leaf")
	testutil.Connect(t, g, "right", "leaf")

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{"leaf"}, nodes(ev))
}

func TestEvaluate_SequenceWraps(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.Selector(t, "steps", &graph.Sequence{},
		testutil.Clip("a", 1), testutil.Clip("b", 1), testutil.Clip("c", 1))

	var got []graph.NodeID
	for range 4 {
		ev, err := e.Play(context.Background(), g)
		require.NoError(t, err)
		got = append(got, nodes(ev)...)
	}
	assert.Equal(t, []graph.NodeID{"a", "b", "c", "a"}, got)
}

func TestEvaluate_RandomPicksOneBranch(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.Selector(t, "impacts", &graph.Random{},
		testutil.Clip("a", 1), testutil.Clip("b", 1), testutil.Clip("c", 1))

	seen := make(map[graph.NodeID]bool)
	for range 60 {
		ev, err := e.Play(context.Background(), g)
		require.NoError(t, err)
		got := nodes(ev)
		require.Len(t, got, 1)
		seen[got[0]] = true
		ev.StopImmediate(0)
		e.Tick(0.01)
	}
	assert.Len(t, seen, 3, "every branch reachable")
}

func TestEvaluate_RandomIsReproducibleWithSeed(t *testing.T) {
	run := func() []graph.NodeID {
		e, _ := newTestEngine(t, WithSeed(99))
		g := testutil.Selector(t, "impacts", &graph.Random{},
			testutil.Clip("a", 1), testutil.Clip("b", 1), testutil.Clip("c", 1))
		var out []graph.NodeID
		for range 10 {
			ev, err := e.Play(context.Background(), g)
			require.NoError(t, err)
			out = append(out, nodes(ev)...)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func languageGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New("greeting")
	testutil.AddNode(t, g, "lang", &graph.Language{})
	testutil.AddNode(t, g, "hello-en", &graph.VoiceFile{File: graph.File{Clip: testutil.Clip("hello", 1)}, Language: "en"})
	testutil.AddNode(t, g, "hello-fr", &graph.VoiceFile{File: graph.File{Clip: testutil.Clip("bonjour", 1)}, Language: "fr"})
	testutil.Connect(t, g, graph.OutputID, "lang")
	testutil.Connect(t, g, "lang", "hello-en", "hello-fr")
	return g
}

func TestEvaluate_LanguageMatch(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.SetLanguage("fr"))

	ev, err := e.Play(context.Background(), languageGraph(t))
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{"hello-fr"}, nodes(ev))
}

func TestEvaluate_LanguageUnmatched(t *testing.T) {
	e, _ := newTestEngine(t)
	require.NoError(t, e.SetLanguage("de"))

	ev, err := e.Play(context.Background(), languageGraph(t))
	require.Error(t, err)
	assert.Nil(t, ev)
	assert.True(t, IsNoBindingsError(err))
	assert.True(t, IsAuthoringDefect(err), "unmatched language reported")
	assert.Contains(t, err.Error(), "no voice file for language de")
	assert.Equal(t, 0, e.Pool().Capacity()-e.Pool().Free())
}

func TestEngine_SetLanguageRejectsGarbage(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.Error(t, e.SetLanguage("not a tag!"))
	assert.Equal(t, "en", e.Language().String())
}

func TestEvaluate_Switch(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.Selector(t, "footstep", &graph.Switch{Switch: "surface"},
		testutil.Clip("grass", 1), testutil.Clip("stone", 1))

	e.SetSwitch("surface", 1)
	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{"stone"}, nodes(ev))

	e.SetSwitch("surface", 5)
	_, err = e.Play(context.Background(), g)
	require.Error(t, err)
	assert.True(t, IsNoBindingsError(err))
	assert.True(t, IsAuthoringDefect(err))
}

func TestEvaluate_PoolExhaustionAbortsAndReleases(t *testing.T) {
	e, _ := newTestEngine(t, WithCapacity(2))
	g := testutil.Selector(t, "layers", &graph.Blend{},
		testutil.Clip("a", 1), testutil.Clip("b", 1), testutil.Clip("c", 1))

	ev, err := e.Play(context.Background(), g)
	require.Error(t, err)
	assert.Nil(t, ev)
	assert.True(t, IsPoolExhaustedError(err))
	assert.Equal(t, 2, e.Pool().Free(), "acquired voices returned")

	hist := e.History()
	require.Len(t, hist, 1)
	assert.Equal(t, StateError, hist[0].State())
	assert.Empty(t, hist[0].Sources(), "error events hold no voices")
	assert.Empty(t, e.Active())
}

func TestEvaluate_AbortLeavesNoSideEffects(t *testing.T) {
	mixer := &testutil.Mixer{}
	e, _ := newTestEngine(t, WithCapacity(1), WithMixer(mixer))
	seq := &graph.Sequence{}
	g := graph.New("ambush")
	testutil.AddNode(t, g, "layers", &graph.Blend{})
	testutil.AddNode(t, g, "snap", &graph.Snapshot{Snapshot: "combat", Seconds: 2})
	testutil.AddNode(t, g, "seq", seq)
	testutil.AddNode(t, g, "a", testutil.File(testutil.Clip("a", 1)))
	testutil.AddNode(t, g, "b", testutil.File(testutil.Clip("b", 1)))
	testutil.AddNode(t, g, "horn", testutil.File(testutil.Clip("horn", 1)))
	testutil.Connect(t, g, graph.OutputID, "layers")
	testutil.Connect(t, g, "layers", "snap", "seq", "horn")
	testutil.Connect(t, g, "seq", "a", "b")

	_, err := e.Play(context.Background(), g)
	require.Error(t, err)
	assert.True(t, IsPoolExhaustedError(err))
	assert.Empty(t, mixer.Transitions, "snapshot withheld from a failed play")
	assert.Equal(t, 0, seq.Cursor(), "sequence cursor rewound")
	assert.False(t, e.History()[0].External())
	assert.Equal(t, 1, e.Pool().Free())
}

func TestEvaluate_CycleFailsPlay(t *testing.T) {
	e, _ := newTestEngine(t)
	g := graph.New("loop")
	testutil.AddNode(t, g, "r", &graph.Random{})
	testutil.AddNode(t, g, "s", &graph.Sequence{})
	testutil.AddNode(t, g, "f", testutil.File(testutil.Clip("c", 1)))
	testutil.Connect(t, g, graph.OutputID, "r")
	testutil.Connect(t, g, "r", "s")
	testutil.Connect(t, g, "s", "r", "f")

	ev, err := e.Play(context.Background(), g)
	require.Error(t, err)
	assert.Nil(t, ev)
	assert.True(t, IsCycleError(err))
	assert.Equal(t, StateError, e.History()[0].State())
}

func TestEvaluate_DelayNodeAddsDelay(t *testing.T) {
	e, _ := newTestEngine(t)
	g := graph.New("delayed")
	g.Delay = 0.25
	testutil.AddNode(t, g, "wait", &graph.Delay{Seconds: 0.5})
	testutil.AddNode(t, g, "f", testutil.File(testutil.Clip("c", 5)))
	testutil.Connect(t, g, graph.OutputID, "wait")
	testutil.Connect(t, g, "wait", "f")

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, 0.75, ev.Delay())
	assert.False(t, ev.Started())
}

func TestEvaluate_SnapshotWithoutVoices(t *testing.T) {
	mixer := &testutil.Mixer{}
	e, _ := newTestEngine(t, WithMixer(mixer))
	g := graph.New("enter-cave")
	testutil.AddNode(t, g, "snap", &graph.Snapshot{Snapshot: "cave", Seconds: 2})
	testutil.Connect(t, g, graph.OutputID, "snap")

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	assert.True(t, ev.External())
	assert.Empty(t, ev.Sources())
	assert.Equal(t, []string{"cave@2"}, mixer.Transitions)
}

func TestEvaluate_SnapshotDurationFromParameter(t *testing.T) {
	mixer := &testutil.Mixer{}
	e, _ := newTestEngine(t, WithMixer(mixer))
	e.SetParameter("intensity", 0.5)

	g := graph.New("swell")
	testutil.AddNode(t, g, "snap", &graph.Snapshot{
		Snapshot:  "combat",
		Parameter: "intensity",
		Curve:     curve.Linear(0, 1, 1, 5),
	})
	testutil.Connect(t, g, graph.OutputID, "snap")

	_, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, []string{"combat@3"}, mixer.Transitions)
}

func TestEvaluate_NoVoiceLeakAcrossEvents(t *testing.T) {
	e, _ := newTestEngine(t, WithCapacity(8))
	g := testutil.Selector(t, "pair", &graph.Blend{}, testutil.Clip("a", 5), testutil.Clip("b", 5))

	for range 4 {
		_, err := e.Play(context.Background(), g)
		require.NoError(t, err)
	}

	seen := make(map[int]string)
	for _, ev := range e.Active() {
		for _, s := range ev.Sources() {
			id := int(s.Voice.ID())
			owner, dup := seen[id]
			assert.False(t, dup, "voice %d bound to %s and %s", id, owner, ev.ID())
			seen[id] = ev.ID()
		}
	}
	assert.Len(t, seen, 8)
	assert.Equal(t, 0, e.Pool().Free())
}

func TestEvaluate_OutputFanInTakesFirstInput(t *testing.T) {
	e, _ := newTestEngine(t)
	g := graph.New("double-wired")
	testutil.AddNode(t, g, "first", testutil.File(testutil.Clip("first", 1)))
	testutil.AddNode(t, g, "second", testutil.File(testutil.Clip("second", 1)))
	testutil.Connect(t, g, graph.OutputID, "first", "second")

	for range 10 {
		ev, err := e.Play(context.Background(), g)
		require.NoError(t, err)
		assert.Equal(t, []graph.NodeID{"first"}, nodes(ev))
		ev.StopImmediate(0)
		e.Tick(0.01)
	}
}

func TestEvaluate_PassThroughPicksOneInput(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.Selector(t, "chatter", &graph.Debug{Message: "chatter"},
		testutil.Clip("a", 1), testutil.Clip("b", 1), testutil.Clip("c", 1))

	seen := make(map[graph.NodeID]bool)
	for range 60 {
		ev, err := e.Play(context.Background(), g)
		require.NoError(t, err)
		got := nodes(ev)
		require.Len(t, got, 1, "a pass-through continues into exactly one input")
		seen[got[0]] = true
		ev.StopImmediate(0)
		e.Tick(0.01)
	}
	assert.Len(t, seen, 3, "every input reachable")
}
