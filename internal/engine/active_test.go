package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/earshot/internal/audio"
	"github.com/roach88/earshot/internal/curve"
	"github.com/roach88/earshot/internal/graph"
	"github.com/roach88/earshot/internal/param"
	"github.com/roach88/earshot/internal/testutil"
	"github.com/roach88/earshot/internal/voice"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "initialized", StateInitialized.String())
	assert.Equal(t, "played", StatePlayed.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "error", StateError.String())
}

func TestActiveEvent_PlayStartsVoices(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "door", testutil.Clip("door", 2))

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, StatePlayed, ev.State())
	assert.True(t, ev.Started())
	assert.True(t, sim(t, ev, 0).Playing())
	assert.Equal(t, 1.0, sim(t, ev, 0).Volume)
	assert.Equal(t, []*ActiveEvent{ev}, e.Active())
}

func TestActiveEvent_FadeIn(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "wind", testutil.Clip("wind", 30))
	g.OutputBody().VolumeMin, g.OutputBody().VolumeMax = 0.8, 0.8

	ev, err := e.Play(context.Background(), g, WithFadeIn(1))
	require.NoError(t, err)
	assert.Equal(t, 0.0, ev.Volume(), "volume at tick 0 is 0")

	prev := ev.Volume()
	for range 4 {
		e.Tick(0.25)
		assert.GreaterOrEqual(t, ev.Volume(), prev, "fade-in is monotonic")
		prev = ev.Volume()
	}
	assert.InDelta(t, 0.8, ev.Volume(), 1e-9, "target reached once elapsed >= fade-in")

	e.Tick(0.25)
	assert.InDelta(t, 0.8, ev.Volume(), 1e-9)
	assert.InDelta(t, 0.8, sim(t, ev, 0).Volume, 1e-9)
}

func TestActiveEvent_DelayedStart(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "echo", testutil.Clip("echo", 5))

	ev, err := e.Play(context.Background(), g, WithDelay(0.5))
	require.NoError(t, err)
	v := sim(t, ev, 0)
	assert.False(t, v.Playing())

	e.Tick(0.25)
	assert.False(t, v.Playing())
	e.Tick(0.25)
	assert.True(t, v.Playing())
	assert.Equal(t, 1, v.Plays)
}

func TestActiveEvent_FinishesAndFiresCallbackOnce(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "click", testutil.Clip("click", 1))

	calls := 0
	ev, err := e.Play(context.Background(), g, OnComplete(func(*ActiveEvent) { calls++ }))
	require.NoError(t, err)

	ticks(e, 3, 0.25)
	assert.Equal(t, StatePlayed, ev.State())
	e.Tick(0.25)
	assert.Equal(t, StateStopped, ev.State())

	ev.StopImmediate(0)
	ev.Stop()
	ticks(e, 8, 0.25)
	assert.Equal(t, 1, calls)
	assert.True(t, ev.Removed())
}

// scrubVoice is a simulated voice whose playback position the test sets.
type scrubVoice struct {
	*voice.Sim
	at float64
}

func (v *scrubVoice) Time() float64 { return v.at }

func TestActiveEvent_WrapToZeroForcesStop(t *testing.T) {
	var voices []*scrubVoice
	dev := voice.DeviceFunc(func(id voice.ID) voice.Voice {
		v := &scrubVoice{Sim: voice.NewSimDevice().NewVoice(id).(*voice.Sim)}
		voices = append(voices, v)
		return v
	})
	e := New(dev, WithCapacity(1), WithLogger(testutil.DiscardLogger()), WithSeed(1))
	t.Cleanup(e.Close)
	g := testutil.SingleFile(t, "rain", testutil.Clip("rain", 10))

	calls := 0
	ev, err := e.Play(context.Background(), g, OnComplete(func(*ActiveEvent) { calls++ }))
	require.NoError(t, err)
	require.Len(t, voices, 1)

	voices[0].at = 3
	e.Tick(0.1)
	assert.Equal(t, StatePlayed, ev.State())
	assert.True(t, voices[0].Playing())

	voices[0].at = 0
	e.Tick(0.1)
	assert.Equal(t, StateStopped, ev.State(), "a non-looping voice jumping back to zero ends the event")
	assert.False(t, voices[0].Playing())

	ticks(e, 3, 0.5)
	assert.Equal(t, 1, calls)
	assert.True(t, ev.Removed())
}

func TestActiveEvent_ReacquiredVoiceStartsAtOrigin(t *testing.T) {
	e, _ := newTestEngine(t, WithCapacity(1))
	g := testutil.SingleFile(t, "thud", testutil.Clip("thud", 5))

	first, err := e.Play(context.Background(), g, WithPosition(audio.Vec3{X: 5, Y: 1}))
	require.NoError(t, err)
	v := sim(t, first, 0)
	assert.Equal(t, audio.Vec3{X: 5, Y: 1}, v.WorldPosition())
	first.StopImmediate(0)
	e.Tick(0.01)
	require.True(t, first.Removed())

	second, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	assert.Same(t, v, sim(t, second, 0), "the only voice is reused")
	assert.Equal(t, audio.Vec3{}, v.WorldPosition())
}

func TestActiveEvent_LoopingNeverFinishes(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "hum", testutil.Clip("hum", 1))
	g.OutputBody().Routing.Loop = true

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	ticks(e, 20, 0.3)
	assert.Equal(t, StatePlayed, ev.State())
	assert.True(t, sim(t, ev, 0).Playing())
}

func TestActiveEvent_FadedStop(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "rain", testutil.Clip("rain", 30))
	g.FadeOut = 1

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	e.Tick(0.25)

	ev.Stop()
	assert.Equal(t, StatePlayed, ev.State(), "fade runs before the stop")

	ticks(e, 2, 0.25)
	assert.InDelta(t, 0.5, ev.Volume(), 1e-9)
	assert.Equal(t, StatePlayed, ev.State())

	ticks(e, 2, 0.25)
	assert.Equal(t, StateStopped, ev.State())
	assert.False(t, sim(t, ev, 0).Playing())
}

func TestActiveEvent_AutoFadeOutOnRemainingTime(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "bell", testutil.Clip("bell", 2))
	g.FadeOut = 0.5

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)

	ticks(e, 6, 0.25) // remaining reaches the fade-out window
	assert.InDelta(t, 1.0, ev.Volume(), 1e-9)
	e.Tick(0.25)
	assert.InDelta(t, 0.5, ev.Volume(), 1e-9)
	assert.Equal(t, StatePlayed, ev.State())
	e.Tick(0.25)
	assert.Equal(t, StateStopped, ev.State())
}

func TestActiveEvent_StopBeforeStartIsImmediate(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "late", testutil.Clip("late", 5))
	g.FadeOut = 2

	ev, err := e.Play(context.Background(), g, WithDelay(1))
	require.NoError(t, err)
	ev.Stop()
	assert.Equal(t, StateStopped, ev.State())
}

func TestActiveEvent_DeferredRemoval(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "drone", testutil.Clip("drone", 30))

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	ticks(e, 2, 0.25) // t = 0.5

	ev.StopImmediate(1)
	assert.Contains(t, e.Active(), ev, "removal is never synchronous")

	ticks(e, 3, 0.25) // t = 1.25
	assert.Contains(t, e.Active(), ev, "still registered before t+d")
	assert.Equal(t, 31, e.Pool().Free(), "voice held until removal")

	ticks(e, 2, 0.25) // t = 1.75
	assert.NotContains(t, e.Active(), ev, "gone after t+d")
	assert.True(t, ev.Removed())
	assert.Equal(t, 32, e.Pool().Free())
}

func TestActiveEvent_DefaultRemovalDelay(t *testing.T) {
	e, _ := newTestEngine(t)
	ev, err := e.Play(context.Background(), testutil.SingleFile(t, "x", testutil.Clip("x", 30)))
	require.NoError(t, err)

	ev.Stop()
	ticks(e, 3, 0.25)
	assert.False(t, ev.Removed())
	ticks(e, 2, 0.25)
	assert.True(t, ev.Removed())
}

func TestActiveEvent_PoolRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t, WithCapacity(4))
	layers := testutil.Selector(t, "layers", &graph.Blend{},
		testutil.Clip("a", 10), testutil.Clip("b", 10), testutil.Clip("c", 10))
	single := testutil.SingleFile(t, "one", testutil.Clip("one", 10))

	big, err := e.Play(context.Background(), layers)
	require.NoError(t, err)
	_, err = e.Play(context.Background(), single)
	require.NoError(t, err)
	require.Equal(t, 0, e.Pool().Free())

	big.StopImmediate(0)
	e.Tick(0.1)
	assert.Equal(t, 3, e.Pool().Free(), "exactly the event's voices come back")

	e.Tick(0.1)
	assert.Equal(t, 3, e.Pool().Free(), "never more")
}

func TestActiveEvent_MuteAndSolo(t *testing.T) {
	e, _ := newTestEngine(t)
	a, err := e.Play(context.Background(), testutil.SingleFile(t, "a", testutil.Clip("a", 30)))
	require.NoError(t, err)
	b, err := e.Play(context.Background(), testutil.SingleFile(t, "b", testutil.Clip("b", 30)))
	require.NoError(t, err)

	b.SetMute(true)
	assert.True(t, sim(t, b, 0).Muted)
	assert.False(t, sim(t, a, 0).Muted)
	b.SetMute(false)

	a.SetSolo(true)
	assert.False(t, sim(t, a, 0).Muted)
	assert.True(t, sim(t, b, 0).Muted, "non-soloed events are muted while anything is soloed")

	c, err := e.Play(context.Background(), testutil.SingleFile(t, "c", testutil.Clip("c", 30)))
	require.NoError(t, err)
	assert.True(t, sim(t, c, 0).Muted, "new events obey an existing solo")

	a.SetSolo(false)
	e.Tick(0.1)
	assert.False(t, sim(t, b, 0).Muted)
	assert.False(t, sim(t, c, 0).Muted)
}

func TestActiveEvent_FollowsEmitter(t *testing.T) {
	e, _ := newTestEngine(t)
	mover := &testutil.Mover{Pos: audio.Vec3{X: 1}}

	ev, err := e.Play(context.Background(), testutil.SingleFile(t, "car", testutil.Clip("car", 30)), WithEmitter(mover))
	require.NoError(t, err)
	assert.Equal(t, audio.Vec3{X: 1}, sim(t, ev, 0).Pos)

	mover.Pos = audio.Vec3{X: 5, Z: 2}
	e.Tick(0.1)
	assert.Equal(t, audio.Vec3{X: 5, Z: 2}, sim(t, ev, 0).Pos)
}

func TestActiveEvent_ParameterRolesAndOverride(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "engine", testutil.Clip("rev", 30))
	g.Parameters = []param.EventParameter{
		{Name: "rpm", Curve: curve.Linear(0, 1, 1, 2), Role: param.RolePitch},
		{Name: "load", Curve: curve.Linear(0, 0.5, 1, 1), Role: param.RoleVolume},
	}
	e.SetParameter("rpm", 1)

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, ev.Pitch(), 1e-9)
	assert.InDelta(t, 0.5, ev.Volume(), 1e-9, "load defaults to 0")

	require.True(t, ev.SetParameter("rpm", 0))
	assert.InDelta(t, 1.0, ev.Pitch(), 1e-9, "override applies at once")

	e.SetParameter("rpm", 0.5)
	e.Tick(0.1)
	assert.InDelta(t, 1.0, ev.Pitch(), 1e-9, "overridden instance ignores global")

	require.True(t, ev.ResetParameter("rpm"))
	assert.InDelta(t, 1.5, ev.Pitch(), 1e-9)
	assert.InDelta(t, 1.5, sim(t, ev, 0).Pitch, 1e-9)

	assert.False(t, ev.SetParameter("missing", 1))
}

func TestActiveEvent_PlayTimeParameterOverride(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "engine", testutil.Clip("rev", 30))
	g.Parameters = []param.EventParameter{{Name: "rpm", Curve: curve.Linear(0, 1, 1, 3), Role: param.RolePitch}}

	ev, err := e.Play(context.Background(), g, WithParameter("rpm", 1))
	require.NoError(t, err)
	p, ok := ev.Parameter("rpm")
	require.True(t, ok)
	assert.True(t, p.Dirty())
	assert.InDelta(t, 3.0, ev.Pitch(), 1e-9)
}

func TestActiveEvent_BlendSourceWeighting(t *testing.T) {
	e, _ := newTestEngine(t)
	g := graph.New("crowd")
	testutil.AddNode(t, g, "blend", &graph.Blend{})
	testutil.AddNode(t, g, "calm", &graph.BlendFile{
		File:      graph.File{Clip: testutil.Clip("calm", 30)},
		Parameter: "excitement",
		Curve:     curve.Linear(0, 1, 1, 0),
	})
	testutil.AddNode(t, g, "roar", &graph.BlendFile{
		File:      graph.File{Clip: testutil.Clip("roar", 30)},
		Parameter: "excitement",
		Curve:     curve.Linear(0, 0, 1, 1),
	})
	testutil.Connect(t, g, graph.OutputID, "blend")
	testutil.Connect(t, g, "blend", "calm", "roar")
	e.SetParameter("excitement", 0.25)

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, sim(t, ev, 0).Volume, 1e-9)
	assert.InDelta(t, 0.25, sim(t, ev, 1).Volume, 1e-9)

	e.SetParameter("excitement", 1)
	e.Tick(0.1)
	assert.InDelta(t, 0.0, sim(t, ev, 0).Volume, 1e-9)
	assert.InDelta(t, 1.0, sim(t, ev, 1).Volume, 1e-9)
	assert.InDelta(t, 1.0, ev.Volume(), 1e-9, "weight-only parameters leave the event volume alone")
}

func TestActiveEvent_GazeDrivesParameter(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "whisper", testutil.Clip("whisper", 30))
	g.Parameters = []param.EventParameter{
		{Name: "look", Curve: curve.Linear(0, 1, 180, 0), Role: param.RoleVolume, Gaze: true},
	}
	cam := &testutil.Camera{Fwd: audio.Vec3{Z: 1}}

	ev, err := e.Play(context.Background(), g,
		WithPosition(audio.Vec3{X: 1}),
		WithGazeReference(cam),
	)
	require.NoError(t, err)

	e.Tick(0.1)
	p, ok := ev.Parameter("look")
	require.True(t, ok)
	assert.InDelta(t, 90, p.Value(), 1e-9)
	assert.InDelta(t, 0.5, ev.Volume(), 1e-9)

	cam.Fwd = audio.Vec3{X: 1}
	e.Tick(0.1)
	assert.InDelta(t, 1.0, ev.Volume(), 1e-9, "looking straight at the source")
	_, global := e.Params().Get("look")
	assert.True(t, global, "global parameter exists")
	v, _ := e.Params().Get("look")
	assert.Equal(t, 0.0, v, "gaze never writes the global value")
}

func TestActiveEvent_SnapshotEndsAfterDuration(t *testing.T) {
	e, _ := newTestEngine(t, WithMixer(&testutil.Mixer{}))
	g := graph.New("cave")
	testutil.AddNode(t, g, "snap", &graph.Snapshot{Snapshot: "cave", Seconds: 1})
	testutil.Connect(t, g, graph.OutputID, "snap")

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)

	ticks(e, 3, 0.25)
	assert.Equal(t, StatePlayed, ev.State())
	e.Tick(0.25)
	assert.Equal(t, StateStopped, ev.State())
	ticks(e, 4, 0.25)
	assert.True(t, ev.Removed())
}
