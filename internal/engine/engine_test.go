package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/earshot/internal/graph"
	"github.com/roach88/earshot/internal/store"
	"github.com/roach88/earshot/internal/testutil"
)

func TestEngine_StopAllFadesMatchingInstances(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "rain", testutil.Clip("rain", 30))
	g.FadeOut = 0.5
	other := testutil.SingleFile(t, "wind", testutil.Clip("wind", 30))

	a, _ := e.Play(context.Background(), g)
	b, _ := e.Play(context.Background(), g)
	c, _ := e.Play(context.Background(), other)

	assert.Equal(t, 2, e.StopAll(g))
	assert.Equal(t, StatePlayed, a.State(), "faded stop is not immediate")

	ticks(e, 2, 0.25)
	assert.Equal(t, StateStopped, a.State())
	assert.Equal(t, StateStopped, b.State())
	assert.Equal(t, StatePlayed, c.State())
}

func TestEngine_StopGroup(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "music", testutil.Clip("m", 30))
	g.Group = 4
	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)

	assert.Equal(t, 0, e.StopGroup(0), "group 0 means no group")
	assert.Equal(t, 0, e.StopGroup(5))
	assert.Equal(t, 1, e.StopGroup(4))
	assert.Equal(t, StateStopped, ev.State())
}

func TestEngine_UnloadForceStops(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "level-music", testutil.Clip("m", 30))
	g.FadeOut = 5

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)

	assert.Equal(t, 1, e.Unload(g))
	assert.Equal(t, StateStopped, ev.State(), "no fade when the definition goes away")
	e.Tick(0.01)
	assert.True(t, ev.Removed())
}

func TestEngine_UnloadRewindsSequences(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.Selector(t, "steps", &graph.Sequence{},
		testutil.Clip("left", 1), testutil.Clip("right", 1))

	ev, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{"left"}, nodes(ev))

	assert.Equal(t, 1, e.Unload(g))
	e.Tick(0.01)

	ev, err = e.Play(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{"left"}, nodes(ev), "cursor back at the first branch")
}

func TestEngine_HistoryBounded(t *testing.T) {
	e, _ := newTestEngine(t, WithHistorySize(2))
	g := testutil.SingleFile(t, "tick", testutil.Clip("tick", 1))

	var played []*ActiveEvent
	for range 3 {
		ev, err := e.Play(context.Background(), g)
		require.NoError(t, err)
		played = append(played, ev)
	}

	assert.Equal(t, played[1:], e.History(), "oldest dropped first")
	assert.Len(t, e.Active(), 3, "history is independent of the registry")
}

func TestEngine_RolloverFlushesScheduledRemovals(t *testing.T) {
	e, _ := newTestEngine(t, WithClock(NewWrappingClock(2)))
	ev, err := e.Play(context.Background(), testutil.SingleFile(t, "x", testutil.Clip("x", 30)))
	require.NoError(t, err)

	e.Tick(0.5)
	ev.StopImmediate(5) // due at 5.5, past the wrap
	ticks(e, 2, 0.5)
	assert.False(t, ev.Removed())

	e.Tick(0.5) // reading wraps to 0
	assert.True(t, ev.Removed())
	assert.Empty(t, e.Active())
}

func TestEngine_CloseReleasesEverything(t *testing.T) {
	e, dev := newTestEngine(t)
	calls := 0
	ev, err := e.Play(context.Background(), testutil.SingleFile(t, "x", testutil.Clip("x", 30)),
		OnComplete(func(*ActiveEvent) { calls++ }))
	require.NoError(t, err)

	e.Close()
	assert.True(t, e.Closed())
	assert.Equal(t, StateStopped, ev.State())
	assert.Equal(t, 1, calls)
	assert.Empty(t, e.Active())
	assert.True(t, e.Pool().Closed())
	assert.Equal(t, 0, dev.Playing())

	_, err = e.Play(context.Background(), testutil.SingleFile(t, "y", testutil.Clip("y", 1)))
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeEngineClosed, re.Code)
	assert.False(t, e.Enqueue(func(*Engine) {}))

	e.Close() // idempotent
}

func TestEngine_CloseBeforeFirstPlayCreatesNoVoices(t *testing.T) {
	e, dev := newTestEngine(t)
	e.Close()

	_, ok := e.Pool().Acquire()
	assert.False(t, ok)
	assert.Empty(t, dev.Voices(), "no voice created after shutdown")
}

func TestEngine_EnqueueRunsOnNextTick(t *testing.T) {
	e, _ := newTestEngine(t)
	g := testutil.SingleFile(t, "x", testutil.Clip("x", 30))

	done := make(chan struct{})
	go func() {
		e.Enqueue(func(e *Engine) {
			_, _ = e.Play(context.Background(), g)
		})
		close(done)
	}()
	<-done

	assert.Empty(t, e.Active())
	e.Tick(0.01)
	assert.Len(t, e.Active(), 1)
}

func TestEngine_RunDrivesTicks(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan float64, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx, time.Millisecond) }()

	require.True(t, e.Enqueue(func(e *Engine) { ran <- e.Clock().Now() }))
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("command never ran")
	}

	cancel()
	err := <-errCh
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEngine_RunRecoversPanics(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	after := make(chan struct{})
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx, time.Millisecond) }()

	e.Enqueue(func(*Engine) { panic("boom") })
	e.Enqueue(func(*Engine) { close(after) })

	select {
	case <-after:
	case <-time.After(2 * time.Second):
		t.Fatal("driver died on panic")
	}
	cancel()
	<-errCh
}

func TestEngine_NoticeSequence(t *testing.T) {
	log := &noticeLog{}
	e, _ := newTestEngine(t, WithObserver(log))
	g := testutil.SingleFile(t, "x", testutil.Clip("x", 0.5))

	_, err := e.Play(context.Background(), g)
	require.NoError(t, err)
	_, err = e.Play(context.Background(), graph.New("empty"))
	require.Error(t, err)

	ticks(e, 8, 0.25)

	assert.Equal(t, []NoticeKind{NoticePlayed, NoticeRejected, NoticeTransition, NoticeRemoved}, log.kinds())
	for i := 1; i < len(log.notices); i++ {
		assert.Greater(t, log.notices[i].Seq, log.notices[i-1].Seq)
	}
	assert.Equal(t, []string{"x"}, log.notices[0].Clips)
}

type fakeRecorder struct {
	plays       []store.PlayRecord
	transitions []store.TransitionRecord
	fail        bool
}

func (r *fakeRecorder) RecordPlay(_ context.Context, p store.PlayRecord) error {
	if r.fail {
		return errors.New("disk full")
	}
	r.plays = append(r.plays, p)
	return nil
}

func (r *fakeRecorder) RecordTransition(_ context.Context, tr store.TransitionRecord) error {
	if r.fail {
		return errors.New("disk full")
	}
	r.transitions = append(r.transitions, tr)
	return nil
}

func TestEngine_RecorderReceivesPlaysAndTransitions(t *testing.T) {
	rec := &fakeRecorder{}
	e, _ := newTestEngine(t, WithRecorder(rec), WithCapacity(1))
	g := testutil.Selector(t, "pair", &graph.Blend{}, testutil.Clip("a", 1), testutil.Clip("b", 1))
	single := testutil.SingleFile(t, "one", testutil.Clip("one", 0.5))

	_, err := e.Play(context.Background(), g)
	require.Error(t, err, "pool of one cannot hold two layers")
	ev, err := e.Play(context.Background(), single)
	require.NoError(t, err)
	ticks(e, 8, 0.25)

	require.Len(t, rec.plays, 2)
	assert.Equal(t, "error", rec.plays[0].Status)
	assert.Contains(t, rec.plays[0].Error, "POOL_EXHAUSTED")
	assert.Equal(t, "played", rec.plays[1].Status)
	assert.Equal(t, ev.ID(), rec.plays[1].EventID)

	require.Len(t, rec.transitions, 2)
	assert.Equal(t, "stopped", rec.transitions[0].To)
	assert.Equal(t, store.StatusRemoved, rec.transitions[1].To)
}

func TestEngine_RecorderFailureIsNotFatal(t *testing.T) {
	e, _ := newTestEngine(t, WithRecorder(&fakeRecorder{fail: true}))
	ev, err := e.Play(context.Background(), testutil.SingleFile(t, "x", testutil.Clip("x", 1)))
	require.NoError(t, err)
	assert.Equal(t, StatePlayed, ev.State())
}

func TestEngine_PlaySpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	e, _ := newTestEngine(t, WithTracer(tp.Tracer("test")))
	_, err := e.Play(context.Background(), testutil.SingleFile(t, "x", testutil.Clip("x", 1)))
	require.NoError(t, err)
	_, err = e.Play(context.Background(), graph.New("empty"))
	require.Error(t, err)

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "engine.Play", spans[0].Name)
	assert.Empty(t, spans[0].Events)
	assert.NotEmpty(t, spans[1].Events, "rejection recorded on the span")
}

func TestEngine_LazyPoolInit(t *testing.T) {
	e, dev := newTestEngine(t, WithCapacity(3))
	assert.Empty(t, dev.Voices(), "no voices before first play")

	_, err := e.Play(context.Background(), testutil.SingleFile(t, "x", testutil.Clip("x", 1)))
	require.NoError(t, err)
	assert.Len(t, dev.Voices(), 3)
}
