package engine

import (
	"testing"

	"github.com/roach88/earshot/internal/testutil"
	"github.com/roach88/earshot/internal/voice"
)

// newTestEngine builds a deterministic engine over a simulated device.
func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *voice.SimDevice) {
	t.Helper()
	dev := voice.NewSimDevice()
	base := []EngineOption{
		WithLogger(testutil.DiscardLogger()),
		WithSeed(1),
		WithIDGenerator(NewCounterGenerator("ev")),
	}
	e := New(dev, append(base, opts...)...)
	t.Cleanup(e.Close)
	return e, dev
}

// ticks advances e by n ticks of dt seconds.
func ticks(e *Engine, n int, dt float64) {
	for range n {
		e.Tick(dt)
	}
}

// sim returns the simulated voice behind source i of ev.
func sim(t *testing.T, ev *ActiveEvent, i int) *voice.Sim {
	t.Helper()
	s, ok := ev.Sources()[i].Voice.(*voice.Sim)
	if !ok {
		t.Fatalf("source %d is not a simulated voice", i)
	}
	return s
}

// noticeLog collects notices in order.
type noticeLog struct {
	notices []Notice
}

func (l *noticeLog) Observe(n Notice) {
	l.notices = append(l.notices, n)
}

func (l *noticeLog) kinds() []NoticeKind {
	out := make([]NoticeKind, len(l.notices))
	for i, n := range l.notices {
		out[i] = n.Kind
	}
	return out
}
