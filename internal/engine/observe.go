package engine

import (
	"context"

	"github.com/roach88/earshot/internal/store"
)

// NoticeKind classifies engine notifications.
type NoticeKind string

const (
	NoticePlayed     NoticeKind = "played"
	NoticeRejected   NoticeKind = "rejected"
	NoticeFailed     NoticeKind = "failed"
	NoticeTransition NoticeKind = "transition"
	NoticeRemoved    NoticeKind = "removed"
)

// Notice describes one lifecycle change. Seq orders notices strictly; At
// is the clock reading when it was emitted.
type Notice struct {
	Kind    NoticeKind
	Seq     int64
	At      float64
	EventID string
	Graph   string
	From    State
	To      State
	Err     error
	Clips   []string
}

// Observer receives notices synchronously on the driver goroutine.
// Implementations must not call back into the engine.
type Observer interface {
	Observe(n Notice)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(n Notice)

// Observe implements Observer.
func (f ObserverFunc) Observe(n Notice) { f(n) }

// Recorder persists plays and transitions. store.Store implements it.
type Recorder interface {
	RecordPlay(ctx context.Context, p store.PlayRecord) error
	RecordTransition(ctx context.Context, t store.TransitionRecord) error
}

// Mixer receives snapshot transitions triggered by snapshot nodes.
type Mixer interface {
	TransitionTo(snapshot string, seconds float64)
}

// NopMixer discards snapshot transitions.
type NopMixer struct{}

// TransitionTo implements Mixer.
func (NopMixer) TransitionTo(string, float64) {}

// notify stamps n and hands it to observers and the recorder. Recorder
// failures are logged and otherwise ignored.
func (e *Engine) notify(ctx context.Context, n Notice) {
	n.Seq = e.clock.Next()
	n.At = e.clock.Now()

	for _, o := range e.observers {
		o.Observe(n)
	}

	if e.recorder == nil {
		return
	}

	var err error
	switch n.Kind {
	case NoticePlayed, NoticeFailed:
		rec := store.PlayRecord{
			EventID: n.EventID,
			Graph:   n.Graph,
			Seq:     n.Seq,
			At:      n.At,
			Status:  n.To.String(),
			Clips:   n.Clips,
		}
		if n.Err != nil {
			rec.Error = n.Err.Error()
		}
		err = e.recorder.RecordPlay(ctx, rec)
	case NoticeTransition:
		err = e.recorder.RecordTransition(ctx, store.TransitionRecord{
			EventID: n.EventID,
			Seq:     n.Seq,
			At:      n.At,
			From:    n.From.String(),
			To:      n.To.String(),
		})
	case NoticeRemoved:
		err = e.recorder.RecordTransition(ctx, store.TransitionRecord{
			EventID: n.EventID,
			Seq:     n.Seq,
			At:      n.At,
			From:    n.From.String(),
			To:      store.StatusRemoved,
		})
	}
	if err != nil {
		e.logger.Error("recorder write failed",
			"event_id", n.EventID,
			"notice", string(n.Kind),
			"error", err,
		)
	}
}
