package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/earshot/internal/graph"
)

// Admission control runs before a play request is evaluated:
//
//   - a graph with nothing playable is rejected
//   - a graph with an instance limit is rejected once that many instances
//     of the same definition are playing
//   - a graph in a mutual-exclusion group force-stops every other playing
//     member of its group (last writer wins)
//
// The limit check comes first so a rejected request never stops anything.

// InstanceLimitError is returned when a graph already has InstanceLimit
// instances playing.
type InstanceLimitError struct {
	Graph  string // The event definition
	Active int    // Instances currently playing
	Limit  int    // Configured maximum
}

// Error implements the error interface.
func (e *InstanceLimitError) Error() string {
	return fmt.Sprintf("event %s reached its instance limit: %d playing, limit %d",
		e.Graph, e.Active, e.Limit)
}

// IsInstanceLimitError returns true if the error is an InstanceLimitError.
// Uses errors.As to handle wrapped errors.
func IsInstanceLimitError(err error) bool {
	var le *InstanceLimitError
	return errors.As(err, &le)
}

// admit applies admission control for g.
func (e *Engine) admit(g *graph.Graph) error {
	if !g.Playable() {
		return &RuntimeError{
			Code:    ErrCodeAdmissionRejected,
			Message: "event has no playable leaves",
			Graph:   g.Name,
		}
	}

	if g.InstanceLimit > 0 {
		if n := e.PlayingCount(g); n >= g.InstanceLimit {
			return &InstanceLimitError{Graph: g.Name, Active: n, Limit: g.InstanceLimit}
		}
	}

	if g.Group != 0 {
		for _, ev := range e.Active() {
			if ev.state != StatePlayed || ev.graph.Group != g.Group {
				continue
			}
			e.logger.Debug("group exclusivity stop",
				"group", g.Group,
				"event_id", ev.id,
				"graph", ev.graph.Name,
				"incoming", g.Name,
			)
			ev.StopImmediate(ev.removalDelay)
		}
	}

	return nil
}

// PlayingCount returns the number of instances of g in the Played state.
func (e *Engine) PlayingCount(g *graph.Graph) int {
	n := 0
	for _, ev := range e.active {
		if ev.graph == g && ev.state == StatePlayed {
			n++
		}
	}
	return n
}
