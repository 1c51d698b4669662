package testutil

import (
	"fmt"

	"github.com/roach88/earshot/internal/audio"
)

// Mixer records snapshot transitions.
type Mixer struct {
	Transitions []string
}

// TransitionTo records "snapshot@seconds".
func (m *Mixer) TransitionTo(snapshot string, seconds float64) {
	m.Transitions = append(m.Transitions, fmt.Sprintf("%s@%g", snapshot, seconds))
}

// Camera is a movable audio.Transform.
type Camera struct {
	Pos audio.Vec3
	Fwd audio.Vec3
}

// Position implements audio.Emitter.
func (c *Camera) Position() audio.Vec3 { return c.Pos }

// Forward implements audio.Transform.
func (c *Camera) Forward() audio.Vec3 { return c.Fwd }

// Mover is an emitter whose position tests can change between ticks.
type Mover struct {
	Pos audio.Vec3
}

// Position implements audio.Emitter.
func (m *Mover) Position() audio.Vec3 { return m.Pos }
