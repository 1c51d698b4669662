package engine

import (
	"math"
	"sync/atomic"
)

// Clock is the runtime time source plus a logical sequence counter.
//
// Time advances only through Advance, once per tick, so every reading
// inside a tick is identical. A clock built with NewWrappingClock wraps
// back to zero after its period like a hardware counter; the engine treats
// a reading lower than the previous one as a rollover.
//
// Seq numbers stamp notices and history records with a strictly increasing
// order independent of time.
type Clock struct {
	seq    atomic.Int64
	now    float64
	period float64
}

// NewClock creates a clock at time 0 that never wraps.
func NewClock() *Clock {
	return &Clock{}
}

// NewWrappingClock creates a clock that wraps to zero every period seconds.
func NewWrappingClock(period float64) *Clock {
	return &Clock{period: period}
}

// Next returns the next sequence number and increments the counter.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Seq returns the current sequence number without incrementing.
func (c *Clock) Seq() int64 {
	return c.seq.Load()
}

// Now returns the current time in seconds.
func (c *Clock) Now() float64 {
	return c.now
}

// Advance moves time forward by dt seconds and returns the new reading.
func (c *Clock) Advance(dt float64) float64 {
	c.now += dt
	if c.period > 0 && c.now >= c.period {
		c.now = math.Mod(c.now, c.period)
	}
	return c.now
}

// Set moves the clock to t. Used to resume from a known position.
func (c *Clock) Set(t float64) {
	c.now = t
}
