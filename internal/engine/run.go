package engine

import (
	"context"
	"fmt"
	"time"
)

// DefaultTickRate is the driver period used when Run is given none.
const DefaultTickRate = 16 * time.Millisecond

// Run drives the engine at a fixed rate until ctx is cancelled.
// Blocks; must be called from exactly ONE goroutine, which then owns the
// engine. Other goroutines submit work with Enqueue.
//
// Each tick receives the measured time since the previous one, so a slow
// frame advances events by the real elapsed time rather than the nominal
// period. A panic inside a tick is logged and the driver keeps running.
func (e *Engine) Run(ctx context.Context, rate time.Duration) error {
	if rate <= 0 {
		rate = DefaultTickRate
	}

	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	e.logger.Info("engine driver starting", "tick_rate", rate.String())
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine driver stopping: context cancelled")
			return ctx.Err()

		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			if err := e.safeTick(dt); err != nil {
				e.logger.Error("tick failed", "error", err)
			}
			if e.closed {
				e.logger.Info("engine driver stopping: engine closed")
				return nil
			}
		}
	}
}

func (e *Engine) safeTick(dt float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in tick: %v", r)
		}
	}()
	e.Tick(dt)
	return nil
}
