package clock

import (
	"context"
	"time"
)

// Wait lets d elapse on c. On a virtual clock this advances the clock by d,
// running every action due in the window before returning. On any other clock
// it blocks for d or until ctx is done.
func Wait(ctx context.Context, c Clock, d time.Duration) error {
	if d < 0 {
		d = 0
	}

	if vc, ok := c.(*VirtualClock); ok {
		return vc.AdvanceBy(d)
	}

	if d == 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
