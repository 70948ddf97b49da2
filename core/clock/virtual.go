package clock

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type scheduledAction struct {
	due    time.Time
	action func()
}

// VirtualClock is a manually advanced clock with a deterministic schedule.
// Actions run synchronously in the goroutine that advances the clock, one at a
// time and in due order; actions due at the same instant run in the order they
// were scheduled.
type VirtualClock struct {
	mu      sync.Mutex
	now     time.Time
	actions []scheduledAction
	active  atomic.Bool
}

// NewVirtual returns a virtual clock positioned at start.
func NewVirtual(start time.Time) *VirtualClock {
	c := &VirtualClock{now: start}
	c.active.Store(true)
	return c
}

// Now returns the current virtual time.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Schedule inserts action into the schedule. Actions without a due time or
// with a due time in the past are due now, after everything already due now.
func (c *VirtualClock) Schedule(at time.Time, action func()) {
	if action == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	due := at
	if due.IsZero() || due.Before(c.now) {
		due = c.now
	}

	// First index strictly after due keeps insertion order among equal due times.
	i := sort.Search(len(c.actions), func(i int) bool {
		return c.actions[i].due.After(due)
	})
	c.actions = append(c.actions, scheduledAction{})
	copy(c.actions[i+1:], c.actions[i:])
	c.actions[i] = scheduledAction{due: due, action: action}
}

// AdvanceTo moves the clock to target, invoking every action due up to it.
// When an invoked action was due exactly at target, no further actions are
// drained in this call. Actions scheduled by running actions are picked up if
// they fall within the window.
func (c *VirtualClock) AdvanceTo(target time.Time) error {
	c.mu.Lock()
	if target.Before(c.now) {
		now := c.now
		c.mu.Unlock()
		return fmt.Errorf("%w: target %s is before %s", ErrMoveBackwards, target, now)
	}
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if len(c.actions) == 0 || c.actions[0].due.After(target) {
			c.mu.Unlock()
			break
		}
		next := c.actions[0]
		c.actions[0] = scheduledAction{}
		c.actions = c.actions[1:]
		if next.due.After(c.now) {
			c.now = next.due
		}
		c.mu.Unlock()

		next.action()

		if next.due.Equal(target) {
			break
		}
	}

	c.mu.Lock()
	if c.now.Before(target) {
		c.now = target
	}
	c.mu.Unlock()

	return nil
}

// AdvanceBy moves the clock forward by d.
func (c *VirtualClock) AdvanceBy(d time.Duration) error {
	return c.AdvanceTo(c.Now().Add(d))
}

// TimeUntilNextActionIsDue reports the delay until the earliest pending action.
// The second value is false when nothing is scheduled.
func (c *VirtualClock) TimeUntilNextActionIsDue() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.actions) == 0 {
		return 0, false
	}
	return c.actions[0].due.Sub(c.now), true
}

// Pending returns the number of scheduled actions not yet invoked.
func (c *VirtualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.actions)
}

// Active reports whether the clock has not been stopped.
func (c *VirtualClock) Active() bool {
	return c.active.Load()
}

// Stop releases the clock so another virtual clock may be started in the same
// context. It is safe to call more than once.
func (c *VirtualClock) Stop() {
	c.active.Store(false)
}
