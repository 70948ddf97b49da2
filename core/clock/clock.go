package clock

import "time"

// Clock is a time source that can also run actions at a later instant.
type Clock interface {
	// Now returns the current time of this clock.
	Now() time.Time

	// Schedule runs action at or after at. A zero or past at means "now".
	Schedule(at time.Time, action func())
}

// Inspector is implemented by clocks that know when their next scheduled
// action is due.
type Inspector interface {
	TimeUntilNextActionIsDue() (time.Duration, bool)
}

// Real is a Clock backed by the wall clock. Scheduled actions run on their
// own goroutine via time.AfterFunc, so no ordering is guaranteed between
// actions other than their due times.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Schedule runs action after time.Until(at) elapses.
func (Real) Schedule(at time.Time, action func()) {
	delay := time.Duration(0)
	if !at.IsZero() {
		delay = time.Until(at)
	}
	if delay < 0 {
		delay = 0
	}
	time.AfterFunc(delay, action)
}
