package clock

import "errors"

var (
	// ErrMoveBackwards is returned when a virtual clock is asked to move to an
	// instant before its current time.
	ErrMoveBackwards = errors.New("virtual clock cannot move backwards")

	// ErrVirtualClockActive is returned when a virtual clock is started in a
	// context that already carries an active one.
	ErrVirtualClockActive = errors.New("a virtual clock is already active in this context")
)
