package command

import (
	"context"
	"time"

	"github.com/dmitrymomot/courier/core/clock"
)

// ResultKind identifies the variant of a Result.
type ResultKind uint8

const (
	// ResultComplete settles the delivery successfully.
	ResultComplete ResultKind = iota + 1
	// ResultRetry reschedules the delivery at its updated due time.
	ResultRetry
	// ResultCancel settles the delivery without success.
	ResultCancel
	// ResultPause asks for all deliveries of the command type to be held back.
	ResultPause
)

func (k ResultKind) String() string {
	switch k {
	case ResultComplete:
		return "complete"
	case ResultRetry:
		return "retry"
	case ResultCancel:
		return "cancel"
	case ResultPause:
		return "pause"
	default:
		return "unknown"
	}
}

// Result is the outcome of handling a delivery: exactly one of Complete,
// Retry, Cancel or Pause. The zero value is invalid.
type Result[T any] struct {
	kind     ResultKind
	delivery *Delivery[T]
	period   time.Duration
	reason   string
	err      error
}

// Complete settles d successfully.
func Complete[T any](d *Delivery[T]) Result[T] {
	return Result[T]{kind: ResultComplete, delivery: d}
}

// Cancel settles d without success.
func Cancel[T any](d *Delivery[T], reason string, err error) Result[T] {
	return Result[T]{kind: ResultCancel, delivery: d, reason: reason, err: err}
}

// Retry reschedules d. It increments the attempt counter and sets the due time
// to (due time, or now when unset) + period, using the clock in ctx.
func Retry[T any](ctx context.Context, d *Delivery[T], period time.Duration, err error) Result[T] {
	d.scheduleRetry(clock.FromContext(ctx).Now(), period)
	return Result[T]{kind: ResultRetry, delivery: d, period: period, err: err}
}

// Pause holds back every delivery of d's command type for period. The
// delivery itself is not modified.
func Pause[T any](d *Delivery[T], period time.Duration) Result[T] {
	return Result[T]{kind: ResultPause, delivery: d, period: period}
}

// Kind returns the result variant.
func (r Result[T]) Kind() ResultKind { return r.kind }

// Delivery returns the delivery the result refers to.
func (r Result[T]) Delivery() *Delivery[T] { return r.delivery }

// Period returns the retry period for Retry and the pause period for Pause.
func (r Result[T]) Period() time.Duration { return r.period }

// Reason returns the cancellation reason.
func (r Result[T]) Reason() string { return r.reason }

// Err returns the error attached to a Retry or Cancel result.
func (r Result[T]) Err() error { return r.err }

// IsZero reports whether r is the zero, invalid Result.
func (r Result[T]) IsZero() bool { return r.kind == 0 }

// IsTerminal reports whether r settles the delivery.
func (r Result[T]) IsTerminal() bool {
	return r.kind == ResultComplete || r.kind == ResultCancel
}
