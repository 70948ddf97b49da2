package command

import (
	"context"
	"time"
)

// Handler processes one delivery and returns exactly one result. A returned
// error means the handler failed; RetryOnError turns such failures into
// results.
type Handler[T any] interface {
	Handle(ctx context.Context, d *Delivery[T]) (Result[T], error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, d *Delivery[T]) (Result[T], error)

// Handle calls f.
func (f HandlerFunc[T]) Handle(ctx context.Context, d *Delivery[T]) (Result[T], error) {
	return f(ctx, d)
}

// Scheduler enqueues deliveries for future handling. A nil error does not
// guarantee delivery.
type Scheduler[T any] interface {
	Schedule(ctx context.Context, d *Delivery[T]) error
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc[T any] func(ctx context.Context, d *Delivery[T]) error

// Schedule calls f.
func (f SchedulerFunc[T]) Schedule(ctx context.Context, d *Delivery[T]) error {
	return f(ctx, d)
}

// Receiver hands deliveries to handlers.
type Receiver[T any] interface {
	// Subscribe installs h until the returned function is called.
	Subscribe(ctx context.Context, h Handler[T]) (unsubscribe func(), err error)

	// Receive hands at most one delivery to h, waiting up to timeout. A zero
	// timeout uses the command type settings. The boolean is false when no
	// delivery arrived in time.
	Receive(ctx context.Context, h Handler[T], timeout time.Duration) (Result[T], bool, error)
}

// ScheduleCommand builds a delivery for cmd and schedules it on s.
//
// Example:
//
//	_, err := command.ScheduleCommand(ctx, bus, SendInvoice{ID: 42},
//	    command.WithDelay(time.Hour),
//	)
func ScheduleCommand[T any](ctx context.Context, s Scheduler[T], cmd T, opts ...DeliveryOption) (*Delivery[T], error) {
	d, err := NewDelivery(ctx, cmd, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Schedule(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}
