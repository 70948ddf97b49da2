package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/courier/core/clock"
	"github.com/dmitrymomot/courier/core/logger"
)

// Middleware wraps a Handler to add cross-cutting behavior.
type Middleware[T any] func(next Handler[T]) Handler[T]

// SchedulerMiddleware wraps a Scheduler.
type SchedulerMiddleware[T any] func(next Scheduler[T]) Scheduler[T]

// Chain applies middleware to h. The first middleware is the outermost and
// runs first.
func Chain[T any](h Handler[T], middleware ...Middleware[T]) Handler[T] {
	// Reverse order required: wrapping innermost first makes it execute last
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// UseMiddleware is Chain for handlers.
//
// Example:
//
//	h := command.UseMiddleware(handler,
//	    command.Trace[SendInvoice](log),
//	    command.RetryOnError[SendInvoice](nil),
//	)
//
// Execution order: Trace -> RetryOnError -> handler
func UseMiddleware[T any](h Handler[T], middleware ...Middleware[T]) Handler[T] {
	return Chain(h, middleware...)
}

// UseSchedulerMiddleware applies middleware to s, first outermost.
func UseSchedulerMiddleware[T any](s Scheduler[T], middleware ...SchedulerMiddleware[T]) Scheduler[T] {
	for i := len(middleware) - 1; i >= 0; i-- {
		s = middleware[i](s)
	}
	return s
}

// UseReceiverMiddleware returns a Receiver that wraps every handler passed to
// Subscribe or Receive with middleware, first outermost.
func UseReceiverMiddleware[T any](r Receiver[T], middleware ...Middleware[T]) Receiver[T] {
	return &middlewareReceiver[T]{next: r, middleware: middleware}
}

type middlewareReceiver[T any] struct {
	next       Receiver[T]
	middleware []Middleware[T]
}

func (r *middlewareReceiver[T]) Subscribe(ctx context.Context, h Handler[T]) (func(), error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	return r.next.Subscribe(ctx, Chain(h, r.middleware...))
}

func (r *middlewareReceiver[T]) Receive(ctx context.Context, h Handler[T], timeout time.Duration) (Result[T], bool, error) {
	if h == nil {
		return Result[T]{}, false, ErrNilHandler
	}
	return r.next.Receive(ctx, Chain(h, r.middleware...), timeout)
}

// RetryOnError converts handler failures, including panics, into results.
// While policy allows another attempt the delivery is retried with the error
// attached; afterwards it is cancelled with reason "retry attempts exhausted".
// A nil policy uses the command type settings.
func RetryOnError[T any](policy RetryPolicy) Middleware[T] {
	return func(next Handler[T]) Handler[T] {
		return HandlerFunc[T](func(ctx context.Context, d *Delivery[T]) (Result[T], error) {
			res, err := safeHandle(ctx, next, d)
			if err == nil {
				return res, nil
			}

			p := policy
			if p == nil {
				p = SettingsFor[T]().RetryPolicy
			}

			if period, ok := p(d.PreviousAttempts()); ok {
				return Retry(ctx, d, period, err), nil
			}
			return Cancel(d, "retry attempts exhausted", err), nil
		})
	}
}

// Trace logs each delivery before and after it is handled.
func Trace[T any](log *slog.Logger) Middleware[T] {
	if log == nil {
		log = slog.Default()
	}
	name := TypeName[T]()

	return func(next Handler[T]) Handler[T] {
		return HandlerFunc[T](func(ctx context.Context, d *Delivery[T]) (Result[T], error) {
			clk := clock.FromContext(ctx)
			start := clk.Now()

			log.DebugContext(ctx, "handling delivery",
				logger.CommandType(name),
				logger.IdempotencyToken(d.IdempotencyToken()),
				logger.Attempts(d.PreviousAttempts()),
				logger.DueTime(d.DueTime()),
			)

			res, err := next.Handle(ctx, d)
			if err != nil {
				log.ErrorContext(ctx, "delivery handler failed",
					logger.CommandType(name),
					logger.IdempotencyToken(d.IdempotencyToken()),
					logger.Elapsed(start, clk.Now()),
					logger.Error(err),
				)
				return res, err
			}

			log.InfoContext(ctx, "delivery handled",
				logger.CommandType(name),
				logger.IdempotencyToken(d.IdempotencyToken()),
				logger.ResultKind(res.Kind().String()),
				logger.Elapsed(start, clk.Now()),
				logger.Error(res.Err()),
			)
			return res, nil
		})
	}
}

// safeHandle calls h, converting a panic into an error wrapping
// ErrHandlerPanicked.
func safeHandle[T any](ctx context.Context, h Handler[T], d *Delivery[T]) (res Result[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{}
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanicked, TypeName[T](), r)
		}
	}()
	return h.Handle(ctx, d)
}
