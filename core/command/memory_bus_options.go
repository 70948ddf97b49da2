package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/courier/core/clock"
)

// DefaultPollInterval is how long a delivery waits for a subscriber before it
// is published again.
const DefaultPollInterval = time.Second

type busOptions struct {
	clock          clock.Clock
	logger         *slog.Logger
	errorHandler   func(ctx context.Context, token string, err error)
	pollInterval   time.Duration
	receiveTimeout time.Duration
}

// BusOption configures a MemoryBus.
type BusOption func(*busOptions)

// WithClock sets the clock deliveries are scheduled on. Defaults to the wall
// clock.
func WithClock(c clock.Clock) BusOption {
	return func(o *busOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the bus logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) BusOption {
	return func(o *busOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithErrorHandler sets a callback for errors returned by subscribed
// handlers. The delivery stays pending when its handler fails.
func WithErrorHandler(fn func(ctx context.Context, token string, err error)) BusOption {
	return func(o *busOptions) { o.errorHandler = fn }
}

// WithPollInterval sets how long a delivery waits for a subscriber before it
// is published again.
func WithPollInterval(d time.Duration) BusOption {
	return func(o *busOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithDefaultReceiveTimeout sets the Receive timeout for command types
// registered without one.
func WithDefaultReceiveTimeout(d time.Duration) BusOption {
	return func(o *busOptions) {
		if d > 0 {
			o.receiveTimeout = d
		}
	}
}
