package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/courier/core/logger"
)

// ErrNotReady wraps every failure reported by a readiness probe.
var ErrNotReady = errors.New("service is not ready")

// Check is a dependency probe such as redis.Healthcheck(client) or
// bus.Healthcheck.
type Check func(context.Context) error

// Named labels the errors of fn with name.
func Named(name string, fn Check) Check {
	return func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}

// Liveness reports that the process is running. It never checks
// dependencies.
func Liveness(context.Context) error { return nil }

// Readiness returns a probe that runs every check and fails when any of them
// does. Failures are logged one by one and returned joined under ErrNotReady.
//
// Example:
//
//	ready := health.Readiness(log,
//		health.Named("bus", bus.Healthcheck),
//		health.Named("redis", redis.Healthcheck(client)),
//	)
//	if err := ready(ctx); err != nil {
//		// not ready
//	}
func Readiness(log *slog.Logger, checks ...Check) Check {
	if log == nil {
		log = logger.Discard()
	}

	return func(ctx context.Context) error {
		var errs []error
		for _, check := range checks {
			if err := check(ctx); err != nil {
				log.ErrorContext(ctx, "readiness check failed", logger.Error(err))
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%w: %w", ErrNotReady, errors.Join(errs...))
		}
		return nil
	}
}
