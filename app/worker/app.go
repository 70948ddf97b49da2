package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/dmitrymomot/courier/core/circuitbreaker"
	"github.com/dmitrymomot/courier/core/clock"
	"github.com/dmitrymomot/courier/core/command"
	"github.com/dmitrymomot/courier/core/config"
	"github.com/dmitrymomot/courier/core/health"
	"github.com/dmitrymomot/courier/core/logger"
)

// App is a single-process command worker for T: an in-memory bus whose
// receiver runs handlers through tracing, circuit breaking and retry on error.
type App[T any] struct {
	config     Config
	configSet  bool
	logger     *slog.Logger
	clock      clock.Clock
	bus        *command.MemoryBus[T]
	broker     circuitbreaker.Broker
	gate       *circuitbreaker.Gate[T]
	receiver   command.Receiver[T]
	closers    []io.Closer
	middleware []command.Middleware[T]
	checks     []health.Check
}

type AppOption[T any] func(*App[T]) error

func NewApp[T any](opts ...AppOption[T]) (*App[T], error) {
	app := &App[T]{}

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if !app.configSet {
		if err := config.Load(&app.config); err != nil {
			return nil, err
		}
	}

	if app.logger == nil {
		l, err := newLogger(app.config)
		if err != nil {
			return nil, err
		}
		app.logger = l
	}

	if app.clock == nil {
		app.clock = clock.Real{}
	}

	if app.broker == nil {
		b := circuitbreaker.NewMemoryBroker(
			circuitbreaker.WithClock(app.clock),
			circuitbreaker.WithLogger(app.logger),
		)
		app.broker = b
		app.closers = append(app.closers, b)
	}

	app.bus = command.NewMemoryBusFromConfig[T](app.config.Command,
		command.WithClock(app.clock),
		command.WithLogger(app.logger),
	)
	app.checks = append([]health.Check{health.Named("bus", app.bus.Healthcheck)}, app.checks...)

	app.gate = circuitbreaker.NewGateFromConfig[T](app.broker, app.config.CircuitBreaker,
		circuitbreaker.WithMiddlewareLogger(app.logger),
	)
	chain := []command.Middleware[T]{command.Trace[T](app.logger)}
	chain = append(chain, app.middleware...)
	chain = append(chain, app.gate.Middleware(), command.RetryOnError[T](nil))
	app.receiver = command.UseReceiverMiddleware[T](app.bus, chain...)

	return app, nil
}

func WithConfig[T any](cfg Config) AppOption[T] {
	return func(app *App[T]) error {
		app.config = cfg
		app.configSet = true
		return nil
	}
}

func WithLogger[T any](logger *slog.Logger) AppOption[T] {
	return func(app *App[T]) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		app.logger = logger
		return nil
	}
}

func WithClock[T any](c clock.Clock) AppOption[T] {
	return func(app *App[T]) error {
		if c == nil {
			return errors.New("clock cannot be nil")
		}
		app.clock = c
		return nil
	}
}

// WithBroker replaces the in-memory circuit breaker broker, for example with
// a StoreBroker over Redis. The caller keeps ownership.
func WithBroker[T any](broker circuitbreaker.Broker) AppOption[T] {
	return func(app *App[T]) error {
		if broker == nil {
			return errors.New("broker cannot be nil")
		}
		app.broker = broker
		return nil
	}
}

// WithMiddleware adds handler middleware between tracing and the circuit
// breaker.
func WithMiddleware[T any](middleware ...command.Middleware[T]) AppOption[T] {
	return func(app *App[T]) error {
		app.middleware = append(app.middleware, middleware...)
		return nil
	}
}

// WithHealthcheck adds readiness probes.
func WithHealthcheck[T any](checks ...health.Check) AppOption[T] {
	return func(app *App[T]) error {
		app.checks = append(app.checks, checks...)
		return nil
	}
}

func (app *App[T]) Logger() *slog.Logger { return app.logger }

func (app *App[T]) Bus() *command.MemoryBus[T] { return app.bus }

func (app *App[T]) Scheduler() command.Scheduler[T] { return app.bus }

// Receiver returns the bus receiver with the handler middleware applied.
func (app *App[T]) Receiver() command.Receiver[T] { return app.receiver }

// Schedule wraps cmd in a delivery and schedules it on the bus.
func (app *App[T]) Schedule(ctx context.Context, cmd T, opts ...command.DeliveryOption) (*command.Delivery[T], error) {
	return command.ScheduleCommand(clock.WithClock(ctx, app.clock), app.Scheduler(), cmd, opts...)
}

// Subscribe attaches h to the bus through Receiver.
func (app *App[T]) Subscribe(ctx context.Context, h command.Handler[T]) (func(), error) {
	return app.Receiver().Subscribe(ctx, h)
}

// Receive hands at most one delivery to h through Receiver.
func (app *App[T]) Receive(ctx context.Context, h command.Handler[T], timeout time.Duration) (command.Result[T], bool, error) {
	return app.Receiver().Receive(ctx, h, timeout)
}

func (app *App[T]) Live(ctx context.Context) error { return health.Liveness(ctx) }

func (app *App[T]) Ready(ctx context.Context) error {
	return health.Readiness(app.logger, app.checks...)(ctx)
}

// Close disposes the bus, releases the circuit breaker and closes the
// components the app created.
func (app *App[T]) Close() error {
	errs := []error{app.bus.Close(), app.gate.Close()}
	for _, c := range app.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func newLogger(cfg Config) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, err
	}

	var env logger.Option
	switch cfg.Env {
	case "production":
		env = logger.WithProduction(cfg.AppName)
	case "staging":
		env = logger.WithStaging(cfg.AppName)
	default:
		env = logger.WithDevelopment(cfg.AppName)
	}
	return logger.New(env, logger.WithLevel(level)), nil
}
