package circuitbreaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/courier/core/clock"
	"github.com/dmitrymomot/courier/core/command"
	"github.com/dmitrymomot/courier/core/logger"
)

// DefaultFallbackPollInterval is the retry period used when an open breaker
// has already expired.
const DefaultFallbackPollInterval = time.Second

type middlewareOptions struct {
	fallbackPollInterval time.Duration
	keyPrefix            string
	logger               *slog.Logger
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareOptions)

// WithFallbackPollInterval sets the retry period for deliveries held back by
// an expired breaker that has not moved to half-open yet.
func WithFallbackPollInterval(d time.Duration) MiddlewareOption {
	return func(o *middlewareOptions) {
		if d > 0 {
			o.fallbackPollInterval = d
		}
	}
}

// WithKeyPrefix sets a prefix for breaker keys.
func WithKeyPrefix(prefix string) MiddlewareOption {
	return func(o *middlewareOptions) { o.keyPrefix = prefix }
}

// WithMiddlewareLogger sets the middleware logger.
func WithMiddlewareLogger(l *slog.Logger) MiddlewareOption {
	return func(o *middlewareOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Gate holds the breaker of one command type for use as handler middleware.
// The breaker handle, and with it the broker subscription, is created on the
// first delivery and released by Close.
type Gate[T any] struct {
	broker Broker
	key    string
	opts   middlewareOptions

	mu      sync.Mutex
	breaker *CircuitBreaker
	closed  bool
}

// NewGate returns the gate of T on broker.
func NewGate[T any](broker Broker, opts ...MiddlewareOption) *Gate[T] {
	o := middlewareOptions{
		fallbackPollInterval: DefaultFallbackPollInterval,
		logger:               logger.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Gate[T]{
		broker: broker,
		key:    o.keyPrefix + command.TypeName[T](),
		opts:   o,
	}
}

// NewGateFromConfig is NewGate configured from cfg.
func NewGateFromConfig[T any](broker Broker, cfg Config, opts ...MiddlewareOption) *Gate[T] {
	return NewGate[T](broker, configOptions(cfg, opts)...)
}

// Middleware gates deliveries of T behind the breaker of T.
//
//   - A Pause result signals failure with the pause period as time to live and
//     is returned unchanged.
//   - While the breaker is Open the handler is not called; the delivery is
//     retried at the instant the breaker is expected to become half-open.
//   - A Complete result while the breaker is not Closed signals success.
//
// Every middleware returned by one Gate shares its breaker handle.
func (g *Gate[T]) Middleware() command.Middleware[T] {
	return func(next command.Handler[T]) command.Handler[T] {
		return command.HandlerFunc[T](func(ctx context.Context, d *command.Delivery[T]) (command.Result[T], error) {
			return g.handle(ctx, next, d)
		})
	}
}

// Close releases the breaker handle. Deliveries reaching the gate afterwards
// fail with ErrGateClosed.
func (g *Gate[T]) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	if g.breaker != nil {
		g.breaker.Close()
		g.breaker = nil
	}
	return nil
}

// Middleware is NewGate(broker, opts...).Middleware(). The gate is never
// closed, so its broker subscription lives as long as the broker; use NewGate
// when the middleware is built more than once.
//
// Example:
//
//	broker := circuitbreaker.NewMemoryBroker(circuitbreaker.WithClock(vc))
//	receiver := command.UseReceiverMiddleware[SendInvoice](bus,
//	    circuitbreaker.Middleware[SendInvoice](broker),
//	)
func Middleware[T any](broker Broker, opts ...MiddlewareOption) command.Middleware[T] {
	return NewGate[T](broker, opts...).Middleware()
}

// MiddlewareFromConfig is Middleware configured from cfg.
func MiddlewareFromConfig[T any](broker Broker, cfg Config, opts ...MiddlewareOption) command.Middleware[T] {
	return Middleware[T](broker, configOptions(cfg, opts)...)
}

func configOptions(cfg Config, opts []MiddlewareOption) []MiddlewareOption {
	return append([]MiddlewareOption{
		WithFallbackPollInterval(cfg.FallbackPollInterval),
		WithKeyPrefix(cfg.KeyPrefix),
	}, opts...)
}

func (g *Gate[T]) circuitBreaker(ctx context.Context) (*CircuitBreaker, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrGateClosed
	}
	if g.breaker != nil {
		return g.breaker, nil
	}
	cb, err := New(ctx, g.broker, g.key)
	if err != nil {
		return nil, err
	}
	g.breaker = cb
	return cb, nil
}

func (g *Gate[T]) handle(ctx context.Context, next command.Handler[T], d *command.Delivery[T]) (command.Result[T], error) {
	cb, err := g.circuitBreaker(ctx)
	if err != nil {
		return command.Result[T]{}, err
	}

	state := cb.State()
	if state.State == StateOpen {
		wait := g.opts.fallbackPollInterval
		if at, ok := state.ExpiresAt(); ok {
			if remaining := at.Sub(clock.FromContext(ctx).Now()); remaining > 0 {
				wait = remaining
			}
		}

		g.opts.logger.DebugContext(ctx, "delivery held back by open circuit breaker",
			logger.Component("circuit_breaker"),
			logger.Key("breaker", g.key),
			logger.IdempotencyToken(d.IdempotencyToken()),
			logger.Duration(wait),
		)
		return command.Retry(ctx, d, wait, ErrOpen), nil
	}

	res, err := next.Handle(ctx, d)
	if err != nil {
		return res, err
	}

	switch res.Kind() {
	case command.ResultPause:
		if _, err := cb.SignalFailure(ctx, res.Period()); err != nil {
			g.reportError(ctx, "signal failure", err)
		}
	case command.ResultComplete:
		if cb.State().State != StateClosed {
			if _, err := cb.SignalSuccess(ctx); err != nil {
				g.reportError(ctx, "signal success", err)
			}
		}
	}
	return res, nil
}

func (g *Gate[T]) reportError(ctx context.Context, action string, err error) {
	g.opts.logger.ErrorContext(ctx, "circuit breaker signal failed",
		logger.Component("circuit_breaker"),
		logger.Key("breaker", g.key),
		logger.Action(action),
		logger.Error(err),
	)
}
