package circuitbreaker

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/courier/core/clock"
	"github.com/dmitrymomot/courier/core/logger"
)

// Broker applies breaker transitions for any number of keys, one per command
// type.
type Broker interface {
	// InitializeFor prepares key, for example by attaching to store
	// notifications. It is idempotent.
	InitializeFor(ctx context.Context, key string) error

	// GetLastState returns the current state of key.
	GetLastState(ctx context.Context, key string) (Descriptor, error)

	// SignalFailure opens the breaker for ttl. It returns the state after the
	// call, which is another caller's state when that caller won the race.
	SignalFailure(ctx context.Context, key string, ttl time.Duration) (Descriptor, error)

	// SignalSuccess moves an open breaker to half-open and a half-open one to
	// closed.
	SignalSuccess(ctx context.Context, key string) (Descriptor, error)

	// Subscribe calls fn with every state key moves to until the returned
	// function is called.
	Subscribe(ctx context.Context, key string, fn func(Descriptor)) (func(), error)
}

type brokerOptions struct {
	clock  clock.Clock
	logger *slog.Logger
}

// BrokerOption configures MemoryBroker and StoreBroker.
type BrokerOption func(*brokerOptions)

// WithClock sets the clock used for timestamps and the expiry fallback.
// Defaults to the wall clock.
func WithClock(c clock.Clock) BrokerOption {
	return func(o *brokerOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the broker logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) BrokerOption {
	return func(o *brokerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func newBrokerOptions(opts []BrokerOption) brokerOptions {
	o := brokerOptions{
		clock:  clock.Real{},
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// listeners is a set of state callbacks.
type listeners struct {
	mu     sync.Mutex
	nextID uint64
	fns    map[uint64]func(Descriptor)
}

func (l *listeners) add(fn func(Descriptor)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fns == nil {
		l.fns = make(map[uint64]func(Descriptor))
	}
	l.nextID++
	id := l.nextID
	l.fns[id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

// notify calls every listener in subscription order, outside the lock.
func (l *listeners) notify(d Descriptor) {
	l.mu.Lock()
	ids := slices.Sorted(maps.Keys(l.fns))
	fns := make([]func(Descriptor), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.fns[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(d)
	}
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

func logTransition(ctx context.Context, log *slog.Logger, key string, from, to Descriptor, sig Signal) {
	log.InfoContext(ctx, "circuit breaker transition",
		logger.Component("circuit_breaker"),
		logger.Key("breaker", key),
		logger.Event(sig.String()),
		slog.String("from", from.State.String()),
		logger.State(to.State.String()),
		slog.Duration("ttl", to.TTL),
	)
}
