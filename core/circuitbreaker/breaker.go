package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrymomot/courier/core/command"
)

// CircuitBreaker is a handle on one breaker key. It caches the last state
// the broker reported so admission checks need no round trip.
type CircuitBreaker struct {
	broker Broker
	key    string

	mu          sync.RWMutex
	last        Descriptor
	unsubscribe func()
}

// New initializes key on broker and returns a handle tracking its state.
func New(ctx context.Context, broker Broker, key string) (*CircuitBreaker, error) {
	if err := broker.InitializeFor(ctx, key); err != nil {
		return nil, err
	}

	cb := &CircuitBreaker{broker: broker, key: key}

	unsubscribe, err := broker.Subscribe(ctx, key, cb.set)
	if err != nil {
		return nil, err
	}
	cb.unsubscribe = unsubscribe

	if _, err := cb.Refresh(ctx); err != nil {
		unsubscribe()
		return nil, err
	}
	return cb, nil
}

// For returns the breaker of command type T.
func For[T any](ctx context.Context, broker Broker) (*CircuitBreaker, error) {
	return New(ctx, broker, command.TypeName[T]())
}

// Key returns the breaker key.
func (cb *CircuitBreaker) Key() string { return cb.key }

// State returns the last observed state.
func (cb *CircuitBreaker) State() Descriptor {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.last
}

// Refresh reads the state from the broker.
func (cb *CircuitBreaker) Refresh(ctx context.Context) (Descriptor, error) {
	d, err := cb.broker.GetLastState(ctx, cb.key)
	if err != nil {
		return Descriptor{}, err
	}
	cb.set(d)
	return d, nil
}

// SignalFailure opens the breaker for ttl.
func (cb *CircuitBreaker) SignalFailure(ctx context.Context, ttl time.Duration) (Descriptor, error) {
	d, err := cb.broker.SignalFailure(ctx, cb.key, ttl)
	if err != nil {
		return Descriptor{}, err
	}
	cb.set(d)
	return d, nil
}

// SignalSuccess reports a successful delivery.
func (cb *CircuitBreaker) SignalSuccess(ctx context.Context) (Descriptor, error) {
	d, err := cb.broker.SignalSuccess(ctx, cb.key)
	if err != nil {
		return Descriptor{}, err
	}
	cb.set(d)
	return d, nil
}

// Close stops tracking broker notifications.
func (cb *CircuitBreaker) Close() {
	if cb.unsubscribe != nil {
		cb.unsubscribe()
	}
}

func (cb *CircuitBreaker) set(d Descriptor) {
	cb.mu.Lock()
	cb.last = d
	cb.mu.Unlock()
}
