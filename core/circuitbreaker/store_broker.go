package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrymomot/courier/core/clock"
	"github.com/dmitrymomot/courier/core/logger"
)

// StoreBroker applies transitions against a shared Store with
// compare-and-swap, adopting the stored state whenever another process got
// there first. Store notifications are mapped to transitions: an expired key
// moves to HalfOpen, a changed key is re-read and reported to listeners. The
// broker also schedules its own expiry check on the clock when it opens a
// breaker, so stores without expiry notifications still recover.
type StoreBroker struct {
	store Store
	opts  brokerOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	keys   map[string]*storeKey
	closed bool
}

type storeKey struct {
	unwatch   func()
	listeners listeners

	mu   sync.Mutex
	last Descriptor
}

// NewStoreBroker creates a broker over store.
func NewStoreBroker(store Store, opts ...BrokerOption) *StoreBroker {
	o := newBrokerOptions(opts)
	ctx, cancel := context.WithCancel(clock.WithClock(context.Background(), o.clock))

	return &StoreBroker{
		store:  store,
		opts:   o,
		ctx:    ctx,
		cancel: cancel,
		keys:   make(map[string]*storeKey),
	}
}

// InitializeFor attaches to store notifications for key once.
func (b *StoreBroker) InitializeFor(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBrokerClosed
	}
	k := b.entryLocked(key)
	if k.unwatch != nil {
		return nil
	}

	unwatch, err := b.store.Watch(b.ctx, key, func(e Event) { b.onEvent(key, e) })
	if err != nil {
		return err
	}
	k.unwatch = unwatch

	b.opts.logger.DebugContext(ctx, "circuit breaker initialized",
		logger.Component("circuit_breaker"),
		logger.Key("breaker", key),
	)
	return nil
}

// GetLastState reads the stored state of key.
func (b *StoreBroker) GetLastState(ctx context.Context, key string) (Descriptor, error) {
	k, err := b.entry(key)
	if err != nil {
		return Descriptor{}, err
	}

	d, err := b.store.GetLastState(ctx, key)
	if err != nil {
		return Descriptor{}, err
	}
	b.observe(k, d)
	return d, nil
}

// SignalFailure opens the breaker of key for ttl.
func (b *StoreBroker) SignalFailure(ctx context.Context, key string, ttl time.Duration) (Descriptor, error) {
	if ttl <= 0 {
		return Descriptor{}, ErrInvalidTTL
	}
	return b.apply(ctx, key, SignalFailure, ttl)
}

// SignalSuccess reports a successful delivery for key.
func (b *StoreBroker) SignalSuccess(ctx context.Context, key string) (Descriptor, error) {
	return b.apply(ctx, key, SignalSuccess, 0)
}

// Subscribe calls fn whenever the broker observes a new state of key.
func (b *StoreBroker) Subscribe(_ context.Context, key string, fn func(Descriptor)) (func(), error) {
	k, err := b.entry(key)
	if err != nil {
		return nil, err
	}
	return k.listeners.add(fn), nil
}

// Close detaches from store notifications and disposes the broker.
func (b *StoreBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var unwatches []func()
	for _, k := range b.keys {
		if k.unwatch != nil {
			unwatches = append(unwatches, k.unwatch)
		}
	}
	b.mu.Unlock()

	b.cancel()
	for _, unwatch := range unwatches {
		unwatch()
	}
	return nil
}

func (b *StoreBroker) entry(key string) (*storeKey, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}
	return b.entryLocked(key), nil
}

func (b *StoreBroker) entryLocked(key string) *storeKey {
	k, ok := b.keys[key]
	if !ok {
		k = &storeKey{}
		b.keys[key] = k
	}
	return k
}

func (b *StoreBroker) apply(ctx context.Context, key string, sig Signal, ttl time.Duration) (Descriptor, error) {
	k, err := b.entry(key)
	if err != nil {
		return Descriptor{}, err
	}

	cur, err := b.store.GetLastState(ctx, key)
	if err != nil {
		return Descriptor{}, err
	}

	next, changed := Transition(cur, sig, ttl, b.opts.clock.Now())
	if !changed {
		b.observe(k, cur)
		return cur, nil
	}

	return b.commit(ctx, key, k, cur, next, sig)
}

func (b *StoreBroker) commit(ctx context.Context, key string, k *storeKey, cur, next Descriptor, sig Signal) (Descriptor, error) {
	var ttl time.Duration
	if next.State == StateOpen {
		ttl = next.TTL
	}

	actual, err := b.store.TrySetState(ctx, key, cur.Serialize(), next, ttl)
	if err != nil {
		return Descriptor{}, err
	}

	d, err := ParseDescriptor(actual)
	if err != nil {
		return Descriptor{}, err
	}

	if actual == next.Serialize() {
		logTransition(ctx, b.opts.logger, key, cur, next, sig)
		if at, ok := next.ExpiresAt(); ok {
			b.opts.clock.Schedule(at, func() { b.expire(key) })
		}
	}

	b.observe(k, d)
	return d, nil
}

// expire moves an expired Open state, or a state the store already dropped,
// to HalfOpen.
func (b *StoreBroker) expire(key string) {
	k, err := b.entry(key)
	if err != nil {
		return
	}

	cur, err := b.store.GetLastState(b.ctx, key)
	if err != nil {
		b.reportError(key, "read state on expiry", err)
		return
	}

	now := b.opts.clock.Now()
	if !cur.IsZero() && !cur.Expired(now) {
		return
	}

	next := Descriptor{State: StateHalfOpen, Timestamp: now}
	if _, err := b.commit(b.ctx, key, k, cur, next, SignalExpired); err != nil {
		b.reportError(key, "apply expiry", err)
	}
}

func (b *StoreBroker) onEvent(key string, e Event) {
	switch e.Kind {
	case EventExpired:
		b.expire(key)
	case EventChanged:
		if _, err := b.GetLastState(b.ctx, key); err != nil {
			b.reportError(key, "refresh state", err)
		}
	}
}

// observe records d as the latest state of k and notifies listeners when it
// differs from the previous observation.
func (b *StoreBroker) observe(k *storeKey, d Descriptor) {
	k.mu.Lock()
	changed := !k.last.Equal(d)
	k.last = d
	k.mu.Unlock()

	if changed {
		k.listeners.notify(d)
	}
}

func (b *StoreBroker) reportError(key, action string, err error) {
	if b.ctx.Err() != nil {
		return
	}
	b.opts.logger.ErrorContext(b.ctx, "circuit breaker store failure",
		logger.Component("circuit_breaker"),
		logger.Key("breaker", key),
		logger.Action(action),
		logger.Error(err),
	)
}
