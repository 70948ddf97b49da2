package circuitbreaker

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker keeps breaker states in process. Each key gets a partition
// holding its serialized state and listeners. Entering Open schedules a
// fallback transition to HalfOpen on the broker clock at expiry.
type MemoryBroker struct {
	opts brokerOptions

	mu         sync.Mutex
	partitions map[string]*partition
	closed     bool
}

type partition struct {
	mu        sync.Mutex
	state     string
	listeners listeners
}

func (p *partition) load() Descriptor {
	p.mu.Lock()
	s := p.state
	p.mu.Unlock()

	// Only Serialize output is ever stored.
	d, _ := ParseDescriptor(s)
	return d
}

func (p *partition) compareAndSwap(expected string, next Descriptor) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == expected {
		p.state = next.Serialize()
	}
	return p.state
}

// NewMemoryBroker creates an in-process broker.
func NewMemoryBroker(opts ...BrokerOption) *MemoryBroker {
	return &MemoryBroker{
		opts:       newBrokerOptions(opts),
		partitions: make(map[string]*partition),
	}
}

// InitializeFor creates the partition of key.
func (b *MemoryBroker) InitializeFor(_ context.Context, key string) error {
	_, err := b.partition(key)
	return err
}

// GetLastState returns the current state of key.
func (b *MemoryBroker) GetLastState(_ context.Context, key string) (Descriptor, error) {
	p, err := b.partition(key)
	if err != nil {
		return Descriptor{}, err
	}
	return p.load(), nil
}

// SignalFailure opens the breaker of key for ttl.
func (b *MemoryBroker) SignalFailure(ctx context.Context, key string, ttl time.Duration) (Descriptor, error) {
	if ttl <= 0 {
		return Descriptor{}, ErrInvalidTTL
	}
	return b.apply(ctx, key, SignalFailure, ttl)
}

// SignalSuccess reports a successful delivery for key.
func (b *MemoryBroker) SignalSuccess(ctx context.Context, key string) (Descriptor, error) {
	return b.apply(ctx, key, SignalSuccess, 0)
}

// Subscribe calls fn on every transition of key.
func (b *MemoryBroker) Subscribe(_ context.Context, key string, fn func(Descriptor)) (func(), error) {
	p, err := b.partition(key)
	if err != nil {
		return nil, err
	}
	return p.listeners.add(fn), nil
}

// Close disposes the broker. Pending expiry fallbacks become no-ops.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *MemoryBroker) partition(key string) (*partition, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}
	p, ok := b.partitions[key]
	if !ok {
		p = &partition{}
		b.partitions[key] = p
	}
	return p, nil
}

func (b *MemoryBroker) apply(ctx context.Context, key string, sig Signal, ttl time.Duration) (Descriptor, error) {
	p, err := b.partition(key)
	if err != nil {
		return Descriptor{}, err
	}

	cur := p.load()
	next, changed := Transition(cur, sig, ttl, b.opts.clock.Now())
	if !changed {
		return cur, nil
	}

	return b.commit(ctx, key, p, cur, next, sig), nil
}

// commit swaps cur for next. When another caller changed the state first,
// that state is returned instead.
func (b *MemoryBroker) commit(ctx context.Context, key string, p *partition, cur, next Descriptor, sig Signal) Descriptor {
	actual := p.compareAndSwap(cur.Serialize(), next)
	if actual != next.Serialize() {
		adopted, _ := ParseDescriptor(actual)
		return adopted
	}

	logTransition(ctx, b.opts.logger, key, cur, next, sig)
	p.listeners.notify(next)

	if at, ok := next.ExpiresAt(); ok {
		b.opts.clock.Schedule(at, func() { b.expire(key, next) })
	}
	return next
}

func (b *MemoryBroker) expire(key string, opened Descriptor) {
	p, err := b.partition(key)
	if err != nil {
		return
	}

	cur := p.load()
	if !cur.Equal(opened) {
		return
	}

	next, changed := Transition(cur, SignalExpired, 0, b.opts.clock.Now())
	if changed {
		b.commit(context.Background(), key, p, cur, next, SignalExpired)
	}
}
