package command

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/courier/core/clock"
	"github.com/dmitrymomot/courier/core/logger"
)

// MemoryBus is an in-memory Scheduler and Receiver for one command type.
// Deliveries are published on the bus clock at their due time and handed to
// every subscriber. Retry reschedules the delivery, Complete and Cancel settle
// it, Pause leaves it pending. Each idempotency token is accepted once; later
// deliveries with the same token are dropped at Schedule time.
type MemoryBus[T any] struct {
	clock          clock.Clock
	opts           busOptions
	name           string
	pollInterval   time.Duration
	receiveTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	subscribers []*subscription[T]
	nextID      uint64
	pending     map[string]*Delivery[T]
	accepted    map[string]struct{}
	closed      bool

	published atomic.Int64
	settled   atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
}

type subscription[T any] struct {
	id      uint64
	handler Handler[T]
	// once subscriptions take a single delivery and report errors to their
	// Receive caller instead of the bus error handler.
	once   bool
	active atomic.Bool
}

func (s *subscription[T]) claim() bool {
	if s.once {
		return s.active.CompareAndSwap(true, false)
	}
	return s.active.Load()
}

// BusStats is a snapshot of bus counters.
type BusStats struct {
	Pending     int   // deliveries not yet settled
	Subscribers int   // currently attached handlers
	Published   int64 // publications that reached at least one handler
	Settled     int64 // deliveries completed or cancelled
	Retried     int64 // publications rescheduled by a Retry result
	Failed      int64 // handler errors on subscribed handlers
}

// NewMemoryBus creates an in-memory bus.
//
// Example:
//
//	ctx, vc, _ := clock.StartVirtual(ctx, time.Now())
//	bus := command.NewMemoryBus[SendInvoice](command.WithClock(vc))
//	defer bus.Close()
func NewMemoryBus[T any](opts ...BusOption) *MemoryBus[T] {
	o := busOptions{
		clock:          clock.Real{},
		logger:         logger.Discard(),
		pollInterval:   DefaultPollInterval,
		receiveTimeout: DefaultReceiveTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	b := &MemoryBus[T]{
		clock:          o.clock,
		opts:           o,
		name:           TypeName[T](),
		pollInterval:   o.pollInterval,
		receiveTimeout: o.receiveTimeout,
		pending:        make(map[string]*Delivery[T]),
		accepted:       make(map[string]struct{}),
	}
	b.ctx, b.cancel = context.WithCancel(clock.WithClock(context.Background(), o.clock))

	return b
}

// Clock returns the clock the bus schedules on.
func (b *MemoryBus[T]) Clock() clock.Clock { return b.clock }

// Schedule accepts d for publication at its due time. A delivery whose
// idempotency token was already accepted is ignored.
func (b *MemoryBus[T]) Schedule(ctx context.Context, d *Delivery[T]) error {
	if d == nil {
		return ErrNilDelivery
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrDisposed
	}
	if _, seen := b.accepted[d.token]; seen {
		b.mu.Unlock()
		b.opts.logger.DebugContext(ctx, "duplicate delivery ignored",
			logger.Component("memory_bus"),
			logger.CommandType(b.name),
			logger.IdempotencyToken(d.token),
		)
		return nil
	}
	b.accepted[d.token] = struct{}{}
	b.pending[d.token] = d
	b.mu.Unlock()

	b.schedulePublish(d, d.DueTime())
	return nil
}

// Subscribe attaches h until the returned function is called.
func (b *MemoryBus[T]) Subscribe(_ context.Context, h Handler[T]) (func(), error) {
	if h == nil {
		return nil, ErrNilHandler
	}

	sub := &subscription[T]{handler: h}
	if err := b.addSubscription(sub); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(func() { b.removeSubscription(sub) }) }, nil
}

// Receive hands at most one delivery to h. It waits for the smaller of timeout
// and the time until the next scheduled action; on a virtual clock that wait
// advances the clock. A zero timeout uses the command type settings, then the
// bus default. Handler errors are returned to the caller.
func (b *MemoryBus[T]) Receive(ctx context.Context, h Handler[T], timeout time.Duration) (Result[T], bool, error) {
	var zero Result[T]
	if h == nil {
		return zero, false, ErrNilHandler
	}
	if timeout <= 0 {
		timeout = b.defaultReceiveTimeout()
	}

	type outcome struct {
		res Result[T]
		err error
	}
	captured := make(chan outcome, 1)

	sub := &subscription[T]{once: true}
	sub.handler = HandlerFunc[T](func(ctx context.Context, d *Delivery[T]) (Result[T], error) {
		res, err := safeHandle(ctx, h, d)
		captured <- outcome{res: res, err: err}
		return res, err
	})
	if err := b.addSubscription(sub); err != nil {
		return zero, false, err
	}
	defer b.removeSubscription(sub)

	window := timeout
	if insp, ok := b.clock.(clock.Inspector); ok {
		if next, ok := insp.TimeUntilNextActionIsDue(); ok && next < window {
			window = max(next, 0)
		}
	}

	if _, virtual := b.clock.(*clock.VirtualClock); virtual {
		if err := clock.Wait(ctx, b.clock, window); err != nil {
			return zero, false, err
		}
		select {
		case o := <-captured:
			return o.res, true, o.err
		default:
			return zero, false, nil
		}
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case o := <-captured:
		return o.res, true, o.err
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case <-timer.C:
		select {
		case o := <-captured:
			return o.res, true, o.err
		default:
			return zero, false, nil
		}
	}
}

// Undelivered returns the deliveries that were accepted but not yet settled,
// ordered by due time.
func (b *MemoryBus[T]) Undelivered() []*Delivery[T] {
	b.mu.RLock()
	out := make([]*Delivery[T], 0, len(b.pending))
	for _, d := range b.pending {
		out = append(out, d)
	}
	b.mu.RUnlock()

	slices.SortFunc(out, func(x, y *Delivery[T]) int {
		if c := x.DueTime().Compare(y.DueTime()); c != 0 {
			return c
		}
		if c := x.originalDueTime.Compare(y.originalDueTime); c != 0 {
			return c
		}
		return cmp.Compare(x.token, y.token)
	})
	return out
}

// Stats returns a snapshot of the bus counters.
func (b *MemoryBus[T]) Stats() BusStats {
	b.mu.RLock()
	pending, subscribers := len(b.pending), len(b.subscribers)
	b.mu.RUnlock()

	return BusStats{
		Pending:     pending,
		Subscribers: subscribers,
		Published:   b.published.Load(),
		Settled:     b.settled.Load(),
		Retried:     b.retried.Load(),
		Failed:      b.failed.Load(),
	}
}

// Healthcheck reports ErrDisposed once the bus is closed.
func (b *MemoryBus[T]) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrDisposed
	}
	return nil
}

// Close detaches every subscriber and disposes the bus. Pending deliveries are
// kept for inspection but never published again.
func (b *MemoryBus[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, sub := range b.subscribers {
		sub.active.Store(false)
	}
	b.subscribers = nil
	b.mu.Unlock()

	b.cancel()
	return nil
}

func (b *MemoryBus[T]) defaultReceiveTimeout() time.Duration {
	if d := SettingsFor[T]().ReceiveTimeout; d > 0 {
		return d
	}
	return b.receiveTimeout
}

func (b *MemoryBus[T]) addSubscription(sub *subscription[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrDisposed
	}
	b.nextID++
	sub.id = b.nextID
	sub.active.Store(true)
	b.subscribers = append(b.subscribers, sub)
	return nil
}

func (b *MemoryBus[T]) removeSubscription(sub *subscription[T]) {
	sub.active.Store(false)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = slices.DeleteFunc(b.subscribers, func(s *subscription[T]) bool {
		return s.id == sub.id
	})
}

func (b *MemoryBus[T]) schedulePublish(d *Delivery[T], at time.Time) {
	b.clock.Schedule(at, func() { b.publish(d) })
}

func (b *MemoryBus[T]) publish(d *Delivery[T]) {
	b.mu.RLock()
	_, pending := b.pending[d.token]
	if b.closed || !pending {
		b.mu.RUnlock()
		return
	}
	subs := slices.Clone(b.subscribers)
	b.mu.RUnlock()

	// The handler context carries the bus clock and the delivery context of d,
	// so commands scheduled by handlers get tokens derived from d's token.
	ctx, _ := EstablishDeliveryContext(b.ctx, d.token)

	var handled, retry, settled bool
	for _, sub := range subs {
		if !sub.claim() {
			continue
		}
		handled = true

		res, err := safeHandle(ctx, sub.handler, d)
		if err == nil && (res.IsZero() || res.delivery != d) {
			err = ErrInvalidResult
		}
		if err != nil {
			if !sub.once {
				b.reportError(ctx, d, err)
			}
			continue
		}

		switch res.Kind() {
		case ResultRetry:
			retry = true
		case ResultComplete, ResultCancel:
			settled = true
		case ResultPause:
			// Pausing is enforced by circuit breaker middleware. The delivery
			// stays pending.
		}
	}

	if !handled {
		b.opts.logger.DebugContext(ctx, "no subscribers, delivery postponed",
			logger.Component("memory_bus"),
			logger.CommandType(b.name),
			logger.IdempotencyToken(d.token),
			logger.Duration(b.pollInterval),
		)
		b.schedulePublish(d, b.clock.Now().Add(b.pollInterval))
		return
	}

	b.published.Add(1)

	switch {
	case settled:
		b.mu.Lock()
		delete(b.pending, d.token)
		b.mu.Unlock()
		b.settled.Add(1)
	case retry:
		b.retried.Add(1)
		b.schedulePublish(d, d.DueTime())
	}
}

func (b *MemoryBus[T]) reportError(ctx context.Context, d *Delivery[T], err error) {
	b.failed.Add(1)
	b.opts.logger.ErrorContext(ctx, "delivery handler failed",
		logger.Component("memory_bus"),
		logger.CommandType(b.name),
		logger.IdempotencyToken(d.token),
		logger.Attempts(d.PreviousAttempts()),
		logger.Error(err),
	)
	if b.opts.errorHandler != nil {
		b.opts.errorHandler(ctx, d.token, err)
	}
}
