package command

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/courier/core/clock"
)

// Delivery is one attempt-in-flight envelope around a command. The due time
// and attempt counter change only through Retry; the original due time is
// fixed at creation.
type Delivery[T any] struct {
	command         T
	originalDueTime time.Time
	token           string

	mu               sync.RWMutex
	dueTime          time.Time
	previousAttempts int
	properties       map[string]any
}

type deliveryOptions struct {
	dueTime          time.Time
	delay            time.Duration
	hasDelay         bool
	originalDueTime  time.Time
	token            string
	hasToken         bool
	previousAttempts int
	properties       map[string]any
}

// DeliveryOption configures a delivery built by NewDelivery.
type DeliveryOption func(*deliveryOptions)

// WithDueTime sets the instant at or after which the delivery is handed to a
// handler. A zero time means as soon as possible.
func WithDueTime(t time.Time) DeliveryOption {
	return func(o *deliveryOptions) {
		o.dueTime = t
		o.hasDelay = false
	}
}

// WithDelay sets the due time relative to the clock's now.
func WithDelay(d time.Duration) DeliveryOption {
	return func(o *deliveryOptions) {
		o.delay = d
		o.hasDelay = true
	}
}

// WithIdempotencyToken sets the deduplication key explicitly.
func WithIdempotencyToken(token string) DeliveryOption {
	return func(o *deliveryOptions) {
		o.token = token
		o.hasToken = true
	}
}

// WithPreviousAttempts sets the number of attempts already made. Used by
// transports rebuilding a redelivered message.
func WithPreviousAttempts(n int) DeliveryOption {
	return func(o *deliveryOptions) { o.previousAttempts = max(0, n) }
}

// WithOriginalDueTime overrides the original due time, which otherwise equals
// the due time or the creation instant.
func WithOriginalDueTime(t time.Time) DeliveryOption {
	return func(o *deliveryOptions) { o.originalDueTime = t }
}

// WithProperty attaches a property to the delivery.
func WithProperty(key string, value any) DeliveryOption {
	return func(o *deliveryOptions) {
		if o.properties == nil {
			o.properties = make(map[string]any)
		}
		o.properties[key] = value
	}
}

// NewDelivery wraps cmd in a delivery. The clock is taken from ctx.
//
// Without WithIdempotencyToken the token is derived from the delivery context
// in ctx (see NextToken), so commands scheduled while handling another
// delivery get reproducible tokens. Outside any delivery context a random
// token is generated.
func NewDelivery[T any](ctx context.Context, cmd T, opts ...DeliveryOption) (*Delivery[T], error) {
	o := &deliveryOptions{}
	for _, opt := range opts {
		opt(o)
	}

	now := clock.FromContext(ctx).Now()

	due := o.dueTime
	if o.hasDelay {
		due = now.Add(o.delay)
	}

	token := o.token
	if o.hasToken {
		if token == "" {
			return nil, ErrEmptyIdempotencyToken
		}
	} else if derived, ok := NextToken(ctx, TypeName[T]()); ok {
		token = derived
	} else {
		token = uuid.NewString()
	}

	original := o.originalDueTime
	if original.IsZero() {
		original = due
	}
	if original.IsZero() {
		original = now
	}

	return &Delivery[T]{
		command:          cmd,
		dueTime:          due,
		originalDueTime:  original,
		token:            token,
		previousAttempts: o.previousAttempts,
		properties:       o.properties,
	}, nil
}

// Command returns the wrapped command.
func (d *Delivery[T]) Command() T { return d.command }

// IdempotencyToken returns the deduplication key. It is never empty.
func (d *Delivery[T]) IdempotencyToken() string { return d.token }

// OriginalDueTime returns the due time the delivery was created with.
func (d *Delivery[T]) OriginalDueTime() time.Time { return d.originalDueTime }

// DueTime returns the current due time. Zero means as soon as possible.
func (d *Delivery[T]) DueTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dueTime
}

// PreviousAttempts returns how many times the delivery has been retried.
func (d *Delivery[T]) PreviousAttempts() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.previousAttempts
}

// Property returns a property value.
func (d *Delivery[T]) Property(key string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.properties[key]
	return v, ok
}

// SetProperty sets a property value.
func (d *Delivery[T]) SetProperty(key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.properties == nil {
		d.properties = make(map[string]any)
	}
	d.properties[key] = value
}

// Properties returns a copy of all properties.
func (d *Delivery[T]) Properties() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.properties)
}

// Complete produces a Complete result.
func (d *Delivery[T]) Complete() Result[T] { return Complete(d) }

// Cancel produces a Cancel result.
func (d *Delivery[T]) Cancel(reason string, err error) Result[T] { return Cancel(d, reason, err) }

// Retry produces a Retry result, moving the due time period past the current
// due time, or past now on the clock in ctx when there is none.
func (d *Delivery[T]) Retry(ctx context.Context, period time.Duration, err error) Result[T] {
	return Retry(ctx, d, period, err)
}

// PauseAllDeliveriesFor asks circuit breaker middleware to stop dispatching
// deliveries of this command type for period.
func (d *Delivery[T]) PauseAllDeliveriesFor(period time.Duration) Result[T] {
	return Pause(d, period)
}

func (d *Delivery[T]) scheduleRetry(now time.Time, period time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	base := d.dueTime
	if base.IsZero() {
		base = now
	}
	d.dueTime = base.Add(period)
	d.previousAttempts++
}
