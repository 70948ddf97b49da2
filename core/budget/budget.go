package budget

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/courier/core/clock"
)

// Entry is a named checkpoint recorded against a budget.
type Entry struct {
	Name               string
	Elapsed            time.Duration
	WasAlreadyExceeded bool
}

// Budget tracks elapsed time against an optional deadline and carries a
// cancellation signal. A budget is exceeded only when its signal fires: via
// Cancel, via the parent context, or, for time budgets, when the clock reaches
// the deadline.
type Budget struct {
	clock  clock.Clock
	start  time.Time
	total  time.Duration
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries []Entry
}

// Option configures a Budget.
type Option func(*Budget)

// WithClock sets the clock used to measure elapsed time and, for time
// budgets, to schedule the deadline. Defaults to clock.FromContext(parent).
func WithClock(c clock.Clock) Option {
	return func(b *Budget) {
		if c != nil {
			b.clock = c
		}
	}
}

// New creates a budget without a deadline. It is exceeded when Cancel is
// called or parent is done.
func New(parent context.Context, opts ...Option) *Budget {
	if parent == nil {
		parent = context.Background()
	}

	b := &Budget{clock: clock.FromContext(parent)}
	for _, opt := range opts {
		opt(b)
	}

	b.ctx, b.cancel = context.WithCancel(clock.WithClock(parent, b.clock))
	b.start = b.clock.Now()

	return b
}

// NewTimeBudget creates a budget that is cancelled once d has elapsed on its
// clock. On a virtual clock the cancellation fires exactly when the clock is
// advanced to start+d.
func NewTimeBudget(parent context.Context, d time.Duration, opts ...Option) (*Budget, error) {
	if d <= 0 {
		return nil, ErrInvalidDuration
	}

	b := New(parent, opts...)
	b.total = d
	b.clock.Schedule(b.start.Add(d), b.cancel)

	return b, nil
}

// Context returns a context that is done once the budget is exceeded. The
// budget's clock is attached to it.
func (b *Budget) Context() context.Context { return b.ctx }

// Done is closed when the budget is exceeded.
func (b *Budget) Done() <-chan struct{} { return b.ctx.Done() }

// Cancel exceeds the budget immediately.
func (b *Budget) Cancel() { b.cancel() }

// IsExceeded reports whether the cancellation signal has fired.
func (b *Budget) IsExceeded() bool { return b.ctx.Err() != nil }

// Clock returns the clock the budget measures against.
func (b *Budget) Clock() clock.Clock { return b.clock }

// StartTime returns the clock time at which the budget was created.
func (b *Budget) StartTime() time.Time { return b.start }

// Elapsed returns the time passed on the budget's clock since creation.
func (b *Budget) Elapsed() time.Duration { return b.clock.Now().Sub(b.start) }

// Total returns the budget duration. The second value is false for budgets
// without a deadline.
func (b *Budget) Total() (time.Duration, bool) { return b.total, b.total > 0 }

// Remaining returns max(0, total-elapsed). The second value is false for
// budgets without a deadline.
func (b *Budget) Remaining() (time.Duration, bool) {
	if b.total <= 0 {
		return 0, false
	}
	return max(0, b.total-b.Elapsed()), true
}

// RecordEntry appends a checkpoint capturing the elapsed time and whether the
// budget was already exceeded.
func (b *Budget) RecordEntry(name string) Entry {
	entry := Entry{
		Name:               name,
		Elapsed:            b.Elapsed(),
		WasAlreadyExceeded: b.IsExceeded(),
	}

	b.mu.Lock()
	b.entries = append(b.entries, entry)
	b.mu.Unlock()

	return entry
}

// RecordEntryAndCheck records a checkpoint and returns an *ExceededError if
// the budget is exceeded.
func (b *Budget) RecordEntryAndCheck(name string) error {
	if entry := b.RecordEntry(name); entry.WasAlreadyExceeded {
		return b.exceeded()
	}
	return nil
}

// Check returns an *ExceededError if the budget is exceeded, nil otherwise.
func (b *Budget) Check() error {
	if b.IsExceeded() {
		return b.exceeded()
	}
	return nil
}

// Entries returns a copy of the recorded checkpoints ordered by elapsed time.
func (b *Budget) Entries() []Entry {
	b.mu.Lock()
	entries := slices.Clone(b.entries)
	b.mu.Unlock()

	slices.SortStableFunc(entries, func(x, y Entry) int {
		return cmp.Compare(x.Elapsed, y.Elapsed)
	})
	return entries
}

func (b *Budget) exceeded() *ExceededError {
	return &ExceededError{Entries: b.Entries(), Total: b.total}
}
