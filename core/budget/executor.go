package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/courier/core/clock"
	"github.com/dmitrymomot/courier/core/logger"
)

// Executor runs posted work one item at a time on a dedicated goroutine,
// bound to a single budget and its clock. Once the budget is exceeded the
// executor stops pumping and drops whatever is still queued.
type Executor struct {
	budget *Budget
	logger *slog.Logger

	mu     sync.Mutex
	queue  []func(context.Context)
	closed bool

	signal   chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger used to report panics in posted work.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor starts an executor bound to b.
func NewExecutor(b *Budget, opts ...ExecutorOption) *Executor {
	e := &Executor{
		budget: b,
		logger: logger.Discard(),
		signal: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	go e.pump()

	return e
}

// Budget returns the budget the executor is bound to.
func (e *Executor) Budget() *Budget { return e.budget }

// Clock returns the clock of the bound budget.
func (e *Executor) Clock() clock.Clock { return e.budget.Clock() }

// Post queues fn. It fails with an *ExceededError once the budget is exceeded
// and with ErrDisposed after Close.
func (e *Executor) Post(fn func(ctx context.Context)) error {
	if fn == nil {
		return nil
	}

	e.mu.Lock()
	if err := e.budget.Check(); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.closed {
		e.mu.Unlock()
		return ErrDisposed
	}
	e.queue = append(e.queue, fn)
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
	return nil
}

// Send posts fn and waits for it to finish. A panic in fn is returned as an
// error. If the executor stops before fn runs, Send returns ErrDisposed or the
// budget's *ExceededError.
func (e *Executor) Send(ctx context.Context, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	err := e.Post(func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("panic in executor: %v", r)
			}
		}()
		result <- fn(ctx)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		// The pump may have finished fn right before exiting.
		select {
		case err := <-result:
			return err
		default:
		}
		if err := e.budget.Check(); err != nil {
			return err
		}
		return ErrDisposed
	}
}

// Close stops the executor. Queued work that has not started is dropped.
// Close does not wait for the running item; use Done for that.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.stopOnce.Do(func() { close(e.stop) })
}

// Done is closed when the pump goroutine has exited.
func (e *Executor) Done() <-chan struct{} { return e.done }

func (e *Executor) pump() {
	defer close(e.done)

	for {
		select {
		case <-e.stop:
			return
		case <-e.budget.Done():
			e.mu.Lock()
			e.closed = true
			e.queue = nil
			e.mu.Unlock()
			return
		case <-e.signal:
			for {
				fn, ok := e.next()
				if !ok {
					break
				}
				e.run(fn)
			}
		}
	}
}

func (e *Executor) next() (func(context.Context), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || len(e.queue) == 0 || e.budget.IsExceeded() {
		return nil, false
	}

	fn := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return fn, true
}

func (e *Executor) run(fn func(context.Context)) {
	ctx := e.budget.Context()
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "panic in executor",
				logger.Component("budget_executor"),
				slog.Any("panic", r),
				logger.Stack(),
			)
		}
	}()
	fn(ctx)
}
