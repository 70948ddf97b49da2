package async

import (
	"context"
	"time"
)

// Future holds the result of a computation running on its own goroutine.
type Future[T any] struct {
	value T
	err   error
	done  chan struct{}
}

// Async runs fn on a new goroutine and returns a Future for its result.
// If ctx is already done, fn is not called and the future resolves with ctx.Err().
func Async[P, T any](ctx context.Context, param P, fn func(context.Context, P) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	go func() {
		defer close(f.done)

		// Pre-cancelled context: skip the call entirely
		if err := ctx.Err(); err != nil {
			f.err = err
			return
		}

		f.value, f.err = fn(ctx, param)
	}()

	return f
}

// Await blocks until the computation finishes.
func (f *Future[T]) Await() (T, error) {
	<-f.done
	return f.value, f.err
}

// AwaitContext blocks until the computation finishes or ctx is done,
// whichever happens first. The computation keeps running in the latter case.
func (f *Future[T]) AwaitContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AwaitWithTimeout is AwaitContext with a relative deadline. It returns
// ErrTimeout when the deadline passes first.
func (f *Future[T]) AwaitWithTimeout(timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.value, f.err
	case <-timer.C:
		var zero T
		return zero, ErrTimeout
	}
}

// Done is closed once the computation has finished.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsComplete reports whether the computation has finished, without blocking.
func (f *Future[T]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// WaitAll waits for every future and returns their values in order. The first
// error encountered, in order, is returned.
func WaitAll[T any](futures ...*Future[T]) ([]T, error) {
	values := make([]T, len(futures))
	for i, f := range futures {
		v, err := f.Await()
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// WaitAny returns the index and result of the first future to finish.
func WaitAny[T any](futures ...*Future[T]) (int, T, error) {
	if len(futures) == 0 {
		var zero T
		return -1, zero, ErrNoFutures
	}

	type outcome struct {
		index int
		value T
		err   error
	}
	first := make(chan outcome, len(futures))

	for i, f := range futures {
		go func() {
			v, err := f.Await()
			first <- outcome{index: i, value: v, err: err}
		}()
	}

	res := <-first
	return res.index, res.value, res.err
}
