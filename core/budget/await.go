package budget

import (
	"context"
	"errors"

	"github.com/dmitrymomot/courier/pkg/async"
)

// Await runs fn with the budget's context and waits for it, or for the budget
// to be exceeded. In the latter case an *ExceededError is returned and fn's
// result is discarded.
//
// Example:
//
//	user, err := budget.Await(b, func(ctx context.Context) (User, error) {
//	    return repo.Find(ctx, id)
//	})
//	if errors.Is(err, budget.ErrBudgetExceeded) {
//	    // give up
//	}
func Await[T any](b *Budget, fn func(context.Context) (T, error)) (T, error) {
	f := async.Async(b.Context(), struct{}{}, func(ctx context.Context, _ struct{}) (T, error) {
		return fn(ctx)
	})

	var zero T
	select {
	case <-f.Done():
		v, err := f.Await()
		if err != nil && b.IsExceeded() {
			return zero, b.exceeded()
		}
		return v, err
	case <-b.Done():
		return zero, b.exceeded()
	}
}

// AwaitOr is Await returning fallback instead of an error when the budget is
// exceeded first.
func AwaitOr[T any](b *Budget, fn func(context.Context) (T, error), fallback T) (T, error) {
	v, err := Await(b, fn)
	if errors.Is(err, ErrBudgetExceeded) {
		return fallback, nil
	}
	return v, err
}
