package budget_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/core/budget"
	"github.com/dmitrymomot/courier/core/clock"
)

func TestExecutor(t *testing.T) {
	t.Parallel()

	t.Run("runs posted work in order", func(t *testing.T) {
		t.Parallel()
		e := budget.NewExecutor(budget.New(context.Background()))
		defer e.Close()

		var (
			mu    sync.Mutex
			order []int
		)
		for i := range 10 {
			require.NoError(t, e.Post(func(context.Context) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			}))
		}

		require.NoError(t, e.Send(context.Background(), func(context.Context) error { return nil }))

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
	})

	t.Run("send returns work error", func(t *testing.T) {
		t.Parallel()
		e := budget.NewExecutor(budget.New(context.Background()))
		defer e.Close()

		boom := errors.New("boom")
		err := e.Send(context.Background(), func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("send recovers panics", func(t *testing.T) {
		t.Parallel()
		e := budget.NewExecutor(budget.New(context.Background()))
		defer e.Close()

		err := e.Send(context.Background(), func(context.Context) error { panic("kaboom") })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "kaboom")

		require.NoError(t, e.Send(context.Background(), func(context.Context) error { return nil }))
	})

	t.Run("work sees the budget clock", func(t *testing.T) {
		t.Parallel()
		vc := clock.NewVirtual(epoch)
		e := budget.NewExecutor(budget.New(context.Background(), budget.WithClock(vc)))
		defer e.Close()

		var seen clock.Clock
		require.NoError(t, e.Send(context.Background(), func(ctx context.Context) error {
			seen = clock.FromContext(ctx)
			return nil
		}))
		assert.Same(t, vc, seen)
		assert.Same(t, vc, e.Clock())
	})

	t.Run("post after close fails", func(t *testing.T) {
		t.Parallel()
		e := budget.NewExecutor(budget.New(context.Background()))
		e.Close()
		e.Close()

		assert.ErrorIs(t, e.Post(func(context.Context) {}), budget.ErrDisposed)
		select {
		case <-e.Done():
		case <-time.After(time.Second):
			t.Fatal("executor did not stop")
		}
	})

	t.Run("stops once budget is exceeded", func(t *testing.T) {
		t.Parallel()
		vc := clock.NewVirtual(epoch)
		b, err := budget.NewTimeBudget(context.Background(), time.Second, budget.WithClock(vc))
		require.NoError(t, err)
		e := budget.NewExecutor(b)
		defer e.Close()

		require.NoError(t, vc.AdvanceBy(time.Second))

		select {
		case <-e.Done():
		case <-time.After(time.Second):
			t.Fatal("executor did not stop")
		}
		assert.ErrorIs(t, e.Post(func(context.Context) {}), budget.ErrBudgetExceeded)
	})

	t.Run("send honours its context", func(t *testing.T) {
		t.Parallel()
		e := budget.NewExecutor(budget.New(context.Background()))
		defer e.Close()

		release := make(chan struct{})
		require.NoError(t, e.Post(func(context.Context) { <-release }))
		defer close(release)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := e.Send(ctx, func(context.Context) error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}
