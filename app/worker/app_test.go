package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/app/worker"
	"github.com/dmitrymomot/courier/core/circuitbreaker"
	"github.com/dmitrymomot/courier/core/clock"
	"github.com/dmitrymomot/courier/core/command"
	"github.com/dmitrymomot/courier/core/health"
	"github.com/dmitrymomot/courier/core/logger"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type issueInvoice struct {
	Number int
}

func newApp(t *testing.T, opts ...worker.AppOption[issueInvoice]) (*worker.App[issueInvoice], *clock.VirtualClock) {
	t.Helper()

	vc := clock.NewVirtual(epoch)
	opts = append([]worker.AppOption[issueInvoice]{
		worker.WithConfig[issueInvoice](worker.DefaultConfig()),
		worker.WithClock[issueInvoice](vc),
		worker.WithLogger[issueInvoice](logger.Discard()),
	}, opts...)

	app, err := worker.NewApp(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, vc
}

func TestApp_DeliversThroughMiddleware(t *testing.T) {
	t.Parallel()

	var seen []string
	trace := func(next command.Handler[issueInvoice]) command.Handler[issueInvoice] {
		return command.HandlerFunc[issueInvoice](func(ctx context.Context, d *command.Delivery[issueInvoice]) (command.Result[issueInvoice], error) {
			seen = append(seen, d.IdempotencyToken())
			return next.Handle(ctx, d)
		})
	}
	app, _ := newApp(t, worker.WithMiddleware[issueInvoice](trace))
	ctx := context.Background()

	d, err := app.Schedule(ctx, issueInvoice{Number: 1}, command.WithIdempotencyToken("inv-1"))
	require.NoError(t, err)

	res, ok, err := app.Receive(ctx, command.HandlerFunc[issueInvoice](func(ctx context.Context, d *command.Delivery[issueInvoice]) (command.Result[issueInvoice], error) {
		return d.Complete(), nil
	}), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, command.ResultComplete, res.Kind())
	assert.Same(t, d, res.Delivery())
	assert.Equal(t, []string{"inv-1"}, seen)
	assert.Empty(t, app.Bus().Undelivered())
}

func TestApp_RetriesHandlerErrors(t *testing.T) {
	t.Parallel()

	app, vc := newApp(t)
	ctx := context.Background()

	_, err := app.Schedule(ctx, issueInvoice{Number: 2})
	require.NoError(t, err)

	calls := 0
	h := command.HandlerFunc[issueInvoice](func(ctx context.Context, d *command.Delivery[issueInvoice]) (command.Result[issueInvoice], error) {
		calls++
		if calls == 1 {
			return command.Result[issueInvoice]{}, errors.New("ledger unavailable")
		}
		return d.Complete(), nil
	})

	res, ok, err := app.Receive(ctx, h, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, command.ResultRetry, res.Kind())

	pending := app.Bus().Undelivered()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].PreviousAttempts())

	res, ok, err = app.Receive(ctx, h, 2*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, command.ResultComplete, res.Kind())
	assert.Equal(t, epoch.Add(time.Minute), vc.Now())
}

func TestApp_Health(t *testing.T) {
	t.Parallel()

	redisErr := errors.New("redis down")
	failing := false
	app, _ := newApp(t, worker.WithHealthcheck[issueInvoice](func(context.Context) error {
		if failing {
			return redisErr
		}
		return nil
	}))
	ctx := context.Background()

	assert.NoError(t, app.Live(ctx))
	assert.NoError(t, app.Ready(ctx))

	failing = true
	assert.ErrorIs(t, app.Ready(ctx), redisErr)

	failing = false
	require.NoError(t, app.Close())
	err := app.Ready(ctx)
	assert.ErrorIs(t, err, health.ErrNotReady)
	assert.ErrorIs(t, err, command.ErrDisposed)
}

func TestNewApp_Validation(t *testing.T) {
	t.Parallel()

	_, err := worker.NewApp(worker.WithLogger[issueInvoice](nil))
	assert.Error(t, err)

	cfg := worker.DefaultConfig()
	cfg.LogLevel = "loud"
	_, err = worker.NewApp(worker.WithConfig[issueInvoice](cfg))
	assert.Error(t, err)
}

// countingBroker tracks subscriptions that have not been released.
type countingBroker struct {
	circuitbreaker.Broker
	live atomic.Int64
}

func (b *countingBroker) Subscribe(ctx context.Context, key string, fn func(circuitbreaker.Descriptor)) (func(), error) {
	unsubscribe, err := b.Broker.Subscribe(ctx, key, fn)
	if err != nil {
		return nil, err
	}
	b.live.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			b.live.Add(-1)
		}
		unsubscribe()
	}, nil
}

func TestApp_ReleasesBreakerSubscription(t *testing.T) {
	t.Parallel()

	vc := clock.NewVirtual(epoch)
	memory := circuitbreaker.NewMemoryBroker(circuitbreaker.WithClock(vc))
	t.Cleanup(func() { _ = memory.Close() })
	broker := &countingBroker{Broker: memory}

	app, err := worker.NewApp(
		worker.WithConfig[issueInvoice](worker.DefaultConfig()),
		worker.WithClock[issueInvoice](vc),
		worker.WithLogger[issueInvoice](logger.Discard()),
		worker.WithBroker[issueInvoice](broker),
	)
	require.NoError(t, err)

	ctx := context.Background()
	h := command.HandlerFunc[issueInvoice](func(_ context.Context, d *command.Delivery[issueInvoice]) (command.Result[issueInvoice], error) {
		return d.Complete(), nil
	})
	for i := range 50 {
		_, err := app.Schedule(ctx, issueInvoice{Number: i})
		require.NoError(t, err)
		_, ok, err := app.Receive(ctx, h, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, int64(1), broker.live.Load())

	require.NoError(t, app.Close())
	assert.Zero(t, broker.live.Load())
}
