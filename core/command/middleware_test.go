package command_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/core/clock"
	"github.com/dmitrymomot/courier/core/command"
	"github.com/dmitrymomot/courier/core/logger"
)

type refundOrder struct {
	OrderID string
}

func newRefund(t *testing.T, ctx context.Context, opts ...command.DeliveryOption) *command.Delivery[refundOrder] {
	t.Helper()
	d, err := command.NewDelivery(ctx, refundOrder{OrderID: "o-1"}, opts...)
	require.NoError(t, err)
	return d
}

func recording(name string, calls *[]string) command.Middleware[refundOrder] {
	return func(next command.Handler[refundOrder]) command.Handler[refundOrder] {
		return command.HandlerFunc[refundOrder](func(ctx context.Context, d *command.Delivery[refundOrder]) (command.Result[refundOrder], error) {
			*calls = append(*calls, name+":before")
			res, err := next.Handle(ctx, d)
			*calls = append(*calls, name+":after")
			return res, err
		})
	}
}

func TestChain(t *testing.T) {
	t.Parallel()

	var calls []string
	h := command.UseMiddleware[refundOrder](
		command.HandlerFunc[refundOrder](func(_ context.Context, d *command.Delivery[refundOrder]) (command.Result[refundOrder], error) {
			calls = append(calls, "handler")
			return d.Complete(), nil
		}),
		recording("first", &calls),
		recording("second", &calls),
	)

	res, err := h.Handle(context.Background(), newRefund(t, context.Background()))
	require.NoError(t, err)
	assert.Equal(t, command.ResultComplete, res.Kind())
	assert.Equal(t, []string{"first:before", "second:before", "handler", "second:after", "first:after"}, calls)
}

func TestRetryOnError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	failing := command.HandlerFunc[refundOrder](func(context.Context, *command.Delivery[refundOrder]) (command.Result[refundOrder], error) {
		return command.Result[refundOrder]{}, boom
	})

	t.Run("retries while policy allows", func(t *testing.T) {
		t.Parallel()
		ctx := clock.WithClock(context.Background(), clock.NewVirtual(epoch))
		d := newRefund(t, ctx)

		h := command.Chain[refundOrder](failing, command.RetryOnError[refundOrder](nil))
		res, err := h.Handle(ctx, d)
		require.NoError(t, err)

		assert.Equal(t, command.ResultRetry, res.Kind())
		assert.ErrorIs(t, res.Err(), boom)
		assert.Equal(t, time.Minute, res.Period())
		assert.Equal(t, epoch.Add(time.Minute), d.DueTime())
		assert.Equal(t, 1, d.PreviousAttempts())
	})

	t.Run("cancels once exhausted", func(t *testing.T) {
		t.Parallel()
		d := newRefund(t, context.Background(), command.WithPreviousAttempts(3))

		h := command.Chain[refundOrder](failing, command.RetryOnError[refundOrder](command.MaxAttempts(3, nil)))
		res, err := h.Handle(context.Background(), d)
		require.NoError(t, err)

		assert.Equal(t, command.ResultCancel, res.Kind())
		assert.Equal(t, "retry attempts exhausted", res.Reason())
		assert.ErrorIs(t, res.Err(), boom)
		assert.Equal(t, 3, d.PreviousAttempts())
	})

	t.Run("panics become retries", func(t *testing.T) {
		t.Parallel()
		panicking := command.HandlerFunc[refundOrder](func(context.Context, *command.Delivery[refundOrder]) (command.Result[refundOrder], error) {
			panic("nil map")
		})

		h := command.Chain[refundOrder](panicking, command.RetryOnError[refundOrder](command.ConstantRetryPolicy(time.Second)))
		res, err := h.Handle(context.Background(), newRefund(t, context.Background()))
		require.NoError(t, err)

		assert.Equal(t, command.ResultRetry, res.Kind())
		assert.ErrorIs(t, res.Err(), command.ErrHandlerPanicked)
	})

	t.Run("successful results pass through", func(t *testing.T) {
		t.Parallel()
		ok := command.HandlerFunc[refundOrder](func(_ context.Context, d *command.Delivery[refundOrder]) (command.Result[refundOrder], error) {
			return d.PauseAllDeliveriesFor(time.Second), nil
		})
		res, err := command.Chain[refundOrder](ok, command.RetryOnError[refundOrder](nil)).
			Handle(context.Background(), newRefund(t, context.Background()))
		require.NoError(t, err)
		assert.Equal(t, command.ResultPause, res.Kind())
	})
}

func TestTrace(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.New(logger.WithJSONFormatter(), logger.WithLevel(slog.LevelDebug), logger.WithOutput(&buf))

	h := command.Chain[refundOrder](
		command.HandlerFunc[refundOrder](func(_ context.Context, d *command.Delivery[refundOrder]) (command.Result[refundOrder], error) {
			return d.Complete(), nil
		}),
		command.Trace[refundOrder](log),
	)

	d := newRefund(t, context.Background(), command.WithIdempotencyToken("tok-1"))
	_, err := h.Handle(context.Background(), d)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"handling delivery"`)
	assert.Contains(t, out, `"msg":"delivery handled"`)
	assert.Contains(t, out, `"result":"complete"`)
	assert.Contains(t, out, `"idempotency_token":"tok-1"`)
	assert.Contains(t, out, `"command_type":"refundOrder"`)
}

type fakeReceiver struct {
	handler command.Handler[refundOrder]
}

func (r *fakeReceiver) Subscribe(_ context.Context, h command.Handler[refundOrder]) (func(), error) {
	r.handler = h
	return func() {}, nil
}

func (r *fakeReceiver) Receive(ctx context.Context, h command.Handler[refundOrder], _ time.Duration) (command.Result[refundOrder], bool, error) {
	d, err := command.NewDelivery(ctx, refundOrder{})
	if err != nil {
		return command.Result[refundOrder]{}, false, err
	}
	res, err := h.Handle(ctx, d)
	return res, true, err
}

func TestUseReceiverMiddleware(t *testing.T) {
	t.Parallel()

	var calls []string
	inner := &fakeReceiver{}
	r := command.UseReceiverMiddleware[refundOrder](inner, recording("mw", &calls))

	h := command.HandlerFunc[refundOrder](func(_ context.Context, d *command.Delivery[refundOrder]) (command.Result[refundOrder], error) {
		calls = append(calls, "handler")
		return d.Complete(), nil
	})

	res, ok, err := r.Receive(context.Background(), h, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, command.ResultComplete, res.Kind())
	assert.Equal(t, []string{"mw:before", "handler", "mw:after"}, calls)

	_, err = r.Subscribe(context.Background(), h)
	require.NoError(t, err)
	require.NotNil(t, inner.handler)

	_, err = r.Subscribe(context.Background(), nil)
	assert.ErrorIs(t, err, command.ErrNilHandler)
}

func TestUseSchedulerMiddleware(t *testing.T) {
	t.Parallel()

	var scheduled []*command.Delivery[refundOrder]
	base := command.SchedulerFunc[refundOrder](func(_ context.Context, d *command.Delivery[refundOrder]) error {
		scheduled = append(scheduled, d)
		return nil
	})

	tag := func(next command.Scheduler[refundOrder]) command.Scheduler[refundOrder] {
		return command.SchedulerFunc[refundOrder](func(ctx context.Context, d *command.Delivery[refundOrder]) error {
			d.SetProperty("source", "checkout")
			return next.Schedule(ctx, d)
		})
	}

	s := command.UseSchedulerMiddleware[refundOrder](base, tag)
	d, err := command.ScheduleCommand(context.Background(), s, refundOrder{OrderID: "o-9"})
	require.NoError(t, err)

	require.Len(t, scheduled, 1)
	assert.Same(t, d, scheduled[0])
	v, ok := d.Property("source")
	require.True(t, ok)
	assert.Equal(t, "checkout", v)
}
