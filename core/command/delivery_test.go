package command_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/core/clock"
	"github.com/dmitrymomot/courier/core/command"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type chargeCard struct {
	Amount int
}

func TestNewDelivery(t *testing.T) {
	t.Parallel()

	t.Run("empty explicit token is rejected", func(t *testing.T) {
		t.Parallel()
		d, err := command.NewDelivery(context.Background(), chargeCard{}, command.WithIdempotencyToken(""))
		assert.ErrorIs(t, err, command.ErrEmptyIdempotencyToken)
		assert.Nil(t, d)
	})

	t.Run("random token outside delivery context", func(t *testing.T) {
		t.Parallel()
		d1, err := command.NewDelivery(context.Background(), chargeCard{Amount: 1})
		require.NoError(t, err)
		d2, err := command.NewDelivery(context.Background(), chargeCard{Amount: 1})
		require.NoError(t, err)

		assert.NotEqual(t, d1.IdempotencyToken(), d2.IdempotencyToken())
		_, err = uuid.Parse(d1.IdempotencyToken())
		assert.NoError(t, err)
	})

	t.Run("derived token inside delivery context", func(t *testing.T) {
		t.Parallel()
		newToken := func() string {
			ctx, err := command.EstablishDeliveryContext(context.Background(), "parent")
			require.NoError(t, err)
			d, err := command.NewDelivery(ctx, chargeCard{})
			require.NoError(t, err)
			return d.IdempotencyToken()
		}
		assert.Equal(t, newToken(), newToken())
	})

	t.Run("delay is relative to context clock", func(t *testing.T) {
		t.Parallel()
		ctx := clock.WithClock(context.Background(), clock.NewVirtual(epoch))
		d, err := command.NewDelivery(ctx, chargeCard{}, command.WithDelay(5*time.Second))
		require.NoError(t, err)
		assert.Equal(t, epoch.Add(5*time.Second), d.DueTime())
		assert.Equal(t, epoch.Add(5*time.Second), d.OriginalDueTime())
	})

	t.Run("no due time means now for original due time", func(t *testing.T) {
		t.Parallel()
		ctx := clock.WithClock(context.Background(), clock.NewVirtual(epoch))
		d, err := command.NewDelivery(ctx, chargeCard{Amount: 7},
			command.WithIdempotencyToken("abc"),
			command.WithPreviousAttempts(2),
			command.WithProperty("tenant", "acme"),
		)
		require.NoError(t, err)

		assert.True(t, d.DueTime().IsZero())
		assert.Equal(t, epoch, d.OriginalDueTime())
		assert.Equal(t, "abc", d.IdempotencyToken())
		assert.Equal(t, 2, d.PreviousAttempts())
		assert.Equal(t, chargeCard{Amount: 7}, d.Command())

		v, ok := d.Property("tenant")
		require.True(t, ok)
		assert.Equal(t, "acme", v)

		props := d.Properties()
		props["tenant"] = "other"
		v, _ = d.Property("tenant")
		assert.Equal(t, "acme", v)
	})
}

func TestRetry(t *testing.T) {
	t.Parallel()

	t.Run("unset due time retries from now", func(t *testing.T) {
		t.Parallel()
		ctx := clock.WithClock(context.Background(), clock.NewVirtual(epoch))
		d, err := command.NewDelivery(ctx, chargeCard{})
		require.NoError(t, err)

		boom := errors.New("boom")
		res := d.Retry(ctx, time.Minute, boom)

		assert.Equal(t, command.ResultRetry, res.Kind())
		assert.Equal(t, time.Minute, res.Period())
		assert.ErrorIs(t, res.Err(), boom)
		assert.Same(t, d, res.Delivery())
		assert.Equal(t, epoch.Add(time.Minute), d.DueTime())
		assert.Equal(t, 1, d.PreviousAttempts())
	})

	t.Run("due time accumulates while original is fixed", func(t *testing.T) {
		t.Parallel()
		vc := clock.NewVirtual(epoch)
		ctx := clock.WithClock(context.Background(), vc)
		due := epoch.Add(time.Hour)
		d, err := command.NewDelivery(ctx, chargeCard{}, command.WithDueTime(due))
		require.NoError(t, err)

		for range 3 {
			command.Retry(ctx, d, 10*time.Minute, nil)
		}
		require.NoError(t, vc.AdvanceBy(2*time.Hour))
		command.Retry(ctx, d, 10*time.Minute, nil)

		assert.Equal(t, due.Add(40*time.Minute), d.DueTime())
		assert.Equal(t, due, d.OriginalDueTime())
		assert.Equal(t, 4, d.PreviousAttempts())
	})

	t.Run("pause does not mutate", func(t *testing.T) {
		t.Parallel()
		d, err := command.NewDelivery(context.Background(), chargeCard{})
		require.NoError(t, err)

		res := d.PauseAllDeliveriesFor(5 * time.Second)
		assert.Equal(t, command.ResultPause, res.Kind())
		assert.Equal(t, 5*time.Second, res.Period())
		assert.Zero(t, d.PreviousAttempts())
		assert.True(t, d.DueTime().IsZero())
		assert.False(t, res.IsTerminal())
	})

	t.Run("terminal results", func(t *testing.T) {
		t.Parallel()
		d, err := command.NewDelivery(context.Background(), chargeCard{})
		require.NoError(t, err)

		assert.True(t, d.Complete().IsTerminal())
		res := d.Cancel("card expired", nil)
		assert.True(t, res.IsTerminal())
		assert.Equal(t, "card expired", res.Reason())
		assert.Equal(t, "cancel", res.Kind().String())
		assert.True(t, command.Result[chargeCard]{}.IsZero())
	})
}

func TestDefaultRetryPolicy(t *testing.T) {
	t.Parallel()

	want := []time.Duration{1, 4, 9, 16, 25}
	for attempts, minutes := range want {
		d, ok := command.DefaultRetryPolicy(attempts)
		assert.True(t, ok)
		assert.Equal(t, minutes*time.Minute, d, "attempts=%d", attempts)
	}

	_, ok := command.DefaultRetryPolicy(1000)
	assert.True(t, ok)
}

func TestMaxAttempts(t *testing.T) {
	t.Parallel()

	p := command.MaxAttempts(2, command.ConstantRetryPolicy(time.Second))

	d, ok := p(0)
	assert.True(t, ok)
	assert.Equal(t, time.Second, d)
	_, ok = p(1)
	assert.True(t, ok)
	_, ok = p(2)
	assert.False(t, ok)

	d, ok = command.MaxAttempts(1, nil)(0)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, d)
}
