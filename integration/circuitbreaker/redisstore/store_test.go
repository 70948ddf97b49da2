package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/core/circuitbreaker"
	"github.com/dmitrymomot/courier/core/clock"
	"github.com/dmitrymomot/courier/integration/circuitbreaker/redisstore"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T, opts ...redisstore.Option) (*redisstore.Store, *redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := redisstore.New(client, opts...)
	require.NoError(t, err)
	return store, client, mr
}

func open(ttl time.Duration) circuitbreaker.Descriptor {
	return circuitbreaker.Descriptor{State: circuitbreaker.StateOpen, Timestamp: epoch, TTL: ttl}
}

func TestNew_NilClient(t *testing.T) {
	t.Parallel()

	_, err := redisstore.New(nil)
	assert.ErrorIs(t, err, redisstore.ErrNilClient)
}

func TestStore_CompareAndSwap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, mr := setup(t)

	d, err := store.GetLastState(ctx, "svc")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	next := open(5 * time.Second)
	actual, err := store.TrySetState(ctx, "svc", "", next, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, next.Serialize(), actual)

	stored, err := mr.Get(redisstore.DefaultKeyPrefix + "svc")
	require.NoError(t, err)
	assert.Equal(t, next.Serialize(), stored)
	assert.Equal(t, 5*time.Second, mr.TTL(redisstore.DefaultKeyPrefix+"svc"))

	// A stale expectation loses and reports the stored state.
	half := circuitbreaker.Descriptor{State: circuitbreaker.StateHalfOpen, Timestamp: epoch}
	actual, err = store.TrySetState(ctx, "svc", "", half, 0)
	require.NoError(t, err)
	assert.Equal(t, next.Serialize(), actual)

	actual, err = store.TrySetState(ctx, "svc", next.Serialize(), half, 0)
	require.NoError(t, err)
	assert.Equal(t, half.Serialize(), actual)
	assert.Zero(t, mr.TTL(redisstore.DefaultKeyPrefix+"svc"), "non-open states do not expire")

	d, err = store.GetLastState(ctx, "svc")
	require.NoError(t, err)
	assert.True(t, half.Equal(d))
}

func TestStore_TTLExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, mr := setup(t)

	_, err := store.TrySetState(ctx, "svc", "", open(time.Second), time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	d, err := store.GetLastState(ctx, "svc")
	require.NoError(t, err)
	assert.True(t, d.IsZero())
}

func TestStore_KeyPrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, mr := setup(t, redisstore.WithKeyPrefix("app:cb:"))

	_, err := store.TrySetState(ctx, "svc", "", open(time.Second), time.Second)
	require.NoError(t, err)

	assert.True(t, mr.Exists("app:cb:svc"))
	assert.False(t, mr.Exists(redisstore.DefaultKeyPrefix+"svc"))
}

func TestStore_Watch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, client, _ := setup(t)

	events := make(chan circuitbreaker.Event, 4)
	unwatch, err := store.Watch(ctx, "svc", func(e circuitbreaker.Event) { events <- e })
	require.NoError(t, err)

	channel := "__keyspace@0__:" + redisstore.DefaultKeyPrefix + "svc"
	require.NoError(t, client.Publish(ctx, channel, "set").Err())
	require.NoError(t, client.Publish(ctx, channel, "expire").Err())
	require.NoError(t, client.Publish(ctx, channel, "expired").Err())

	assert.Equal(t, circuitbreaker.Event{Key: "svc", Kind: circuitbreaker.EventChanged}, receive(t, events))
	assert.Equal(t, circuitbreaker.Event{Key: "svc", Kind: circuitbreaker.EventExpired}, receive(t, events))

	unwatch()
	unwatch()

	require.NoError(t, client.Publish(ctx, channel, "set").Err())
	select {
	case e := <-events:
		t.Fatalf("unexpected event after unwatch: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStore_WithStoreBroker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _, _ := setup(t)
	vc := clock.NewVirtual(epoch)

	broker := circuitbreaker.NewStoreBroker(store, circuitbreaker.WithClock(vc))
	t.Cleanup(func() { _ = broker.Close() })
	require.NoError(t, broker.InitializeFor(ctx, "svc"))

	d, err := broker.SignalFailure(ctx, "svc", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateOpen, d.State)

	require.NoError(t, vc.AdvanceBy(3*time.Second))

	d, err = broker.GetLastState(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateHalfOpen, d.State)

	d, err = broker.SignalSuccess(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, d.State)
}

func receive(t *testing.T, events <-chan circuitbreaker.Event) circuitbreaker.Event {
	t.Helper()

	select {
	case e := <-events:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return circuitbreaker.Event{}
	}
}
