package sqlitestore_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/courier/core/circuitbreaker"
	"github.com/dmitrymomot/courier/core/clock"
	"github.com/dmitrymomot/courier/integration/circuitbreaker/sqlitestore"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T, opts ...sqlitestore.Option) (*sqlitestore.Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "breakers.db")
	store, err := sqlitestore.Open(context.Background(), path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func open(ttl time.Duration) circuitbreaker.Descriptor {
	return circuitbreaker.Descriptor{State: circuitbreaker.StateOpen, Timestamp: epoch, TTL: ttl}
}

func TestOpen_EmptyPath(t *testing.T) {
	t.Parallel()

	_, err := sqlitestore.Open(context.Background(), "")
	assert.ErrorIs(t, err, sqlitestore.ErrEmptyPath)
}

func TestOpen_Reopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, path := setup(t)

	next := open(time.Hour)
	_, err := store.TrySetState(ctx, "svc", "", next, 0)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := sqlitestore.Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	d, err := reopened.GetLastState(ctx, "svc")
	require.NoError(t, err)
	assert.True(t, next.Equal(d), "states survive a restart")
}

func TestStore_CompareAndSwap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	vc := clock.NewVirtual(epoch)
	store, _ := setup(t, sqlitestore.WithClock(vc))

	d, err := store.GetLastState(ctx, "svc")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	next := open(5 * time.Second)
	actual, err := store.TrySetState(ctx, "svc", "", next, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, next.Serialize(), actual)

	half := circuitbreaker.Descriptor{State: circuitbreaker.StateHalfOpen, Timestamp: epoch}
	actual, err = store.TrySetState(ctx, "svc", "", half, 0)
	require.NoError(t, err)
	assert.Equal(t, next.Serialize(), actual, "stale expectation loses")

	actual, err = store.TrySetState(ctx, "svc", next.Serialize(), half, 0)
	require.NoError(t, err)
	assert.Equal(t, half.Serialize(), actual)

	actual, err = store.TrySetState(ctx, "svc", half.Serialize(), circuitbreaker.Descriptor{}, 0)
	require.NoError(t, err)
	assert.Empty(t, actual)

	d, err = store.GetLastState(ctx, "svc")
	require.NoError(t, err)
	assert.True(t, d.IsZero())
}

func TestStore_Expiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	vc := clock.NewVirtual(epoch)
	store, _ := setup(t, sqlitestore.WithClock(vc))

	next := open(5 * time.Second)
	_, err := store.TrySetState(ctx, "svc", "", next, 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, vc.AdvanceBy(4*time.Second))
	d, err := store.GetLastState(ctx, "svc")
	require.NoError(t, err)
	assert.True(t, next.Equal(d))

	require.NoError(t, vc.AdvanceBy(time.Second))
	d, err = store.GetLastState(ctx, "svc")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	actual, err := store.TrySetState(ctx, "svc", "", next, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, next.Serialize(), actual, "an expired row can be claimed")
}

func TestStore_Watch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	vc := clock.NewVirtual(epoch)
	store, _ := setup(t,
		sqlitestore.WithClock(vc),
		sqlitestore.WithPollInterval(5*time.Millisecond),
	)

	var (
		mu     sync.Mutex
		events []circuitbreaker.EventKind
	)
	unwatch, err := store.Watch(ctx, "svc", func(e circuitbreaker.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e.Kind)
	})
	require.NoError(t, err)
	seen := func() []circuitbreaker.EventKind {
		mu.Lock()
		defer mu.Unlock()
		return append([]circuitbreaker.EventKind(nil), events...)
	}

	_, err = store.TrySetState(ctx, "svc", "", open(time.Second), time.Second)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(seen()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, vc.AdvanceBy(time.Second))
	require.Eventually(t, func() bool { return len(seen()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []circuitbreaker.EventKind{circuitbreaker.EventChanged, circuitbreaker.EventExpired}, seen())

	unwatch()
	_, err = store.TrySetState(ctx, "svc", "", open(time.Minute), time.Minute)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, seen(), 2)
}

func TestStore_WithStoreBroker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	vc := clock.NewVirtual(epoch)
	store, _ := setup(t, sqlitestore.WithClock(vc))

	broker := circuitbreaker.NewStoreBroker(store, circuitbreaker.WithClock(vc))
	t.Cleanup(func() { _ = broker.Close() })
	require.NoError(t, broker.InitializeFor(ctx, "svc"))

	var states []circuitbreaker.State
	var mu sync.Mutex
	unsubscribe, err := broker.Subscribe(ctx, "svc", func(d circuitbreaker.Descriptor) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, d.State)
	})
	require.NoError(t, err)
	defer unsubscribe()

	_, err = broker.SignalFailure(ctx, "svc", 2*time.Second)
	require.NoError(t, err)

	require.NoError(t, vc.AdvanceBy(2*time.Second))

	d, err := broker.SignalSuccess(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, d.State)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []circuitbreaker.State{
		circuitbreaker.StateOpen,
		circuitbreaker.StateHalfOpen,
		circuitbreaker.StateClosed,
	}, states)
}

func TestStore_ClosedRejectsWatch(t *testing.T) {
	t.Parallel()

	store, _ := setup(t)
	require.NoError(t, store.Close())

	_, err := store.Watch(context.Background(), "svc", func(circuitbreaker.Event) {})
	assert.Error(t, err)
}
