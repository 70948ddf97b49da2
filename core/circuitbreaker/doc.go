// Package circuitbreaker provides per command type admission control for
// command delivery.
//
// A breaker is Closed initially. A handler that returns
// Delivery.PauseAllDeliveriesFor(d) opens it for d; while Open no delivery of
// that command type reaches a handler. When the time to live runs out the
// breaker becomes HalfOpen and the next successful delivery closes it, while a
// failure opens it again.
//
// Transitions use compare-and-swap on the serialized state: a transition is
// applied only if the state is still the one the caller read, otherwise the
// state another caller wrote is adopted. MemoryBroker keeps states in process;
// StoreBroker shares them through a Store (see integration/circuitbreaker for
// Redis, PostgreSQL and SQLite stores).
//
// Usage with the in-memory bus:
//
//	vc := clock.NewVirtual(time.Now())
//	bus := command.NewMemoryBus[SyncAccount](command.WithClock(vc))
//	broker := circuitbreaker.NewMemoryBroker(circuitbreaker.WithClock(vc))
//
//	receiver := command.UseReceiverMiddleware[SyncAccount](bus,
//	    circuitbreaker.Middleware[SyncAccount](broker),
//	)
//	unsubscribe, err := receiver.Subscribe(ctx, handler)
package circuitbreaker
