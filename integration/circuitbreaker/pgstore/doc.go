// Package pgstore stores circuit breaker states in PostgreSQL.
//
// The schema ships as embedded goose migrations:
//
//	if err := pgstore.Migrate(ctx, pool, log); err != nil {
//		return err
//	}
//	store, err := pgstore.New(pool, pgstore.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//	broker := circuitbreaker.NewStoreBroker(store, circuitbreaker.WithLogger(log))
//
// Compare-and-swap is a single conditional INSERT or UPDATE. Every successful
// write calls pg_notify on NotifyChannel with the breaker key, and one LISTEN
// connection per Store turns those into EventChanged notifications.
package pgstore
