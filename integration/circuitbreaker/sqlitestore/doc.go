// Package sqlitestore stores circuit breaker states in a SQLite file using
// the pure Go modernc.org/sqlite driver.
//
//	store, err := sqlitestore.Open(ctx, "/var/lib/app/breakers.db")
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//	broker := circuitbreaker.NewStoreBroker(store)
//
// Open applies the embedded goose migrations. The database runs in WAL mode
// with immediate transactions, so processes on the same host share breaker
// states safely. Writes are retried on lock contention.
package sqlitestore
