// Package pg provides PostgreSQL connection management with migrations and health checking.
//
// It wraps pgxpool with retry logic on connect and runs goose migrations
// either from a directory (Migrate) or from an fs.FS (MigrateFS). The
// PostgreSQL circuit breaker store uses MigrateFS with its embedded schema.
//
// # Configuration
//
//	type Config struct {
//		ConnectionString  string        `env:"PG_CONN_URL,required"`
//		MaxOpenConns      int32         `env:"PG_MAX_OPEN_CONNS" envDefault:"10"`
//		MaxIdleConns      int32         `env:"PG_MAX_IDLE_CONNS" envDefault:"5"`
//		HealthCheckPeriod time.Duration `env:"PG_HEALTHCHECK_PERIOD" envDefault:"1m"`
//		MaxConnIdleTime   time.Duration `env:"PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`
//		MaxConnLifetime   time.Duration `env:"PG_MAX_CONN_LIFETIME" envDefault:"30m"`
//		RetryAttempts     int           `env:"PG_RETRY_ATTEMPTS" envDefault:"3"`
//		RetryInterval     time.Duration `env:"PG_RETRY_INTERVAL" envDefault:"5s"`
//		MigrationsPath    string        `env:"PG_MIGRATIONS_PATH"`
//		MigrationsTable   string        `env:"PG_MIGRATIONS_TABLE" envDefault:"schema_migrations"`
//	}
//
// # Usage
//
//	cfg := pg.DefaultConfig()
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
//		return err
//	}
//
// # Transactions
//
// WithTx stores a pgx.Tx in the context so that storage code can join the
// caller's transaction:
//
//	tx, _ := pool.Begin(ctx)
//	ctx = pg.WithTx(ctx, tx)
//	if tx, ok := pg.TxFromContext(ctx); ok {
//		// run queries on tx
//	}
//
// # Errors
//
// All errors wrap package sentinels. IsNotFoundError, IsDuplicateKeyError,
// IsForeignKeyViolationError and IsTxClosedError classify driver errors.
package pg
