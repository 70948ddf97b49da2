package pg

import "time"

// Config holds PostgreSQL pool and migration settings loaded from the environment.
type Config struct {
	ConnectionString  string        `env:"PG_CONN_URL,required"`
	MaxOpenConns      int32         `env:"PG_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns      int32         `env:"PG_MAX_IDLE_CONNS" envDefault:"5"`
	HealthCheckPeriod time.Duration `env:"PG_HEALTHCHECK_PERIOD" envDefault:"1m"`
	MaxConnIdleTime   time.Duration `env:"PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	MaxConnLifetime   time.Duration `env:"PG_MAX_CONN_LIFETIME" envDefault:"30m"`
	RetryAttempts     int           `env:"PG_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval     time.Duration `env:"PG_RETRY_INTERVAL" envDefault:"5s"`
	MigrationsPath    string        `env:"PG_MIGRATIONS_PATH"`
	MigrationsTable   string        `env:"PG_MIGRATIONS_TABLE" envDefault:"schema_migrations"`
}

// DefaultConfig returns the pool defaults with an empty connection string.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:      10,
		MaxIdleConns:      5,
		HealthCheckPeriod: time.Minute,
		MaxConnIdleTime:   10 * time.Minute,
		MaxConnLifetime:   30 * time.Minute,
		RetryAttempts:     3,
		RetryInterval:     5 * time.Second,
		MigrationsTable:   "schema_migrations",
	}
}
