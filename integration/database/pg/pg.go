package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx pool and waits until the database answers a ping,
// retrying with exponential backoff.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.ConnectionString == "" {
		return nil, ErrEmptyConnectionString
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseDBConfig, err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = min(cfg.MaxIdleConns, poolCfg.MaxConns)
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Join(ErrFailedToOpenDBConnection, err)
	}

	attempts := max(cfg.RetryAttempts, 1)
	interval := cfg.RetryInterval

	for i := range attempts {
		if err = pool.Ping(ctx); err == nil {
			return pool, nil
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			pool.Close()
			return nil, errors.Join(ErrFailedToOpenDBConnection, ctx.Err())
		case <-time.After(interval):
		}
		interval *= 2
	}

	pool.Close()
	return nil, errors.Join(ErrFailedToOpenDBConnection, err)
}

// Healthcheck returns a function that pings the pool.
func Healthcheck(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		if pool == nil {
			return ErrHealthcheckFailed
		}
		if err := pool.Ping(ctx); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
