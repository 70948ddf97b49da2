package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect creates a Redis client and blocks until it answers a ping,
// retrying with exponential backoff up to cfg.RetryAttempts times.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyConnectionURL
	}

	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	client := redis.NewClient(opts)

	attempts := max(cfg.RetryAttempts, 1)
	interval := cfg.RetryInterval

	for i := range attempts {
		if err = client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(interval):
		}
		interval *= 2
	}

	_ = client.Close()
	return nil, errors.Join(ErrRedisNotReady, err)
}

// Healthcheck returns a function that pings the client.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if client == nil {
			return ErrHealthcheckFailed
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
