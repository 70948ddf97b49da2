// Package redis connects to Redis with retries and exposes a healthcheck.
//
// The client backs the Redis circuit breaker store in
// integration/circuitbreaker/redisstore.
//
//	cfg := redis.DefaultConfig()
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// Connect validates the URL (redis:// or rediss://), then pings with
// exponential backoff starting at RetryInterval. All errors wrap one of the
// package sentinels so callers can use errors.Is.
//
//	type Config struct {
//		ConnectionURL  string        `env:"REDIS_URL,required" envDefault:"redis://localhost:6379/0"`
//		RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
//		RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
//		ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
//	}
package redis
