package sqlitestore

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"
)

// retryConfig controls retries of writes that hit transient SQLite errors.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
}

// isTransient reports lock contention that busy_timeout did not absorb.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// retryOnContention runs fn with exponential backoff and jitter while it
// fails with a transient error.
func retryOnContention(ctx context.Context, fn func() error) error {
	cfg := defaultRetryConfig

	var err error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if err = fn(); !isTransient(err) {
			return err
		}
		if attempt == cfg.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoffDelay(cfg, attempt)):
		}
	}
	return err
}

// backoffDelay is baseDelay * 2^attempt capped at maxDelay, plus up to
// baseDelay of jitter.
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := min(cfg.baseDelay<<uint(attempt), cfg.maxDelay)
	return delay + rand.N(cfg.baseDelay)
}
