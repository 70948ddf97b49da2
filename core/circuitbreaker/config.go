package circuitbreaker

import "time"

// Config holds circuit breaker middleware settings, loadable from the
// environment with the config package.
type Config struct {
	// FallbackPollInterval is the retry period for deliveries held back by a
	// breaker that has expired but not yet moved to half-open.
	FallbackPollInterval time.Duration `env:"CIRCUIT_BREAKER_FALLBACK_POLL_INTERVAL" envDefault:"1s"`
	// KeyPrefix is prepended to command type names to form breaker keys.
	KeyPrefix string `env:"CIRCUIT_BREAKER_KEY_PREFIX" envDefault:""`
}

// DefaultConfig returns the default middleware configuration.
func DefaultConfig() Config {
	return Config{
		FallbackPollInterval: DefaultFallbackPollInterval,
	}
}
