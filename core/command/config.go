package command

import "time"

// Config holds settings for the in-memory command bus, loadable from the
// environment with the config package.
type Config struct {
	// ReceiveTimeout applies to Receive calls for command types registered
	// without a receive timeout.
	ReceiveTimeout time.Duration `env:"COMMAND_RECEIVE_TIMEOUT" envDefault:"1m"`
	// PollInterval is how long a delivery waits before it is published again
	// when no subscriber is attached.
	PollInterval time.Duration `env:"COMMAND_BUS_POLL_INTERVAL" envDefault:"1s"`
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{
		ReceiveTimeout: DefaultReceiveTimeout,
		PollInterval:   DefaultPollInterval,
	}
}

// NewMemoryBusFromConfig creates a MemoryBus from cfg. Options are applied
// after the configuration.
func NewMemoryBusFromConfig[T any](cfg Config, opts ...BusOption) *MemoryBus[T] {
	opts = append([]BusOption{
		WithDefaultReceiveTimeout(cfg.ReceiveTimeout),
		WithPollInterval(cfg.PollInterval),
	}, opts...)
	return NewMemoryBus[T](opts...)
}
