package worker

import (
	"github.com/dmitrymomot/courier/core/circuitbreaker"
	"github.com/dmitrymomot/courier/core/command"
)

type Config struct {
	Command        command.Config
	CircuitBreaker circuitbreaker.Config

	AppName  string `env:"APP_NAME" envDefault:"courier"`
	Env      string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// DefaultConfig mirrors the environment defaults.
func DefaultConfig() Config {
	return Config{
		Command:        command.DefaultConfig(),
		CircuitBreaker: circuitbreaker.DefaultConfig(),
		AppName:        "courier",
		Env:            "development",
		LogLevel:       "info",
	}
}
