package circuitbreaker

import "errors"

var (
	// ErrInvalidTTL is returned when a failure is signalled with a
	// non-positive time to live.
	ErrInvalidTTL = errors.New("circuit breaker ttl must be greater than zero")

	// ErrEmptyKey is returned when a breaker key is empty.
	ErrEmptyKey = errors.New("circuit breaker key cannot be empty")

	// ErrInvalidDescriptor is returned when a serialized state cannot be parsed.
	ErrInvalidDescriptor = errors.New("invalid circuit breaker state")

	// ErrOpen is attached to deliveries held back while the breaker is open.
	ErrOpen = errors.New("circuit breaker is open")

	// ErrBrokerClosed is returned by broker operations after Close.
	ErrBrokerClosed = errors.New("circuit breaker broker is closed")

	// ErrGateClosed is returned for deliveries reaching a closed Gate.
	ErrGateClosed = errors.New("circuit breaker gate is closed")
)
