package command

import "errors"

var (
	// ErrEmptyIdempotencyToken is returned when a delivery or delivery context is
	// created with an empty idempotency token.
	ErrEmptyIdempotencyToken = errors.New("idempotency token cannot be empty")

	// ErrNilDelivery is returned when a nil delivery is scheduled.
	ErrNilDelivery = errors.New("delivery cannot be nil")

	// ErrNilHandler is returned when subscribing or receiving with a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrInvalidResult is reported when a handler returns a zero Result or one
	// that belongs to another delivery.
	ErrInvalidResult = errors.New("handler returned an invalid result")

	// ErrDisposed is returned by every bus operation after Close.
	ErrDisposed = errors.New("command bus is disposed")

	// ErrHandlerPanicked wraps panics recovered from handlers.
	ErrHandlerPanicked = errors.New("handler panicked")
)
