package circuitbreaker

import (
	"context"
	"time"
)

// EventKind tells what happened to a stored breaker state.
type EventKind uint8

const (
	// EventExpired is emitted when an Open state's time to live ran out in the
	// store.
	EventExpired EventKind = iota + 1
	// EventChanged is emitted when the stored state was replaced.
	EventChanged
)

func (k EventKind) String() string {
	switch k {
	case EventExpired:
		return "expired"
	case EventChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// Event is a store notification for one key.
type Event struct {
	Key  string
	Kind EventKind
}

// Store persists breaker states so that several processes can share them.
type Store interface {
	// GetLastState returns the stored state of key, or the zero Descriptor
	// when nothing is stored.
	GetLastState(ctx context.Context, key string) (Descriptor, error)

	// TrySetState atomically replaces the state of key with next if the stored
	// serialized state equals expected, where the empty string means nothing
	// is stored. A positive ttl makes the stored state expire. It returns the
	// serialized state held after the call: next.Serialize() on success, the
	// current state otherwise.
	TrySetState(ctx context.Context, key, expected string, next Descriptor, ttl time.Duration) (string, error)

	// Watch calls fn for every notification about key until the returned
	// function is called. Stores without expiry notifications may never emit
	// EventExpired; brokers cover that with a clock fallback.
	Watch(ctx context.Context, key string, fn func(Event)) (func(), error)
}
