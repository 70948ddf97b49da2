package command

import (
	"reflect"
	"sync"
	"time"
)

// DefaultReceiveTimeout is used by Receive when neither the call nor the
// command type settings specify a timeout.
const DefaultReceiveTimeout = time.Minute

// Settings are per command type delivery settings.
type Settings struct {
	// Name identifies the command type in tokens, logs, circuit breaker keys
	// and transport headers.
	Name string
	// ReceiveTimeout is the default Receive timeout. Zero means unset.
	ReceiveTimeout time.Duration
	// RetryPolicy is used by RetryOnError when no policy is given.
	RetryPolicy RetryPolicy
}

// SettingsOption configures Settings at registration.
type SettingsOption func(*Settings)

// WithReceiveTimeout sets the default Receive timeout of the command type.
func WithReceiveTimeout(d time.Duration) SettingsOption {
	return func(s *Settings) {
		if d > 0 {
			s.ReceiveTimeout = d
		}
	}
}

// WithRetryPolicy sets the retry policy of the command type.
func WithRetryPolicy(p RetryPolicy) SettingsOption {
	return func(s *Settings) {
		if p != nil {
			s.RetryPolicy = p
		}
	}
}

var (
	registry   = make(map[reflect.Type]Settings)
	registryMu sync.RWMutex
)

// Register records settings for command type T under name. An empty name keeps
// the name derived from the type. Registering again replaces the settings.
//
// Example:
//
//	command.Register[SendInvoice]("billing.send_invoice",
//	    command.WithReceiveTimeout(30*time.Second),
//	    command.WithRetryPolicy(command.MaxAttempts(5, nil)),
//	)
func Register[T any](name string, opts ...SettingsOption) {
	t := typeOf[T]()
	if name == "" {
		name = deriveName(t)
	}

	s := Settings{Name: name}
	for _, opt := range opts {
		opt(&s)
	}

	registryMu.Lock()
	registry[t] = s
	registryMu.Unlock()
}

// SettingsFor returns the settings registered for T. Unregistered types get a
// derived name and DefaultRetryPolicy.
func SettingsFor[T any]() Settings {
	t := typeOf[T]()

	registryMu.RLock()
	s, ok := registry[t]
	registryMu.RUnlock()

	if !ok {
		s = Settings{Name: deriveName(t)}
	}
	if s.RetryPolicy == nil {
		s.RetryPolicy = DefaultRetryPolicy
	}
	return s
}

// TypeName returns the registered name of T, or one derived from the type.
func TypeName[T any]() string {
	return SettingsFor[T]().Name
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// deriveName returns the type name, dereferencing pointers.
func deriveName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
