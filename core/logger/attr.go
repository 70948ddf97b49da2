package logger

import (
	"log/slog"
	"runtime"
	"strconv"
	"time"
)

// Attribute helpers use the empty Attr pattern for nil safety.
// This allows calls like log.Info("msg", logger.Error(err)) without explicit nil checks.

// Group creates a group of attributes under a single key.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// ============================================================================
// Error Handling
// ============================================================================

// Errors groups multiple non-nil errors under the key "errors".
// Uses index-based keys to preserve error order. Returns empty Attr for all nil errors.
func Errors(errs ...error) slog.Attr {
	count := 0
	for _, err := range errs {
		if err != nil {
			count++
		}
	}
	if count == 0 {
		return slog.Attr{}
	}

	as := make([]slog.Attr, 0, count)
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// Returns empty Attr for nil errors.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// ============================================================================
// Timing
// ============================================================================

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Elapsed logs the duration between start and now.
// Pass the clock's now so virtual time is reported correctly.
func Elapsed(start, now time.Time) slog.Attr {
	return slog.Duration("elapsed", now.Sub(start))
}

// DueTime creates an attribute for a scheduled instant. Zero times are skipped.
func DueTime(t time.Time) slog.Attr {
	if t.IsZero() {
		return slog.Attr{}
	}
	return slog.Time("due_time", t)
}

// ============================================================================
// Delivery
// ============================================================================

// IdempotencyToken creates an attribute for a delivery's idempotency token.
func IdempotencyToken(token string) slog.Attr {
	if token == "" {
		return slog.Attr{}
	}
	return slog.String("idempotency_token", token)
}

// CommandType creates an attribute for a command type name.
func CommandType(name string) slog.Attr {
	return slog.String("command_type", name)
}

// ResultKind creates an attribute for a delivery result variant.
func ResultKind(kind string) slog.Attr {
	return slog.String("result", kind)
}

// Attempts creates an attribute for the number of previous delivery attempts.
func Attempts(n int) slog.Attr {
	return slog.Int("previous_attempts", n)
}

// State creates an attribute for a state machine state.
func State(s string) slog.Attr {
	return slog.String("state", s)
}

// ============================================================================
// Generic Metadata
// ============================================================================

// ID creates a generic identifier attribute with a custom key.
func ID(key string, value any) slog.Attr {
	if value == nil {
		return slog.Attr{}
	}
	return slog.Any(key, value)
}

// Component creates an attribute for component names.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event creates an attribute for event names.
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

// Action creates an attribute for action names.
func Action(action string) slog.Attr {
	return slog.String("action", action)
}

// Count creates a generic counter attribute.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}

// Key creates a generic key-value attribute.
func Key(key string, value any) slog.Attr {
	if value == nil {
		return slog.Attr{}
	}
	return slog.Any(key, value)
}

// RetryCount creates an attribute for retry attempts.
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// ============================================================================
// Debugging
// ============================================================================

// Stack captures and returns the current stack trace.
func Stack() slog.Attr {
	const size = 64 << 10
	buf := make([]byte, size)
	buf = buf[:runtime.Stack(buf, false)]
	return slog.String("stack", string(buf))
}

// Caller returns information about the calling function.
func Caller() slog.Attr {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		return slog.Attr{}
	}
	return slog.String("caller", file+":"+strconv.Itoa(line))
}
