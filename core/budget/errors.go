package budget

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrBudgetExceeded is the sentinel wrapped by ExceededError.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrInvalidDuration is returned when a time budget is created with a
	// non-positive duration.
	ErrInvalidDuration = errors.New("budget duration must be greater than zero")

	// ErrDisposed is returned when work is posted to a closed executor.
	ErrDisposed = errors.New("executor is disposed")
)

// ExceededError reports that a budget ran out, with a trace of every
// checkpoint recorded against it.
type ExceededError struct {
	Entries []Entry
	// Total is the budget duration, or zero for budgets without a deadline.
	Total time.Duration
}

func (e *ExceededError) Error() string {
	return ErrBudgetExceeded.Error() + ":\n" + e.Trace()
}

func (e *ExceededError) Unwrap() error {
	return ErrBudgetExceeded
}

// Trace renders one line per entry, ordered by elapsed time.
func (e *ExceededError) Trace() string {
	var b strings.Builder
	for i, entry := range e.Entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(entry.format(e.Total))
	}
	return b.String()
}

func (e Entry) format(total time.Duration) string {
	mark := "✔"
	if e.WasAlreadyExceeded {
		mark = "❌"
	}

	line := fmt.Sprintf("%s %s: %.2fs", mark, e.Name, e.Elapsed.Seconds())
	if e.WasAlreadyExceeded && total > 0 {
		line += fmt.Sprintf(" (exceeded by %.2fs)", (e.Elapsed - total).Seconds())
	}
	return line
}
