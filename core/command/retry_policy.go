package command

import "time"

// RetryPolicy returns the delay before the next attempt given the number of
// previous attempts, or false when no further attempt should be made.
type RetryPolicy func(previousAttempts int) (time.Duration, bool)

// DefaultRetryPolicy waits (previousAttempts+1)^2 minutes and never gives up.
func DefaultRetryPolicy(previousAttempts int) (time.Duration, bool) {
	n := time.Duration(previousAttempts + 1)
	return n * n * time.Minute, true
}

// MaxAttempts wraps policy so that it gives up once previousAttempts reaches
// attempts. A nil policy means DefaultRetryPolicy.
func MaxAttempts(attempts int, policy RetryPolicy) RetryPolicy {
	if policy == nil {
		policy = DefaultRetryPolicy
	}
	return func(previousAttempts int) (time.Duration, bool) {
		if previousAttempts >= attempts {
			return 0, false
		}
		return policy(previousAttempts)
	}
}

// ConstantRetryPolicy always waits d.
func ConstantRetryPolicy(d time.Duration) RetryPolicy {
	return func(int) (time.Duration, bool) { return d, true }
}
