package circuitbreaker

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the admission state of a circuit breaker.
type State uint8

const (
	// StateClosed lets deliveries through. It is the initial state.
	StateClosed State = iota
	// StateOpen holds deliveries back until its time to live expires.
	StateOpen
	// StateHalfOpen lets deliveries through on probation.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

func parseState(s string) (State, error) {
	switch s {
	case "closed":
		return StateClosed, nil
	case "open":
		return StateOpen, nil
	case "half_open":
		return StateHalfOpen, nil
	default:
		return 0, fmt.Errorf("%w: unknown state %q", ErrInvalidDescriptor, s)
	}
}

// Descriptor is a breaker state with the instant it was entered and, for
// StateOpen, its time to live. The zero value is the initial Closed state.
type Descriptor struct {
	State     State
	Timestamp time.Time
	TTL       time.Duration
}

// IsZero reports whether d is the initial state.
func (d Descriptor) IsZero() bool {
	return d.State == StateClosed && d.Timestamp.IsZero() && d.TTL == 0
}

// Equal compares state, time to live and timestamp.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.State == o.State && d.TTL == o.TTL && d.Timestamp.Equal(o.Timestamp)
}

// ExpiresAt returns when an Open state expires.
func (d Descriptor) ExpiresAt() (time.Time, bool) {
	if d.State != StateOpen || d.TTL <= 0 {
		return time.Time{}, false
	}
	return d.Timestamp.Add(d.TTL), true
}

// Expired reports whether an Open state has outlived its time to live at now.
func (d Descriptor) Expired(now time.Time) bool {
	at, ok := d.ExpiresAt()
	return ok && !now.Before(at)
}

type wireDescriptor struct {
	State     string `json:"state"`
	Timestamp int64  `json:"ts"`
	TTL       int64  `json:"ttl,omitempty"`
}

// Serialize returns the canonical form used for compare-and-swap. The
// initial state serializes to an empty string.
func (d Descriptor) Serialize() string {
	if d.IsZero() {
		return ""
	}
	var ts int64
	if !d.Timestamp.IsZero() {
		ts = d.Timestamp.UnixNano()
	}
	b, _ := json.Marshal(wireDescriptor{
		State:     d.State.String(),
		Timestamp: ts,
		TTL:       int64(d.TTL),
	})
	return string(b)
}

// ParseDescriptor is the inverse of Serialize.
func ParseDescriptor(s string) (Descriptor, error) {
	if s == "" {
		return Descriptor{}, nil
	}

	var w wireDescriptor
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	state, err := parseState(w.State)
	if err != nil {
		return Descriptor{}, err
	}

	d := Descriptor{State: state, TTL: time.Duration(w.TTL)}
	if w.Timestamp != 0 {
		d.Timestamp = time.Unix(0, w.Timestamp).UTC()
	}
	return d, nil
}

// Signal is an input to the state machine.
type Signal uint8

const (
	// SignalFailure opens the breaker.
	SignalFailure Signal = iota + 1
	// SignalSuccess moves an open breaker to half-open and a half-open one to
	// closed.
	SignalSuccess
	// SignalExpired reports that an open breaker outlived its time to live.
	SignalExpired
)

func (s Signal) String() string {
	switch s {
	case SignalFailure:
		return "failure"
	case SignalSuccess:
		return "success"
	case SignalExpired:
		return "expired"
	default:
		return fmt.Sprintf("signal(%d)", uint8(s))
	}
}

// Transition applies sig to cur at now. ttl is used when the result is Open.
// The boolean is false when sig does not change the state.
//
//	Closed   + failure          => Open
//	Open     + failure          => Open (ttl refreshed)
//	Open     + success | expired => HalfOpen
//	HalfOpen + success          => Closed
//	HalfOpen + failure          => Open
func Transition(cur Descriptor, sig Signal, ttl time.Duration, now time.Time) (Descriptor, bool) {
	switch {
	case sig == SignalFailure:
		return Descriptor{State: StateOpen, Timestamp: now, TTL: ttl}, true
	case cur.State == StateOpen && (sig == SignalSuccess || sig == SignalExpired):
		return Descriptor{State: StateHalfOpen, Timestamp: now}, true
	case cur.State == StateHalfOpen && sig == SignalSuccess:
		return Descriptor{State: StateClosed, Timestamp: now}, true
	default:
		return cur, false
	}
}
