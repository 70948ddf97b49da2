package kafka

import (
	"context"
	"log/slog"
	"time"

	kgo "github.com/segmentio/kafka-go"

	"github.com/dmitrymomot/courier/core/clock"
	"github.com/dmitrymomot/courier/core/logger"
)

const (
	// DefaultWriteTimeout bounds a single produce call.
	DefaultWriteTimeout = 3 * time.Second
	// DefaultCommitTimeout bounds a single offset commit.
	DefaultCommitTimeout = 3 * time.Second
)

// MessageWriter produces messages. *kafka.Writer implements it.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
}

// MessageReader consumes messages with manual commits. *kafka.Reader
// implements it.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kgo.Message, error)
	CommitMessages(ctx context.Context, msgs ...kgo.Message) error
}

type options struct {
	clock         clock.Clock
	logger        *slog.Logger
	writeTimeout  time.Duration
	commitTimeout time.Duration
	redelivery    MessageWriter
	errorHandler  func(ctx context.Context, token string, err error)
}

// Option configures Scheduler and Receiver.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		clock:         clock.Real{},
		logger:        logger.Discard(),
		writeTimeout:  DefaultWriteTimeout,
		commitTimeout: DefaultCommitTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the clock used to wait for scheduled enqueue times and as
// the clock of handler contexts.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithWriteTimeout bounds each produce call.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithCommitTimeout bounds each offset commit.
func WithCommitTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.commitTimeout = d
		}
	}
}

// WithRedelivery makes the receiver re-produce retried and paused deliveries
// through w and commit the original message. Without it such messages are
// left uncommitted and pin their partition offset.
func WithRedelivery(w MessageWriter) Option {
	return func(o *options) {
		o.redelivery = w
	}
}

// WithErrorHandler is called with errors from subscribed handlers.
func WithErrorHandler(fn func(ctx context.Context, token string, err error)) Option {
	return func(o *options) {
		o.errorHandler = fn
	}
}
