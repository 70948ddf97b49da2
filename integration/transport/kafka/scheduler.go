package kafka

import (
	"context"
	"fmt"

	kgo "github.com/segmentio/kafka-go"

	"github.com/dmitrymomot/courier/core/command"
	"github.com/dmitrymomot/courier/core/logger"
)

// Scheduler produces deliveries of T to a topic. Kafka has no delayed
// delivery, so the due time travels in a header and the Receiver waits for it.
type Scheduler[T any] struct {
	writer MessageWriter
	opts   options
	owned  *kgo.Writer
}

// NewScheduler creates a Scheduler producing through w.
func NewScheduler[T any](w MessageWriter, opts ...Option) (*Scheduler[T], error) {
	if w == nil {
		return nil, ErrNilWriter
	}
	return &Scheduler[T]{writer: w, opts: newOptions(opts)}, nil
}

// NewSchedulerFromConfig creates a Scheduler with its own writer. Close
// releases the writer.
func NewSchedulerFromConfig[T any](cfg Config, opts ...Option) (*Scheduler[T], error) {
	w, err := NewWriter(cfg)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithWriteTimeout(cfg.WriteTimeout)}, opts...)

	s, err := NewScheduler[T](w, opts...)
	if err != nil {
		return nil, err
	}
	s.owned = w
	return s, nil
}

// Schedule implements command.Scheduler.
func (s *Scheduler[T]) Schedule(ctx context.Context, d *command.Delivery[T]) error {
	m, err := Encode(d)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, s.opts.writeTimeout)
	defer cancel()

	if err := s.writer.WriteMessages(wctx, m); err != nil {
		return fmt.Errorf("produce %s: %w", command.TypeName[T](), err)
	}

	s.opts.logger.DebugContext(ctx, "delivery produced",
		logger.Component("kafka"),
		logger.CommandType(command.SettingsFor[T]().Name),
		logger.IdempotencyToken(d.IdempotencyToken()),
		logger.DueTime(d.DueTime()),
	)
	return nil
}

// Close closes the writer created by NewSchedulerFromConfig.
func (s *Scheduler[T]) Close() error {
	if s.owned == nil {
		return nil
	}
	return s.owned.Close()
}
