package kafka_test

import (
	"context"
	"sync"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type sendEmail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

// topic is an in-memory partition: writes are appended and fetched in order.
type topic struct {
	msgs chan kgo.Message

	mu        sync.Mutex
	offset    int64
	written   []kgo.Message
	committed []kgo.Message
	writeErr  error
}

func newTopic() *topic {
	return &topic{msgs: make(chan kgo.Message, 16)}
}

func (t *topic) WriteMessages(ctx context.Context, msgs ...kgo.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.writeErr != nil {
		return t.writeErr
	}
	for _, m := range msgs {
		m.Offset = t.offset
		t.offset++
		if m.Time.IsZero() {
			m.Time = epoch
		}
		t.written = append(t.written, m)
		t.msgs <- m
	}
	return nil
}

func (t *topic) FetchMessage(ctx context.Context) (kgo.Message, error) {
	select {
	case m := <-t.msgs:
		return m, nil
	case <-ctx.Done():
		return kgo.Message{}, ctx.Err()
	}
}

func (t *topic) CommitMessages(_ context.Context, msgs ...kgo.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.committed = append(t.committed, msgs...)
	return nil
}

func (t *topic) Written() []kgo.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]kgo.Message(nil), t.written...)
}

func (t *topic) Committed() []kgo.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]kgo.Message(nil), t.committed...)
}
