package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	kgo "github.com/segmentio/kafka-go"

	"github.com/dmitrymomot/courier/core/command"
)

// Message headers written by Encode and read by Decode.
const (
	HeaderContentType          = "content-type"
	HeaderMessageID            = "message-id"
	HeaderCommandType          = "command-type"
	HeaderScheduledEnqueueTime = "scheduled-enqueue-time"
	HeaderDeliveryCount        = "delivery-count"

	ContentTypeJSON = "application/json"
)

// Encode maps d to a message: the JSON encoded command as value, the
// idempotency token as key and message id, the due time as scheduled enqueue
// time and previous attempts + 1 as delivery count.
func Encode[T any](d *command.Delivery[T]) (kgo.Message, error) {
	if d == nil {
		return kgo.Message{}, command.ErrNilDelivery
	}

	body, err := json.Marshal(d.Command())
	if err != nil {
		return kgo.Message{}, fmt.Errorf("encode %s: %w", command.TypeName[T](), err)
	}

	token := d.IdempotencyToken()
	headers := []kgo.Header{
		{Key: HeaderContentType, Value: []byte(ContentTypeJSON)},
		{Key: HeaderMessageID, Value: []byte(token)},
		{Key: HeaderCommandType, Value: []byte(command.SettingsFor[T]().Name)},
		{Key: HeaderDeliveryCount, Value: []byte(strconv.Itoa(d.PreviousAttempts() + 1))},
	}
	if due := d.DueTime(); !due.IsZero() {
		headers = append(headers, kgo.Header{
			Key:   HeaderScheduledEnqueueTime,
			Value: []byte(due.UTC().Format(time.RFC3339Nano)),
		})
	}

	return kgo.Message{
		Key:     []byte(token),
		Value:   body,
		Headers: headers,
	}, nil
}

// Decode rebuilds a delivery from m. Its due time and original due time are
// the enqueue time: the scheduled enqueue time when set, otherwise the broker
// timestamp. Previous attempts are the delivery count minus one. The clock in
// ctx is used when m carries no time at all.
func Decode[T any](ctx context.Context, m kgo.Message) (*command.Delivery[T], error) {
	if ct, ok := header(m, HeaderContentType); ok && ct != ContentTypeJSON {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, ct)
	}

	id, _ := header(m, HeaderMessageID)
	if id == "" {
		return nil, ErrMissingMessageID
	}

	var cmd T
	if err := json.Unmarshal(m.Value, &cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", command.TypeName[T](), err)
	}

	enqueued := m.Time
	if v, ok := header(m, HeaderScheduledEnqueueTime); ok {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidHeader, HeaderScheduledEnqueueTime, err)
		}
		enqueued = t
	}

	attempts := 0
	if v, ok := header(m, HeaderDeliveryCount); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: %s: %q", ErrInvalidHeader, HeaderDeliveryCount, v)
		}
		attempts = n - 1
	}

	opts := []command.DeliveryOption{
		command.WithIdempotencyToken(id),
		command.WithPreviousAttempts(attempts),
	}
	if !enqueued.IsZero() {
		opts = append(opts, command.WithDueTime(enqueued), command.WithOriginalDueTime(enqueued))
	}
	return command.NewDelivery(ctx, cmd, opts...)
}

// header returns the last value of key.
func header(m kgo.Message, key string) (string, bool) {
	for i := len(m.Headers) - 1; i >= 0; i-- {
		if m.Headers[i].Key == key {
			return string(m.Headers[i].Value), true
		}
	}
	return "", false
}
