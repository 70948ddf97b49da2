package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	kgo "github.com/segmentio/kafka-go"

	"github.com/dmitrymomot/courier/core/clock"
	"github.com/dmitrymomot/courier/core/command"
	"github.com/dmitrymomot/courier/core/logger"
)

// fetchRetryDelay is the pause after a failed fetch in a subscription loop.
const fetchRetryDelay = time.Second

// Receiver consumes deliveries of T from a consumer group. A message is
// committed only when its handler completes or cancels it.
//
// Group offsets are per partition, so committing a message also acknowledges
// every earlier one in its partition. A retried or paused message that is not
// re-produced through WithRedelivery therefore pins its partition: later
// messages there are still handled but not committed until the pinned
// message is fetched again and settled, which happens after a restart or a
// rebalance resumes the group from it.
//
// A message whose scheduled enqueue time lies ahead is held until then on the
// receiver clock. The wait blocks the stream, so a redelivered message with a
// long retry period holds back every message fetched after it.
//
// A Receiver serves one subscriber or one Receive call at a time, since a
// reader is a single ordered stream.
type Receiver[T any] struct {
	reader MessageReader
	opts   options
	owned  []interface{ Close() error }

	mu     sync.Mutex
	busy   bool
	closed bool
	cancel context.CancelFunc
	done   chan struct{}

	heldMu sync.Mutex
	held   map[int]int64 // partition -> lowest unsettled offset
}

// NewReceiver creates a Receiver reading from r.
func NewReceiver[T any](r MessageReader, opts ...Option) (*Receiver[T], error) {
	if r == nil {
		return nil, ErrNilReader
	}
	return &Receiver[T]{reader: r, opts: newOptions(opts)}, nil
}

// NewReceiverFromConfig creates a Receiver with its own reader and, when
// cfg.Redeliver is set, its own redelivery writer. Close releases both.
func NewReceiverFromConfig[T any](cfg Config, opts ...Option) (*Receiver[T], error) {
	r, err := NewReader(cfg)
	if err != nil {
		return nil, err
	}
	owned := []interface{ Close() error }{r}

	base := []Option{WithCommitTimeout(cfg.CommitTimeout), WithWriteTimeout(cfg.WriteTimeout)}
	if cfg.Redeliver {
		w, err := NewWriter(cfg)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		owned = append(owned, w)
		base = append(base, WithRedelivery(w))
	}

	recv, err := NewReceiver[T](r, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	recv.owned = owned
	return recv, nil
}

// Subscribe implements command.Receiver. Messages are handled one by one on a
// background goroutine until the returned function is called.
func (r *Receiver[T]) Subscribe(_ context.Context, h command.Handler[T]) (func(), error) {
	if h == nil {
		return nil, command.ErrNilHandler
	}
	if err := r.acquire(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	r.mu.Lock()
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.loop(ctx, h, done)

	return sync.OnceFunc(func() {
		cancel()
		<-done
		r.release()
	}), nil
}

// Receive implements command.Receiver. It waits up to timeout for a message;
// once one is fetched it is handled even if its scheduled enqueue time lies
// beyond the timeout. Handler errors are returned and leave the message
// uncommitted.
func (r *Receiver[T]) Receive(ctx context.Context, h command.Handler[T], timeout time.Duration) (command.Result[T], bool, error) {
	var zero command.Result[T]
	if h == nil {
		return zero, false, command.ErrNilHandler
	}
	if err := r.acquire(); err != nil {
		return zero, false, err
	}
	defer r.release()

	if timeout <= 0 {
		timeout = command.SettingsFor[T]().ReceiveTimeout
	}
	if timeout <= 0 {
		timeout = command.DefaultReceiveTimeout
	}

	fctx, cancel := context.WithTimeout(ctx, timeout)
	m, err := r.reader.FetchMessage(fctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return zero, false, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("fetch %s: %w", command.TypeName[T](), err)
	}

	res, err := r.dispatch(ctx, h, m)
	return res, true, err
}

// Close stops a running subscription and closes readers and writers created
// from a Config.
func (r *Receiver[T]) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	var errs []error
	for _, c := range r.owned {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Receiver[T]) acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrReceiverClosed
	}
	if r.busy {
		return ErrAlreadySubscribed
	}
	r.busy = true
	return nil
}

func (r *Receiver[T]) release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.busy = false
	r.cancel = nil
	r.done = nil
}

func (r *Receiver[T]) loop(ctx context.Context, h command.Handler[T], done chan struct{}) {
	defer close(done)

	for {
		m, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.opts.logger.ErrorContext(ctx, "fetch failed",
				logger.Component("kafka"),
				logger.CommandType(command.SettingsFor[T]().Name),
				logger.Error(err),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		if _, err := r.dispatch(ctx, h, m); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.reportError(ctx, m, err)
		}
	}
}

// dispatch decodes m, waits for its due time, runs h inside the delivery
// context of the message and settles the message according to the result.
func (r *Receiver[T]) dispatch(ctx context.Context, h command.Handler[T], m kgo.Message) (command.Result[T], error) {
	var zero command.Result[T]

	ctx = clock.WithClock(ctx, r.opts.clock)
	d, err := Decode[T](ctx, m)
	if err != nil {
		// Undecodable messages would block the partition forever.
		if cerr := r.commit(ctx, m); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return zero, err
	}

	if wait := d.DueTime().Sub(r.opts.clock.Now()); !d.DueTime().IsZero() && wait > 0 {
		if err := clock.Wait(ctx, r.opts.clock, wait); err != nil {
			return zero, err
		}
	}

	hctx, err := command.EstablishDeliveryContext(ctx, d.IdempotencyToken())
	if err != nil {
		return zero, err
	}

	res, err := handle(hctx, h, d)
	if err == nil && (res.IsZero() || res.Delivery() != d) {
		err = command.ErrInvalidResult
	}
	if err != nil {
		return res, err
	}

	r.opts.logger.DebugContext(ctx, "delivery handled",
		logger.Component("kafka"),
		logger.CommandType(command.SettingsFor[T]().Name),
		logger.IdempotencyToken(d.IdempotencyToken()),
		logger.ResultKind(res.Kind().String()),
	)
	return res, r.settle(ctx, m, d, res)
}

func (r *Receiver[T]) settle(ctx context.Context, m kgo.Message, d *command.Delivery[T], res command.Result[T]) error {
	switch res.Kind() {
	case command.ResultComplete, command.ResultCancel:
		return r.commit(ctx, m)
	case command.ResultRetry:
		return r.redeliver(ctx, m, d)
	case command.ResultPause:
		next, err := command.NewDelivery(ctx, d.Command(),
			command.WithIdempotencyToken(d.IdempotencyToken()),
			command.WithDueTime(r.opts.clock.Now().Add(res.Period())),
			command.WithOriginalDueTime(d.OriginalDueTime()),
			command.WithPreviousAttempts(d.PreviousAttempts()),
		)
		if err != nil {
			return err
		}
		return r.redeliver(ctx, m, next)
	default:
		return command.ErrInvalidResult
	}
}

// redeliver re-produces d and commits m. Without a redelivery writer m stays
// uncommitted and pins its partition.
func (r *Receiver[T]) redeliver(ctx context.Context, m kgo.Message, d *command.Delivery[T]) error {
	if r.opts.redelivery == nil {
		r.pin(m)
		r.opts.logger.DebugContext(ctx, "delivery left uncommitted",
			logger.Component("kafka"),
			logger.CommandType(command.SettingsFor[T]().Name),
			logger.IdempotencyToken(d.IdempotencyToken()),
			logger.Key("partition", m.Partition),
			logger.Key("offset", m.Offset),
		)
		return nil
	}

	next, err := Encode(d)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, r.opts.writeTimeout)
	defer cancel()
	if err := r.opts.redelivery.WriteMessages(wctx, next); err != nil {
		return fmt.Errorf("redeliver %s: %w", command.TypeName[T](), err)
	}
	return r.commit(ctx, m)
}

// commit acknowledges m unless an earlier message of its partition is still
// unsettled. Settling the pinned message itself releases the pin.
func (r *Receiver[T]) commit(ctx context.Context, m kgo.Message) error {
	if !r.committable(m) {
		r.opts.logger.DebugContext(ctx, "commit deferred behind unsettled message",
			logger.Component("kafka"),
			logger.CommandType(command.SettingsFor[T]().Name),
			logger.Key("partition", m.Partition),
			logger.Key("offset", m.Offset),
		)
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, r.opts.commitTimeout)
	defer cancel()

	if err := r.reader.CommitMessages(cctx, m); err != nil {
		return fmt.Errorf("commit %s: %w", command.TypeName[T](), err)
	}
	return nil
}

func (r *Receiver[T]) pin(m kgo.Message) {
	r.heldMu.Lock()
	defer r.heldMu.Unlock()

	if r.held == nil {
		r.held = make(map[int]int64)
	}
	if cur, ok := r.held[m.Partition]; !ok || m.Offset < cur {
		r.held[m.Partition] = m.Offset
	}
}

// committable reports whether m may be committed.
func (r *Receiver[T]) committable(m kgo.Message) bool {
	r.heldMu.Lock()
	defer r.heldMu.Unlock()

	cur, ok := r.held[m.Partition]
	switch {
	case !ok || m.Offset < cur:
		return true
	case m.Offset == cur:
		delete(r.held, m.Partition)
		return true
	default:
		return false
	}
}

func (r *Receiver[T]) reportError(ctx context.Context, m kgo.Message, err error) {
	token, _ := header(m, HeaderMessageID)

	r.opts.logger.ErrorContext(ctx, "delivery handler failed",
		logger.Component("kafka"),
		logger.CommandType(command.SettingsFor[T]().Name),
		logger.IdempotencyToken(token),
		logger.Key("offset", m.Offset),
		logger.Error(err),
	)
	if r.opts.errorHandler != nil {
		r.opts.errorHandler(ctx, token, err)
	}
}

func handle[T any](ctx context.Context, h command.Handler[T], d *command.Delivery[T]) (res command.Result[T], err error) {
	defer func() {
		if p := recover(); p != nil {
			res = command.Result[T]{}
			err = fmt.Errorf("%w: %s: %v", command.ErrHandlerPanicked, command.TypeName[T](), p)
		}
	}()
	return h.Handle(ctx, d)
}
