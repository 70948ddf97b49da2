package pgstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/courier/core/circuitbreaker"
	"github.com/dmitrymomot/courier/core/logger"
	"github.com/dmitrymomot/courier/integration/database/pg"
)

// DefaultReconnectInterval is the pause before the listener connection is
// re-established after a failure.
const DefaultReconnectInterval = 5 * time.Second

// Store keeps breaker states in the circuit_breaker_states table. Writes
// send a notification on NotifyChannel and a single LISTEN connection fans
// them out to watchers. PostgreSQL has no expiry notifications, so expired
// rows are read as missing and the broker's clock fallback drives HalfOpen.
//
// Queries join a transaction stored in the context with pg.WithTx.
type Store struct {
	pool              *pgxpool.Pool
	logger            *slog.Logger
	reconnectInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	nextID    uint64
	watchers  map[string]map[uint64]func(circuitbreaker.Event)
	listening bool
	closed    bool
}

// Option configures Store.
type Option func(*Store)

// WithLogger sets the store logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReconnectInterval sets the pause between listener reconnect attempts.
func WithReconnectInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.reconnectInterval = d
		}
	}
}

// New creates a Store over pool. The schema must exist, see Migrate.
func New(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, ErrNilPool
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		pool:              pool,
		logger:            logger.Discard(),
		reconnectInterval: DefaultReconnectInterval,
		ctx:               ctx,
		cancel:            cancel,
		done:              make(chan struct{}),
		watchers:          make(map[string]map[uint64]func(circuitbreaker.Event)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetLastState implements circuitbreaker.Store.
func (s *Store) GetLastState(ctx context.Context, key string) (circuitbreaker.Descriptor, error) {
	v, err := current(ctx, s.db(ctx), key)
	if err != nil {
		return circuitbreaker.Descriptor{}, err
	}
	return circuitbreaker.ParseDescriptor(v)
}

// TrySetState implements circuitbreaker.Store.
func (s *Store) TrySetState(ctx context.Context, key, expected string, next circuitbreaker.Descriptor, ttl time.Duration) (string, error) {
	value := next.Serialize()
	var actual string

	err := pgx.BeginFunc(ctx, s.db(ctx), func(tx pgx.Tx) error {
		var (
			stored string
			err    error
		)
		switch {
		case expected == "":
			err = tx.QueryRow(ctx, insertStateQuery, key, value, ttl.Milliseconds()).Scan(&stored)
		case value == "":
			err = tx.QueryRow(ctx, deleteStateQuery, key, expected).Scan(&stored)
		default:
			err = tx.QueryRow(ctx, updateStateQuery, key, value, ttl.Milliseconds(), expected).Scan(&stored)
		}

		if pg.IsNotFoundError(err) {
			actual, err = current(ctx, tx, key)
			return err
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, notifyQuery, NotifyChannel, key); err != nil {
			return err
		}
		actual = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return actual, nil
}

// Watch implements circuitbreaker.Store. The first call opens the shared
// listener connection. Watching stops when ctx is done or the returned
// function is called. Only EventChanged is emitted.
func (s *Store) Watch(ctx context.Context, key string, fn func(circuitbreaker.Event)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	if !s.listening {
		conn, err := s.acquireListener(ctx)
		if err != nil {
			return nil, err
		}
		s.listening = true
		go s.listen(conn)
	}

	set, ok := s.watchers[key]
	if !ok {
		set = make(map[uint64]func(circuitbreaker.Event))
		s.watchers[key] = set
	}
	s.nextID++
	id := s.nextID
	set[id] = fn

	remove := sync.OnceFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(set, id)
	})
	stop := context.AfterFunc(ctx, remove)

	return func() {
		stop()
		remove()
	}, nil
}

// Close stops the listener. The pool stays open.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listening := s.listening
	s.mu.Unlock()

	s.cancel()
	if listening {
		<-s.done
	}
	return nil
}

func (s *Store) db(ctx context.Context) pg.Querier {
	return pg.QuerierFromContext(ctx, s.pool)
}

func current(ctx context.Context, q pg.Querier, key string) (string, error) {
	var v string
	err := q.QueryRow(ctx, selectStateQuery, key).Scan(&v)
	if pg.IsNotFoundError(err) {
		return "", nil
	}
	return v, err
}

func (s *Store) acquireListener(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{NotifyChannel}.Sanitize()); err != nil {
		conn.Release()
		return nil, err
	}
	return conn, nil
}

func (s *Store) listen(conn *pgxpool.Conn) {
	defer close(s.done)

	for {
		n, err := conn.Conn().WaitForNotification(s.ctx)
		if err == nil {
			s.dispatch(n.Payload, circuitbreaker.EventChanged)
			continue
		}

		// The connection is unusable after a failed wait; the pool discards it.
		conn.Release()
		if s.ctx.Err() != nil {
			return
		}
		s.logger.ErrorContext(s.ctx, "breaker listener failed",
			logger.Component("pgstore"),
			logger.Error(err),
		)

		if conn = s.reconnect(); conn == nil {
			return
		}
		// Notifications sent while disconnected are lost.
		s.dispatchAll(circuitbreaker.EventChanged)
	}
}

func (s *Store) reconnect() *pgxpool.Conn {
	for attempt := 1; ; attempt++ {
		select {
		case <-s.ctx.Done():
			return nil
		case <-time.After(s.reconnectInterval):
		}

		conn, err := s.acquireListener(s.ctx)
		if err == nil {
			return conn
		}
		if s.ctx.Err() != nil {
			return nil
		}
		s.logger.WarnContext(s.ctx, "breaker listener reconnect failed",
			logger.Component("pgstore"),
			logger.RetryCount(attempt),
			logger.Error(err),
		)
	}
}

func (s *Store) dispatch(key string, kind circuitbreaker.EventKind) {
	s.mu.Lock()
	fns := make([]func(circuitbreaker.Event), 0, len(s.watchers[key]))
	for _, fn := range s.watchers[key] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(circuitbreaker.Event{Key: key, Kind: kind})
	}
}

func (s *Store) dispatchAll(kind circuitbreaker.EventKind) {
	s.mu.Lock()
	keys := make([]string, 0, len(s.watchers))
	for key := range s.watchers {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.dispatch(key, kind)
	}
}
