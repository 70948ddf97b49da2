package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/dmitrymomot/courier/core/circuitbreaker"
	"github.com/dmitrymomot/courier/core/clock"
	"github.com/dmitrymomot/courier/core/logger"

	_ "modernc.org/sqlite"
)

const (
	// MigrationsTable tracks the versions of the breaker schema.
	MigrationsTable = "circuit_breaker_migrations"

	// DefaultPollInterval is how often watched keys are re-read.
	DefaultPollInterval = time.Second
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	selectStateQuery = `SELECT state, expires_at FROM circuit_breaker_states WHERE key = ?`

	upsertStateQuery = `
INSERT INTO circuit_breaker_states (key, state, expires_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (key) DO UPDATE
SET state = excluded.state, expires_at = excluded.expires_at, updated_at = excluded.updated_at`

	deleteStateQuery = `DELETE FROM circuit_breaker_states WHERE key = ?`
)

// Store keeps breaker states in a SQLite database, for deployments where
// every process shares one host. Expiry times come from the store clock and
// expired rows read as missing. SQLite has no notifications, so Watch polls
// the watched keys.
type Store struct {
	db           *sql.DB
	clock        clock.Clock
	logger       *slog.Logger
	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	nextID   uint64
	watchers map[string]*watchedKey
	polling  bool
	closed   bool
}

type watchedKey struct {
	fns  map[uint64]func(circuitbreaker.Event)
	last snapshot
}

// snapshot is a stored row as last read.
type snapshot struct {
	value   string
	expired bool
}

// live returns the stored state unless it expired.
func (s snapshot) live() string {
	if s.expired {
		return ""
	}
	return s.value
}

// Option configures Store.
type Option func(*Store)

// WithClock sets the clock used for expiry times. Defaults to the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the store logger. Defaults to a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPollInterval sets how often watched keys are re-read.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serialises compare-and-swap within the process.
	db.SetMaxOpenConns(1)

	cctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		db:           db,
		clock:        clock.Real{},
		logger:       logger.Discard(),
		pollInterval: DefaultPollInterval,
		ctx:          cctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		watchers:     make(map[string]*watchedKey),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(ctx); err != nil {
		cancel()
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	store, err := database.NewStore(database.DialectSQLite3, MigrationsTable)
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider("", s.db, fsys, goose.WithStore(store))
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, res := range results {
		s.logger.DebugContext(ctx, "migration applied",
			logger.Component("sqlitestore"),
			slog.Int64("version", res.Source.Version),
			logger.Duration(res.Duration),
		)
	}
	return nil
}

// GetLastState implements circuitbreaker.Store.
func (s *Store) GetLastState(ctx context.Context, key string) (circuitbreaker.Descriptor, error) {
	snap, err := s.read(ctx, s.db, key)
	if err != nil {
		return circuitbreaker.Descriptor{}, err
	}
	return circuitbreaker.ParseDescriptor(snap.live())
}

// TrySetState implements circuitbreaker.Store.
func (s *Store) TrySetState(ctx context.Context, key, expected string, next circuitbreaker.Descriptor, ttl time.Duration) (string, error) {
	value := next.Serialize()
	var actual string

	err := retryOnContention(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		cur, err := s.read(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.live() != expected {
			actual = cur.live()
			return tx.Commit()
		}

		now := s.clock.Now()
		if value == "" {
			_, err = tx.ExecContext(ctx, deleteStateQuery, key)
		} else {
			var expiresAt sql.NullInt64
			if ttl > 0 {
				expiresAt = sql.NullInt64{Int64: now.Add(ttl).UnixMilli(), Valid: true}
			}
			_, err = tx.ExecContext(ctx, upsertStateQuery, key, value, expiresAt, now.UnixMilli())
		}
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		actual = value
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("set breaker state: %w", err)
	}
	return actual, nil
}

// Watch implements circuitbreaker.Store. Changes are detected by polling
// every poll interval: a row that expired since the last poll yields
// EventExpired, any other difference EventChanged.
func (s *Store) Watch(ctx context.Context, key string, fn func(circuitbreaker.Event)) (func(), error) {
	snap, err := s.read(ctx, s.db, key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	w, ok := s.watchers[key]
	if !ok {
		w = &watchedKey{fns: make(map[uint64]func(circuitbreaker.Event)), last: snap}
		s.watchers[key] = w
	}
	s.nextID++
	id := s.nextID
	w.fns[id] = fn

	if !s.polling {
		s.polling = true
		go s.poll()
	}

	remove := sync.OnceFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(w.fns, id)
		if len(w.fns) == 0 && s.watchers[key] == w {
			delete(s.watchers, key)
		}
	})
	stop := context.AfterFunc(ctx, remove)

	return func() {
		stop()
		remove()
	}, nil
}

// Close stops polling and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	polling := s.polling
	s.mu.Unlock()

	s.cancel()
	if polling {
		<-s.done
	}
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) read(ctx context.Context, q queryer, key string) (snapshot, error) {
	var (
		state     string
		expiresAt sql.NullInt64
	)
	err := q.QueryRowContext(ctx, selectStateQuery, key).Scan(&state, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot{}, nil
	}
	if err != nil {
		return snapshot{}, fmt.Errorf("get breaker state: %w", err)
	}

	expired := expiresAt.Valid && expiresAt.Int64 <= s.clock.Now().UnixMilli()
	return snapshot{value: state, expired: expired}, nil
}

func (s *Store) poll() {
	defer close(s.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.check()
		}
	}
}

// check re-reads every watched key and notifies on differences.
func (s *Store) check() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.watchers))
	for key := range s.watchers {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		snap, err := s.read(s.ctx, s.db, key)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.ErrorContext(s.ctx, "breaker poll failed",
					logger.Component("sqlitestore"),
					logger.Key("breaker", key),
					logger.Error(err),
				)
			}
			continue
		}

		s.mu.Lock()
		w, ok := s.watchers[key]
		if !ok {
			s.mu.Unlock()
			continue
		}
		prev := w.last
		w.last = snap
		fns := make([]func(circuitbreaker.Event), 0, len(w.fns))
		for _, fn := range w.fns {
			fns = append(fns, fn)
		}
		s.mu.Unlock()

		kind, changed := diff(prev, snap)
		if !changed {
			continue
		}
		for _, fn := range fns {
			fn(circuitbreaker.Event{Key: key, Kind: kind})
		}
	}
}

func diff(prev, cur snapshot) (circuitbreaker.EventKind, bool) {
	switch {
	case prev == cur:
		return 0, false
	case cur.expired && !prev.expired && cur.value == prev.value:
		return circuitbreaker.EventExpired, true
	default:
		return circuitbreaker.EventChanged, true
	}
}
