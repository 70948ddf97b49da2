package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/courier/core/circuitbreaker"
	"github.com/dmitrymomot/courier/core/logger"
)

// DefaultKeyPrefix namespaces breaker keys in Redis.
const DefaultKeyPrefix = "circuit_breaker:"

// casScript replaces KEYS[1] with ARGV[2] when it currently holds ARGV[1],
// where an empty string stands for a missing key. A positive ARGV[3] sets a
// time to live in milliseconds. It returns the value held afterwards.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then cur = '' end
if cur ~= ARGV[1] then return cur end
if ARGV[2] == '' then
	redis.call('DEL', KEYS[1])
	return ''
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return ARGV[2]
`)

// Store keeps breaker states in Redis. Compare-and-swap runs as a Lua script
// and Watch relies on keyspace notifications, so the server needs
// notify-keyspace-events to include at least "K$gx".
type Store struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the prefix prepended to every breaker key.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
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

// New creates a Store over client.
func New(client redis.UniversalClient, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}

	s := &Store{
		client: client,
		prefix: DefaultKeyPrefix,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetLastState implements circuitbreaker.Store.
func (s *Store) GetLastState(ctx context.Context, key string) (circuitbreaker.Descriptor, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return circuitbreaker.Descriptor{}, nil
	}
	if err != nil {
		return circuitbreaker.Descriptor{}, fmt.Errorf("get breaker state: %w", err)
	}
	return circuitbreaker.ParseDescriptor(v)
}

// TrySetState implements circuitbreaker.Store.
func (s *Store) TrySetState(ctx context.Context, key, expected string, next circuitbreaker.Descriptor, ttl time.Duration) (string, error) {
	res, err := casScript.Run(ctx, s.client,
		[]string{s.prefix + key},
		expected, next.Serialize(), ttl.Milliseconds(),
	).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("set breaker state: %w", err)
	}

	switch v := res.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnexpectedCAS, res)
	}
}

// Watch implements circuitbreaker.Store. It subscribes to the keyspace
// channel of key in every database and stops when ctx is done or the
// returned function is called.
func (s *Store) Watch(ctx context.Context, key string, fn func(circuitbreaker.Event)) (func(), error) {
	pubsub := s.client.PSubscribe(ctx, keyspacePattern(s.prefix+key))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to keyspace events: %w", err)
	}

	stop := make(chan struct{})
	unwatch := sync.OnceFunc(func() {
		close(stop)
		_ = pubsub.Close()
	})

	msgs := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				unwatch()
				return
			case <-stop:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if kind, ok := eventKind(msg.Payload); ok {
					fn(circuitbreaker.Event{Key: key, Kind: kind})
				}
			}
		}
	}()

	s.logger.DebugContext(ctx, "watching breaker key",
		logger.Component("redisstore"),
		logger.Key("breaker", key),
	)
	return unwatch, nil
}

// eventKind maps a keyspace notification to a store event.
func eventKind(payload string) (circuitbreaker.EventKind, bool) {
	switch payload {
	case "expired":
		return circuitbreaker.EventExpired, true
	case "set", "del":
		return circuitbreaker.EventChanged, true
	default:
		return 0, false
	}
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func keyspacePattern(key string) string {
	return "__keyspace@*__:" + globEscaper.Replace(key)
}
