package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrymomot/courier/core/clock"
)

// MemoryStore is an in-process Store. Time to live is enforced by actions
// scheduled on its clock, which emit EventExpired when they drop a state.
// It backs StoreBroker in tests and single-process deployments.
type MemoryStore struct {
	clock clock.Clock

	mu       sync.Mutex
	seq      uint64
	states   map[string]storedState
	watchers map[string]*listenerSet
}

type storedState struct {
	value   string
	version uint64
}

type listenerSet struct {
	nextID uint64
	fns    map[uint64]func(Event)
}

// NewMemoryStore creates an empty store using c for expiry. A nil c means the
// wall clock.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real{}
	}
	return &MemoryStore{
		clock:    c,
		states:   make(map[string]storedState),
		watchers: make(map[string]*listenerSet),
	}
}

// GetLastState implements Store.
func (s *MemoryStore) GetLastState(_ context.Context, key string) (Descriptor, error) {
	s.mu.Lock()
	v := s.states[key].value
	s.mu.Unlock()

	return ParseDescriptor(v)
}

// TrySetState implements Store.
func (s *MemoryStore) TrySetState(_ context.Context, key, expected string, next Descriptor, ttl time.Duration) (string, error) {
	s.mu.Lock()
	cur := s.states[key]
	if cur.value != expected {
		s.mu.Unlock()
		return cur.value, nil
	}

	value := next.Serialize()
	s.seq++
	version := s.seq
	s.states[key] = storedState{value: value, version: version}
	fns := s.listenersLocked(key)
	s.mu.Unlock()

	if ttl > 0 {
		s.clock.Schedule(s.clock.Now().Add(ttl), func() { s.expire(key, version) })
	}

	for _, fn := range fns {
		fn(Event{Key: key, Kind: EventChanged})
	}
	return value, nil
}

// Watch implements Store.
func (s *MemoryStore) Watch(_ context.Context, key string, fn func(Event)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.watchers[key]
	if !ok {
		set = &listenerSet{fns: make(map[uint64]func(Event))}
		s.watchers[key] = set
	}
	set.nextID++
	id := set.nextID
	set.fns[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(set.fns, id)
	}, nil
}

func (s *MemoryStore) expire(key string, version uint64) {
	s.mu.Lock()
	cur, ok := s.states[key]
	if !ok || cur.version != version {
		s.mu.Unlock()
		return
	}
	delete(s.states, key)
	fns := s.listenersLocked(key)
	s.mu.Unlock()

	for _, fn := range fns {
		fn(Event{Key: key, Kind: EventExpired})
	}
}

func (s *MemoryStore) listenersLocked(key string) []func(Event) {
	set, ok := s.watchers[key]
	if !ok {
		return nil
	}
	fns := make([]func(Event), 0, len(set.fns))
	for id := uint64(1); id <= set.nextID; id++ {
		if fn, ok := set.fns[id]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}
