package backend

import (
	"context"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// simpleEntry is a stored value with its expiry. A zero expiresAt
// means the entry never expires.
type simpleEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *simpleEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Simple is an in-memory backend bounded to a threshold number of
// entries. When the threshold is exceeded the least recently used
// entry is evicted. A janitor goroutine sweeps expired entries so
// they do not pin memory between reads.
type Simple struct {
	cache *lru.Cache[string, *simpleEntry]
	mu    sync.Mutex
	stop  chan struct{}
	once  sync.Once
}

// NewSimple creates an in-memory backend holding at most threshold
// entries. sweepInterval controls how often expired entries are
// collected; zero disables the janitor (expired entries are still
// misses, they are just reclaimed lazily).
func NewSimple(threshold int, sweepInterval time.Duration) (*Simple, error) {
	cache, err := lru.New[string, *simpleEntry](threshold)
	if err != nil {
		return nil, err
	}

	s := &Simple{
		cache: cache,
		stop:  make(chan struct{}),
	}

	if sweepInterval > 0 {
		go s.janitor(sweepInterval)
	}

	return s, nil
}

func (s *Simple) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	if entry.expired(time.Now()) {
		s.cache.Remove(key)
		return nil, ErrNotFound
	}
	return entry.value, nil
}

func (s *Simple) GetMany(ctx context.Context, keys ...string) ([][]byte, error) {
	values := make([][]byte, len(keys))
	for i, key := range keys {
		value, err := s.Get(ctx, key)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		values[i] = value
	}
	return values, nil
}

func (s *Simple) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.cache.Add(key, newSimpleEntry(value, ttl))
	s.mu.Unlock()
	return nil
}

func (s *Simple) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	for key, value := range items {
		if err := s.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simple) Add(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.cache.Peek(key); ok && !entry.expired(time.Now()) {
		return ErrExists
	}
	s.cache.Add(key, newSimpleEntry(value, ttl))
	return nil
}

func (s *Simple) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	s.cache.Remove(key)
	s.mu.Unlock()
	return nil
}

func (s *Simple) DeleteMany(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simple) Has(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache.Peek(key)
	if !ok || entry.expired(time.Now()) {
		return false, nil
	}
	return true, nil
}

func (s *Simple) Clear(_ context.Context) error {
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

// Inc stores counters as decimal strings so they stay readable
// through Get and settable through Set.
func (s *Simple) Inc(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	var expiresAt time.Time
	if entry, ok := s.cache.Peek(key); ok && !entry.expired(time.Now()) {
		n, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err != nil {
			return 0, ErrNotNumber
		}
		current = n
		expiresAt = entry.expiresAt
	}

	current += delta
	s.cache.Add(key, &simpleEntry{
		value:     []byte(strconv.FormatInt(current, 10)),
		expiresAt: expiresAt,
	})
	return current, nil
}

func (s *Simple) Dec(ctx context.Context, key string, delta int64) (int64, error) {
	return s.Inc(ctx, key, -delta)
}

func (s *Simple) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// janitor periodically removes expired entries.
func (s *Simple) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *Simple) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, key := range s.cache.Keys() {
		if entry, ok := s.cache.Peek(key); ok && entry.expired(now) {
			s.cache.Remove(key)
		}
	}
}

func newSimpleEntry(value []byte, ttl time.Duration) *simpleEntry {
	entry := &simpleEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	return entry
}
