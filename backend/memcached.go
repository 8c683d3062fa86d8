package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	// Protocol limit on key length.
	memcachedMaxKeyLen = 250

	// Expirations above 30 days are interpreted by memcached as
	// absolute unix timestamps.
	memcachedMaxRelTTL = 30 * 24 * time.Hour
)

// Memcached is a backend over the memcached text protocol. Keys that
// violate the protocol rules (length, whitespace, control characters)
// are transparently replaced with their SHA-256 hex digest.
type Memcached struct {
	client *memcache.Client
}

// NewMemcached creates a memcached backend for the given
// "host:port" server addresses.
func NewMemcached(servers ...string) (*Memcached, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("memcached backend: at least one server is required")
	}
	return &Memcached{client: memcache.New(servers...)}, nil
}

func (m *Memcached) Get(_ context.Context, key string) ([]byte, error) {
	item, err := m.client.Get(memcachedKey(key))
	if err == memcache.ErrCacheMiss {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memcached backend: get: %w", err)
	}
	return item.Value, nil
}

func (m *Memcached) GetMany(_ context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	wire := make([]string, len(keys))
	for i, key := range keys {
		wire[i] = memcachedKey(key)
	}
	items, err := m.client.GetMulti(wire)
	if err != nil {
		return nil, fmt.Errorf("memcached backend: getmulti: %w", err)
	}

	values := make([][]byte, len(keys))
	for i, key := range wire {
		if item, ok := items[key]; ok {
			values[i] = item.Value
		}
	}
	return values, nil
}

func (m *Memcached) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := m.client.Set(&memcache.Item{
		Key:        memcachedKey(key),
		Value:      value,
		Expiration: memcachedTTL(ttl),
	})
	if err != nil {
		return fmt.Errorf("memcached backend: set: %w", err)
	}
	return nil
}

func (m *Memcached) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	for key, value := range items {
		if err := m.Set(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memcached) Add(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := m.client.Add(&memcache.Item{
		Key:        memcachedKey(key),
		Value:      value,
		Expiration: memcachedTTL(ttl),
	})
	if err == memcache.ErrNotStored {
		return ErrExists
	}
	if err != nil {
		return fmt.Errorf("memcached backend: add: %w", err)
	}
	return nil
}

func (m *Memcached) Delete(_ context.Context, key string) error {
	err := m.client.Delete(memcachedKey(key))
	if err != nil && err != memcache.ErrCacheMiss {
		return fmt.Errorf("memcached backend: delete: %w", err)
	}
	return nil
}

func (m *Memcached) DeleteMany(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := m.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memcached) Has(_ context.Context, key string) (bool, error) {
	_, err := m.client.Get(memcachedKey(key))
	if err == memcache.ErrCacheMiss {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("memcached backend: get: %w", err)
	}
	return true, nil
}

func (m *Memcached) Clear(_ context.Context) error {
	if err := m.client.FlushAll(); err != nil {
		return fmt.Errorf("memcached backend: flush: %w", err)
	}
	return nil
}

// Inc emulates start-at-zero semantics: memcached's incr fails on a
// missing key, so the key is first added with the counter's seed.
func (m *Memcached) Inc(_ context.Context, key string, delta int64) (int64, error) {
	wire := memcachedKey(key)

	if delta < 0 {
		n, err := m.client.Decrement(wire, uint64(-delta))
		if err == memcache.ErrCacheMiss {
			return m.seedCounter(wire, 0)
		}
		if err != nil {
			return 0, fmt.Errorf("memcached backend: decr: %w", err)
		}
		return int64(n), nil
	}

	n, err := m.client.Increment(wire, uint64(delta))
	if err == memcache.ErrCacheMiss {
		return m.seedCounter(wire, delta)
	}
	if err != nil {
		return 0, fmt.Errorf("memcached backend: incr: %w", err)
	}
	return int64(n), nil
}

func (m *Memcached) Dec(ctx context.Context, key string, delta int64) (int64, error) {
	return m.Inc(ctx, key, -delta)
}

func (m *Memcached) Close() error {
	return m.client.Close()
}

func (m *Memcached) seedCounter(wire string, seed int64) (int64, error) {
	err := m.client.Add(&memcache.Item{
		Key:   wire,
		Value: []byte(fmt.Sprintf("%d", seed)),
	})
	if err == memcache.ErrNotStored {
		// Lost the race to another writer; their value stands.
		item, gerr := m.client.Get(wire)
		if gerr != nil {
			return 0, fmt.Errorf("memcached backend: get after add race: %w", gerr)
		}
		var n int64
		if _, serr := fmt.Sscanf(string(item.Value), "%d", &n); serr != nil {
			return 0, ErrNotNumber
		}
		return n, nil
	}
	if err != nil {
		return 0, fmt.Errorf("memcached backend: add: %w", err)
	}
	return seed, nil
}

// memcachedKey returns key unchanged when it is protocol-safe,
// otherwise its SHA-256 hex digest.
func memcachedKey(key string) string {
	if len(key) == 0 || len(key) > memcachedMaxKeyLen {
		return hashKey(key)
	}
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return hashKey(key)
		}
	}
	return key
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func memcachedTTL(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	if ttl > memcachedMaxRelTTL {
		return int32(time.Now().Add(ttl).Unix())
	}
	seconds := int32(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
