// Package webstash adds transparent caching to net/http applications:
// response caching as middleware, function memoization, and plain
// key/value operations, all over a backend selected by configuration
// (in-memory, filesystem, Redis or memcached).
package webstash

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"webstash/backend"
)

// Cache is the front type applications hold. It applies the key
// prefix and default TTL, masks backend failures where configured,
// and counts hits and misses. All methods are safe for concurrent
// use as long as the backend is.
type Cache struct {
	backend    backend.Backend
	cfg        Config
	serializer Serializer
	logger     zerolog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
	errs   atomic.Uint64
}

// New builds a Cache with the backend selected by cfg.Type. Pass
// zerolog.Nop() to disable logging.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Cache, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Type == TypeNull {
		logger.Warn().Msg("cache type is null, caching is effectively disabled")
	}

	b, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", cfg.Type, err)
	}
	return NewWithBackend(b, cfg, logger)
}

// NewWithBackend wraps an already constructed backend, for callers
// that need a backend this package does not ship.
func NewWithBackend(b backend.Backend, cfg Config, logger zerolog.Logger) (*Cache, error) {
	cfg.applyDefaults()
	ser, err := serializerFor(cfg.Serializer)
	if err != nil {
		return nil, err
	}
	return &Cache{
		backend:    b,
		cfg:        cfg,
		serializer: ser,
		logger:     logger.With().Str("component", "webstash").Logger(),
	}, nil
}

// Backend exposes the underlying backend.
func (c *Cache) Backend() backend.Backend { return c.backend }

// Close releases backend resources.
func (c *Cache) Close() error { return c.backend.Close() }

func (c *Cache) key(key string) string { return c.cfg.KeyPrefix + key }

// ttl resolves the shared TTL convention: zero becomes the configured
// default, everything else passes through.
func (c *Cache) ttl(d time.Duration) time.Duration {
	if d == 0 {
		return c.cfg.DefaultTimeout
	}
	return d
}

// Get returns the raw bytes under key. The second return reports
// whether the key was present.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.backend.Get(ctx, c.key(key))
	if errors.Is(err, backend.ErrNotFound) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		c.errs.Add(1)
		return nil, false, err
	}
	c.hits.Add(1)
	return value, true, nil
}

// GetInto reads and decodes the value under key into v, which must be
// a pointer.
func (c *Cache) GetInto(ctx context.Context, key string, v any) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := c.serializer.Unmarshal(data, v); err != nil {
		c.errs.Add(1)
		return false, fmt.Errorf("decode cached value: %w", err)
	}
	return true, nil
}

// GetMany returns one slot per key, nil for misses.
func (c *Cache) GetMany(ctx context.Context, keys ...string) ([][]byte, error) {
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = c.key(key)
	}
	values, err := c.backend.GetMany(ctx, prefixed...)
	if err != nil {
		c.errs.Add(1)
		return nil, err
	}
	for _, v := range values {
		if v != nil {
			c.hits.Add(1)
		} else {
			c.misses.Add(1)
		}
	}
	return values, nil
}

// Set stores raw bytes under key. A zero ttl uses the configured
// default, a negative ttl stores without expiry.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.backend.Set(ctx, c.key(key), value, c.ttl(ttl)); err != nil {
		c.errs.Add(1)
		return err
	}
	return nil
}

// SetValue encodes v with the configured serializer and stores it.
func (c *Cache) SetValue(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := c.serializer.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}
	return c.Set(ctx, key, data, ttl)
}

// SetMany stores all items with a shared ttl.
func (c *Cache) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	prefixed := make(map[string][]byte, len(items))
	for key, value := range items {
		prefixed[c.key(key)] = value
	}
	if err := c.backend.SetMany(ctx, prefixed, c.ttl(ttl)); err != nil {
		c.errs.Add(1)
		return err
	}
	return nil
}

// Add stores value only when key is absent. Returns false when the
// key already existed.
func (c *Cache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	err := c.backend.Add(ctx, c.key(key), value, c.ttl(ttl))
	if errors.Is(err, backend.ErrExists) {
		return false, nil
	}
	if err != nil {
		c.errs.Add(1)
		return false, err
	}
	return true, nil
}

// Delete removes key. Absent keys are not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.backend.Delete(ctx, c.key(key)); err != nil {
		c.errs.Add(1)
		return err
	}
	return nil
}

// DeleteMany removes the given keys. With IgnoreErrors set, per-key
// failures are logged and deletion continues; the returned slice
// holds the keys that were deleted.
func (c *Cache) DeleteMany(ctx context.Context, keys ...string) ([]string, error) {
	deleted := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := c.backend.Delete(ctx, c.key(key)); err != nil {
			c.errs.Add(1)
			if !c.cfg.IgnoreErrors {
				return deleted, err
			}
			c.logger.Warn().Err(err).Str("key", key).Msg("delete failed, continuing")
			continue
		}
		deleted = append(deleted, key)
	}
	return deleted, nil
}

// Unlink removes keys asynchronously when the backend supports it
// (Redis UNLINK) and falls back to DeleteMany otherwise.
func (c *Cache) Unlink(ctx context.Context, keys ...string) error {
	ul, ok := c.backend.(backend.Unlinker)
	if !ok {
		_, err := c.DeleteMany(ctx, keys...)
		return err
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = c.key(key)
	}
	if err := ul.Unlink(ctx, prefixed...); err != nil {
		c.errs.Add(1)
		return err
	}
	return nil
}

// Has reports whether key is present and unexpired.
func (c *Cache) Has(ctx context.Context, key string) (bool, error) {
	ok, err := c.backend.Has(ctx, c.key(key))
	if err != nil {
		c.errs.Add(1)
	}
	return ok, err
}

// Clear removes every entry the backend holds for this cache.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.backend.Clear(ctx); err != nil {
		c.errs.Add(1)
		return err
	}
	return nil
}

// Inc atomically adds delta to the counter under key, starting from
// zero when absent, and returns the new value.
func (c *Cache) Inc(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := c.backend.Inc(ctx, c.key(key), delta)
	if err != nil {
		c.errs.Add(1)
	}
	return n, err
}

// Dec is Inc with a negated delta.
func (c *Cache) Dec(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := c.backend.Dec(ctx, c.key(key), delta)
	if err != nil {
		c.errs.Add(1)
	}
	return n, err
}
