package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisScanBatch = 500

// Redis is a backend over a go-redis universal client. The key prefix
// is used by Clear and Unlink to scope scans to this cache's keys;
// callers pass fully prefixed keys to every other operation.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// RedisOptions describes how to reach the Redis server. URL takes
// precedence over the discrete fields when set.
type RedisOptions struct {
	URL      string
	Addrs    []string
	Password string
	DB       int
}

// NewRedis connects a Redis backend and verifies the connection with
// a PING.
func NewRedis(ctx context.Context, opts RedisOptions, prefix string) (*Redis, error) {
	var client redis.UniversalClient
	if opts.URL != "" {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("redis backend: parse url: %w", err)
		}
		client = redis.NewClient(parsed)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    opts.Addrs,
			Password: opts.Password,
			DB:       opts.DB,
		})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis backend: ping: %w", err)
	}
	return &Redis{client: client, prefix: prefix}, nil
}

// NewRedisFromClient wraps an existing client, for callers that manage
// the client lifecycle themselves. Close is then a no-op on the
// underlying client connection pool only when it was created here.
func NewRedisFromClient(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis backend: get: %w", err)
	}
	return value, nil
}

func (r *Redis) GetMany(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis backend: mget: %w", err)
	}

	values := make([][]byte, len(keys))
	for i, v := range raw {
		if s, ok := v.(string); ok {
			values[i] = []byte(s)
		}
	}
	return values, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, redisTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("redis backend: set: %w", err)
	}
	return nil
}

func (r *Redis) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	pipe := r.client.Pipeline()
	for key, value := range items {
		pipe.Set(ctx, key, value, redisTTL(ttl))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis backend: pipelined set: %w", err)
	}
	return nil
}

func (r *Redis) Add(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ok, err := r.client.SetNX(ctx, key, value, redisTTL(ttl)).Result()
	if err != nil {
		return fmt.Errorf("redis backend: setnx: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis backend: del: %w", err)
	}
	return nil
}

func (r *Redis) DeleteMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis backend: del: %w", err)
	}
	return nil
}

// Unlink implements Unlinker using Redis' asynchronous delete.
func (r *Redis) Unlink(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Unlink(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis backend: unlink: %w", err)
	}
	return nil
}

func (r *Redis) Has(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis backend: exists: %w", err)
	}
	return n > 0, nil
}

// Clear deletes every key under this cache's prefix via SCAN, so
// other users of the same database are untouched. With an empty
// prefix it flushes the whole database.
func (r *Redis) Clear(ctx context.Context) error {
	if r.prefix == "" {
		if err := r.client.FlushDB(ctx).Err(); err != nil {
			return fmt.Errorf("redis backend: flushdb: %w", err)
		}
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", redisScanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis backend: scan: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis backend: del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (r *Redis) Inc(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := r.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("redis backend: incrby: %w", err)
	}
	return n, nil
}

func (r *Redis) Dec(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := r.client.DecrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("redis backend: decrby: %w", err)
	}
	return n, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// redisTTL maps the shared TTL convention onto Redis expirations,
// where 0 means "no expiry".
func redisTTL(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}
