package webstash

import (
	"context"
	"fmt"
	"time"

	"webstash/backend"
)

// Backend type names recognized by Config.Type.
const (
	TypeNull       = "null"
	TypeSimple     = "simple"
	TypeFilesystem = "filesystem"
	TypeRedis      = "redis"
	TypeMemcached  = "memcached"
)

// Serializer names recognized by Config.Serializer.
const (
	SerializerGob  = "gob"
	SerializerJSON = "json"
)

// Default values
const (
	DefaultType          = TypeNull
	DefaultTimeout       = 300 * time.Second
	DefaultKeyPrefix     = "webstash_"
	DefaultThreshold     = 500
	DefaultSweepInterval = 60 * time.Second
	DefaultSerializer    = SerializerGob
)

// Config selects and parameterizes a backend. The zero value is valid
// and resolves to a disabled (null) cache with defaults applied.
type Config struct {
	// Type names the backend: null, simple, filesystem, redis or
	// memcached.
	Type string `json:"type" mapstructure:"type"`

	// DefaultTimeout is the expiry applied when an operation passes a
	// zero TTL. Negative means entries never expire by default.
	DefaultTimeout time.Duration `json:"defaultTimeout" mapstructure:"default_timeout"`

	// KeyPrefix is prepended to every key before it reaches the
	// backend, so multiple caches can share one store.
	KeyPrefix string `json:"keyPrefix" mapstructure:"key_prefix"`

	// IgnoreErrors makes DeleteMany continue past per-key failures
	// instead of stopping at the first one.
	IgnoreErrors bool `json:"ignoreErrors" mapstructure:"ignore_errors"`

	// Threshold bounds the entry count of the simple and filesystem
	// backends.
	Threshold int `json:"threshold" mapstructure:"threshold"`

	// SweepInterval controls how often the simple backend reclaims
	// expired entries.
	SweepInterval time.Duration `json:"sweepInterval" mapstructure:"sweep_interval"`

	// Dir is the storage directory for the filesystem backend.
	Dir string `json:"dir" mapstructure:"dir"`

	// Redis connection settings. RedisURL wins over the discrete
	// fields when both are set.
	RedisURL      string   `json:"redisUrl" mapstructure:"redis_url"`
	RedisAddrs    []string `json:"redisAddrs" mapstructure:"redis_addrs"`
	RedisPassword string   `json:"redisPassword" mapstructure:"redis_password"`
	RedisDB       int      `json:"redisDb" mapstructure:"redis_db"`

	// MemcachedServers lists "host:port" addresses for the memcached
	// backend.
	MemcachedServers []string `json:"memcachedServers" mapstructure:"memcached_servers"`

	// Serializer names the value codec used for typed values,
	// cached responses and memoized results: gob or json.
	Serializer string `json:"serializer" mapstructure:"serializer"`
}

func (c *Config) applyDefaults() {
	if c.Type == "" {
		c.Type = DefaultType
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Serializer == "" {
		c.Serializer = DefaultSerializer
	}
}

func (c *Config) validate() error {
	switch c.Type {
	case TypeNull, TypeSimple:
	case TypeFilesystem:
		if c.Dir == "" {
			return fmt.Errorf("config: filesystem cache requires a directory")
		}
	case TypeRedis:
		if c.RedisURL == "" && len(c.RedisAddrs) == 0 {
			return fmt.Errorf("config: redis cache requires redis_url or redis_addrs")
		}
	case TypeMemcached:
		if len(c.MemcachedServers) == 0 {
			return fmt.Errorf("config: memcached cache requires at least one server")
		}
	default:
		return fmt.Errorf("config: unknown cache type %q", c.Type)
	}

	if c.Threshold < 0 {
		return fmt.Errorf("config: threshold must be non-negative")
	}
	switch c.Serializer {
	case SerializerGob, SerializerJSON:
	default:
		return fmt.Errorf("config: unknown serializer %q", c.Serializer)
	}
	return nil
}

// newBackend constructs the backend selected by cfg.Type. cfg must
// already have defaults applied and be validated.
func newBackend(ctx context.Context, cfg Config) (backend.Backend, error) {
	switch cfg.Type {
	case TypeNull:
		return backend.NewNull(), nil
	case TypeSimple:
		return backend.NewSimple(cfg.Threshold, cfg.SweepInterval)
	case TypeFilesystem:
		return backend.NewFilesystem(cfg.Dir, cfg.Threshold)
	case TypeRedis:
		return backend.NewRedis(ctx, backend.RedisOptions{
			URL:      cfg.RedisURL,
			Addrs:    cfg.RedisAddrs,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.KeyPrefix)
	case TypeMemcached:
		return backend.NewMemcached(cfg.MemcachedServers...)
	default:
		return nil, fmt.Errorf("config: unknown cache type %q", cfg.Type)
	}
}
