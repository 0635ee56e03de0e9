// Package cache provides a Redis-backed search result cache.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
)

const (
	DefaultTTL = 30 * time.Minute
	keyPrefix  = "guildplay:cache:"
)

// Config represents cache configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	// DisableOnError turns the cache off after the first Redis error.
	DisableOnError bool
}

// Cache stores JSON values in Redis and degrades to a permanent miss when
// Redis is unreachable.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New creates a cache. An unreachable Redis is not an error; the cache
// starts disabled.
func New(ctx context.Context, cfg Config) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	c := &Cache{client: client, ttl: ttl, config: cfg}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		zlog.Warn().Msgf("cache: redis unavailable, running without cache: addr=%s error=%v", cfg.Addr, err)
		c.disabled = true
		return c
	}

	zlog.Info().Msgf("cache: redis cache initialized: addr=%s ttl=%s", cfg.Addr, ttl)
	return c
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled
}

// Get loads key into dest. A miss returns false with no error.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, errors.Wrap(err, "cache get")
	}

	if err := json.Unmarshal(data, dest); err != nil {
		zlog.Debug().Msgf("cache: failed to unmarshal cached value: key=%s error=%v", key, err)
		return false, nil
	}
	return true, nil
}

// Set stores value under key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "marshal cache value")
	}
	if err := c.client.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		c.handleError(err, "set")
		return errors.Wrap(err, "cache set")
	}
	return nil
}

func (c *Cache) handleError(err error, operation string) {
	zlog.Debug().Msgf("cache: operation failed: operation=%s error=%v", operation, err)
	if !c.config.DisableOnError {
		return
	}
	c.mu.Lock()
	c.disabled = true
	c.mu.Unlock()
	zlog.Warn().Msg("cache: disabling cache due to redis error")
}
