package rights

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores expanded right sets keyed by role name. The backing store is
// swappable; a miss (including a store failure) simply falls through to the
// catalog, never to an implicit grant.
type Cache interface {
	Get(ctx context.Context, role string) ([]string, bool)
	Put(ctx context.Context, role string, rights []string, ttl time.Duration)
	Invalidate(ctx context.Context, role string)
}

// RedisCache implements Cache on Redis.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisCache constructs a RedisCache.
func NewRedisCache(client *redis.Client, logger *slog.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger}
}

// Get returns the cached right set for a role, if present.
func (c *RedisCache) Get(ctx context.Context, role string) ([]string, bool) {
	raw, err := c.client.Get(ctx, roleCacheKey(role)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && c.logger != nil {
			c.logger.Warn("rights cache read", slog.Any("error", err))
		}
		return nil, false
	}
	var rights []string
	if err := json.Unmarshal(raw, &rights); err != nil {
		return nil, false
	}
	return rights, true
}

// Put stores the right set under the role key for the given TTL.
func (c *RedisCache) Put(ctx context.Context, role string, rights []string, ttl time.Duration) {
	raw, err := json.Marshal(rights)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, roleCacheKey(role), raw, ttl).Err(); err != nil && c.logger != nil {
		c.logger.Warn("rights cache write", slog.Any("error", err))
	}
}

// Invalidate drops exactly one role's entry. Role writes call this for the
// mutated role only; entries for other roles are left untouched.
func (c *RedisCache) Invalidate(ctx context.Context, role string) {
	if err := c.client.Del(ctx, roleCacheKey(role)).Err(); err != nil && !errors.Is(err, redis.Nil) && c.logger != nil {
		c.logger.Warn("rights cache invalidate", slog.Any("error", err))
	}
}

func roleCacheKey(role string) string {
	return "rights:role:" + role
}

var _ Cache = (*RedisCache)(nil)
