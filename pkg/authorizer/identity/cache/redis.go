//
//  Copyright © CWMS Data Project. All rights reserved.
//

package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cwms-data/authorizer/internal/logging"
	"github.com/cwms-data/authorizer/pkg/authorizer/types"
	"github.com/redis/go-redis/v9"
)

var logger = logging.GetLogger("authorizer.cache")

const agent = "redis"

// RedisFactory creates [Store] instances backed by a shared Redis server.
type RedisFactory struct {
	url string
}

// RedisStore caches identities in Redis under "user:context:<username>"
// keys with a per-entry TTL. All failures degrade to cache misses.
type RedisStore struct {
	client *redis.Client
}

// NewRedisFactory creates a [Factory] for Redis-backed stores connecting
// to the given URL (redis://host:port form).
func NewRedisFactory(url string) Factory {
	return &RedisFactory{url: url}
}

// NewStore connects to Redis and returns the store. Connection problems
// are not surfaced here; the client reconnects lazily and the store
// treats unreachable periods as misses.
func (f *RedisFactory) NewStore() (Store, error) {
	opts, err := redis.ParseURL(f.url)
	if err != nil {
		return nil, err
	}

	logger.Infof(agent, "init", "connecting identity cache to %s", f.url)
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func cacheKey(username string) string {
	return "user:context:" + strings.ToLower(username)
}

// Get returns the cached identity for the username, or false when absent
// or when the store is unreachable.
func (s *RedisStore) Get(ctx context.Context, username string) (types.Identity, bool) {
	payload, err := s.client.Get(ctx, cacheKey(username)).Result()
	if err == redis.Nil {
		return types.Identity{}, false
	}
	if err != nil {
		logger.Warnf(username, "get", "identity cache unavailable, treating as miss: %v", err)
		return types.Identity{}, false
	}

	var user types.Identity
	if err := json.Unmarshal([]byte(payload), &user); err != nil {
		logger.Warnf(username, "get", "discarding undecodable cache entry: %v", err)
		s.Invalidate(ctx, username)
		return types.Identity{}, false
	}

	return user, true
}

// Set stores the identity with the given TTL. Failures are logged and
// otherwise invisible to the caller.
func (s *RedisStore) Set(ctx context.Context, username string, user types.Identity, ttl time.Duration) {
	payload, err := json.Marshal(user)
	if err != nil {
		logger.Errorf(username, "set", "failed encoding identity: %v", err)
		return
	}

	if err := s.client.Set(ctx, cacheKey(username), payload, ttl).Err(); err != nil {
		logger.Warnf(username, "set", "failed writing identity cache: %v", err)
	}
}

// Invalidate removes the cached entry for the username.
func (s *RedisStore) Invalidate(ctx context.Context, username string) {
	if err := s.client.Del(ctx, cacheKey(username)).Err(); err != nil {
		logger.Warnf(username, "invalidate", "failed invalidating identity cache: %v", err)
	}
}

// Healthy pings the Redis server.
func (s *RedisStore) Healthy(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() {
	if err := s.client.Close(); err != nil {
		logger.SysWarnf("error closing identity cache: %v", err)
	}
}
