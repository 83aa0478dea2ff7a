package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditgate/internal/config"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"go.uber.org/zap"
)

const redisKeyPrefix = "quota:snapshot"

// KEYS[1] snapshot, KEYS[2] generation. ARGV: expected gen, payload, ttl ms.
var putIfCurrentScript = redis.NewScript(`
if (redis.call("GET", KEYS[2]) or "0") ~= ARGV[1] then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
  redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

var invalidateScript = redis.NewScript(`
redis.call("INCR", KEYS[2])
return redis.call("DEL", KEYS[1])
`)

// RedisCache shares snapshots across replicas. The client is owned by the caller.
type RedisCache struct {
	client *redis.Client
	log    *zap.Logger
}

type RedisCacheOption func(*RedisCache)

func WithLogger(log *zap.Logger) RedisCacheOption {
	return func(c *RedisCache) {
		if log != nil {
			c.log = log
		}
	}
}

func NewRedisCache(client *redis.Client, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{
		client: client,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Both keys share a hash tag so the scripts stay on one cluster slot.
func (c *RedisCache) key(tenant quotadomain.TenantKey) string {
	return fmt.Sprintf("%s:{%s:%s}", redisKeyPrefix, tenant.Type, tenant.ID)
}

// The generation key has no TTL; expiring it would reset the counter.
func (c *RedisCache) genKey(tenant quotadomain.TenantKey) string {
	return fmt.Sprintf("%s:gen:{%s:%s}", redisKeyPrefix, tenant.Type, tenant.ID)
}

func (c *RedisCache) Get(ctx context.Context, tenant quotadomain.TenantKey) (quotadomain.Snapshot, bool, error) {
	key := c.key(tenant)
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return quotadomain.Snapshot{}, false, nil
	}
	if err != nil {
		return quotadomain.Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
	}

	var snap quotadomain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.log.Warn("dropping corrupt snapshot entry", zap.String("key", key), zap.Error(err))
		_ = c.client.Del(ctx, key).Err()
		return quotadomain.Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (c *RedisCache) Generation(ctx context.Context, tenant quotadomain.TenantKey) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey(tenant)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get snapshot generation: %w", err)
	}
	return gen, nil
}

func (c *RedisCache) Put(ctx context.Context, tenant quotadomain.TenantKey, snap quotadomain.Snapshot, gen int64, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}
	keys := []string{c.key(tenant), c.genKey(tenant)}
	stored, err := putIfCurrentScript.Run(ctx, c.client, keys, gen, data, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("put snapshot: %w", err)
	}
	return stored == 1, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, tenant quotadomain.TenantKey) error {
	keys := []string{c.key(tenant), c.genKey(tenant)}
	if err := invalidateScript.Run(ctx, c.client, keys).Err(); err != nil {
		return fmt.Errorf("invalidate snapshot: %w", err)
	}
	return nil
}

func (c *RedisCache) Backend() string {
	return config.CacheBackendRedis
}
