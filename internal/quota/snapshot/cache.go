package snapshot

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Cache stores derived quota snapshots. Entries may be stale; the ledger is
// authoritative.
//
// Every tenant carries a generation that Invalidate bumps. A reader takes the
// generation before computing from the ledger and hands it back to Put, so a
// snapshot computed before an invalidation is never stored after it.
type Cache interface {
	// Get reports a miss with ok=false and a nil error.
	Get(ctx context.Context, tenant quotadomain.TenantKey) (quotadomain.Snapshot, bool, error)
	Generation(ctx context.Context, tenant quotadomain.TenantKey) (int64, error)
	// Put stores snap only while the generation still equals gen and reports
	// whether it did.
	Put(ctx context.Context, tenant quotadomain.TenantKey, snap quotadomain.Snapshot, gen int64, ttl time.Duration) (bool, error)
	Invalidate(ctx context.Context, tenant quotadomain.TenantKey) error
	// Backend names the implementation for metrics.
	Backend() string
}

type CacheParams struct {
	fx.In

	Config config.Config
	Client *redis.Client `optional:"true"`
	Clock  clock.Clock
	Log    *zap.Logger
}

// NewCache selects the backend from config. A redis backend without a live
// client falls back to memory.
func NewCache(p CacheParams) Cache {
	log := p.Log.Named("quota.snapshot")
	if p.Config.Quota.CacheBackend == config.CacheBackendRedis {
		if p.Client != nil {
			log.Info("snapshot cache backend selected", zap.String("backend", config.CacheBackendRedis))
			return NewRedisCache(p.Client, WithLogger(log))
		}
		log.Warn("redis snapshot cache requested but redis is unavailable, falling back to memory")
	}
	log.Info("snapshot cache backend selected", zap.String("backend", config.CacheBackendMemory))
	return NewMemoryCache(p.Clock)
}
