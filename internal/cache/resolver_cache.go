package cache

import (
	"strings"
	"time"

	"github.com/smallbiznis/creditgate/internal/config"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
)

const defaultFeatureCostTTL = 10 * time.Minute

// ResolverCache stores hot-path subscription and pricing lookups for the validator.
type ResolverCache interface {
	GetResolution(tenant quotadomain.TenantKey) (quotadomain.Resolution, bool)
	SetResolution(tenant quotadomain.TenantKey, resolution quotadomain.Resolution)
	DeleteResolution(tenant quotadomain.TenantKey)
	GetFeatureCost(product quotadomain.TenantType, featureKey string) (quotadomain.FeatureCost, bool)
	SetFeatureCost(product quotadomain.TenantType, featureKey string, cost quotadomain.FeatureCost)
}

type resolverCache struct {
	resolutions  Cache[string, quotadomain.Resolution]
	featureCosts Cache[string, quotadomain.FeatureCost]
	policy       *config.QuotaPolicyHolder
	costTTL      time.Duration
}

// NewResolverCache returns an in-memory cache. The resolution TTL follows the
// live quota policy so operators can shorten it without a restart.
func NewResolverCache(policy *config.QuotaPolicyHolder) ResolverCache {
	return &resolverCache{
		resolutions:  NewTTLCache[string, quotadomain.Resolution](),
		featureCosts: NewTTLCache[string, quotadomain.FeatureCost](),
		policy:       policy,
		costTTL:      defaultFeatureCostTTL,
	}
}

func (c *resolverCache) GetResolution(tenant quotadomain.TenantKey) (quotadomain.Resolution, bool) {
	return c.resolutions.Get(cacheKey(string(tenant.Type), tenant.ID))
}

func (c *resolverCache) SetResolution(tenant quotadomain.TenantKey, resolution quotadomain.Resolution) {
	if resolution.Subscription.ID == 0 {
		return
	}
	ttl := c.policy.Get().ResolverTTL
	if ttl <= 0 {
		return
	}
	c.resolutions.Set(cacheKey(string(tenant.Type), tenant.ID), resolution, ttl)
}

func (c *resolverCache) DeleteResolution(tenant quotadomain.TenantKey) {
	c.resolutions.Delete(cacheKey(string(tenant.Type), tenant.ID))
}

func (c *resolverCache) GetFeatureCost(product quotadomain.TenantType, featureKey string) (quotadomain.FeatureCost, bool) {
	return c.featureCosts.Get(cacheKey(string(product), featureKey))
}

func (c *resolverCache) SetFeatureCost(product quotadomain.TenantType, featureKey string, cost quotadomain.FeatureCost) {
	if cost.ID == 0 {
		return
	}
	c.featureCosts.Set(cacheKey(string(product), featureKey), cost, c.costTTL)
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, trimmed)
	}
	return strings.Join(values, "|")
}
