package ratelimit

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyIngressTenant = "quota:ingress:%s:%s"

type IngressParams struct {
	fx.In

	Config  config.Config
	Client  *redis.Client `optional:"true"`
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

// IngressLimiter sheds bursts per tenant before they reach the ledger. It is
// a load guard only; plan rate limits are enforced by the validator.
type IngressLimiter struct {
	bucket  *TokenBucket
	limits  Bucket
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewIngressLimiter returns nil when redis or the ingress rate is not configured.
func NewIngressLimiter(p IngressParams) *IngressLimiter {
	rate := p.Config.Quota.IngressRate
	burst := p.Config.Quota.IngressBurst
	if p.Client == nil || rate <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(rate)
		if burst < 1 {
			burst = 1
		}
	}
	return &IngressLimiter{
		bucket:  NewTokenBucket(p.Client),
		limits:  Bucket{Rate: rate, Burst: burst},
		log:     p.Log.Named("ratelimit.ingress"),
		metrics: p.Metrics,
	}
}

func (l *IngressLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow fails open: a redis error admits the request and is logged.
func (l *IngressLimiter) Allow(ctx context.Context, tenant quotadomain.TenantKey, endpoint string) *RateLimitResult {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}
	}

	result, err := l.bucket.Allow(ctx, fmt.Sprintf(keyIngressTenant, tenant.Type, tenant.ID), l.limits)
	if err != nil {
		l.log.Warn("ingress limiter unavailable, admitting request",
			zap.String("tenant", tenant.String()),
			zap.Error(err),
		)
		return &RateLimitResult{Allowed: true}
	}

	if result.Allowed {
		l.metrics.RecordRateLimitAllowed(ctx, string(tenant.Type), endpoint)
	} else {
		l.metrics.RecordRateLimitDenied(ctx, string(tenant.Type), endpoint, "ingress")
	}
	return result
}
