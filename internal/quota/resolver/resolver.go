package resolver

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/creditgate/internal/cache"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cache cache.ResolverCache `optional:"true"`
}

type Resolver struct {
	db    *gorm.DB
	log   *zap.Logger
	cache cache.ResolverCache
}

func New(p Params) quotadomain.Resolver {
	return &Resolver{
		db:    p.DB,
		log:   p.Log.Named("quota.resolver"),
		cache: p.Cache,
	}
}

func (r *Resolver) Resolve(ctx context.Context, tenant quotadomain.TenantKey) (*quotadomain.Resolution, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	if r.cache != nil {
		if cached, ok := r.cache.GetResolution(tenant); ok {
			return &cached, nil
		}
	}

	var sub quotadomain.Subscription
	err := r.db.WithContext(ctx).
		Where("tenant_type = ? AND tenant_id = ? AND status IN ?", tenant.Type, tenant.ID,
			[]quotadomain.SubscriptionStatus{quotadomain.SubscriptionStatusActive, quotadomain.SubscriptionStatusFrozen}).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var plan quotadomain.Plan
	if err := r.db.WithContext(ctx).Where("id = ?", sub.PlanID).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.log.Error("subscription references missing plan",
				zap.String("tenant", tenant.String()),
				zap.String("subscription_id", sub.ID.String()),
				zap.String("plan_id", sub.PlanID.String()),
			)
			return nil, quotadomain.ErrPlanNotFound
		}
		return nil, err
	}

	resolution := quotadomain.Resolution{Subscription: sub, Plan: plan}
	if r.cache != nil {
		r.cache.SetResolution(tenant, resolution)
	}
	return &resolution, nil
}

func (r *Resolver) FeatureCost(ctx context.Context, product quotadomain.TenantType, featureKey string) (*quotadomain.FeatureCost, error) {
	featureKey = strings.TrimSpace(featureKey)
	if r.cache != nil {
		if cached, ok := r.cache.GetFeatureCost(product, featureKey); ok {
			return &cached, nil
		}
	}

	var cost quotadomain.FeatureCost
	err := r.db.WithContext(ctx).
		Where("product = ? AND feature_key = ?", product, featureKey).
		First(&cost).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if r.cache != nil {
		r.cache.SetFeatureCost(product, featureKey, cost)
	}
	return &cost, nil
}

func (r *Resolver) Invalidate(tenant quotadomain.TenantKey) {
	if r.cache != nil {
		r.cache.DeleteResolution(tenant)
	}
}
