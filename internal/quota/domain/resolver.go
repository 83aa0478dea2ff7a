package domain

import (
	"context"
	"time"
)

// Period is a half-open billing window [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p Period) Contains(at time.Time) bool {
	return !at.Before(p.Start) && at.Before(p.End)
}

// Resolution is the subscription and plan that govern a tenant.
type Resolution struct {
	Subscription Subscription
	Plan         Plan
}

func (r Resolution) Frozen() bool {
	return r.Subscription.Status == SubscriptionStatusFrozen
}

// PeriodAt returns the billing period containing now. The subscription's
// current period wins when it covers now; otherwise fixed rolling windows of
// fallbackDays are anchored at the period start or the subscription start.
func (r Resolution) PeriodAt(now time.Time, fallbackDays int) Period {
	now = now.UTC()
	sub := r.Subscription
	if sub.CurrentPeriodStart != nil && sub.CurrentPeriodEnd != nil {
		current := Period{Start: sub.CurrentPeriodStart.UTC(), End: sub.CurrentPeriodEnd.UTC()}
		if current.Contains(now) {
			return current
		}
	}

	if fallbackDays <= 0 {
		fallbackDays = 30
	}
	length := time.Duration(fallbackDays) * 24 * time.Hour

	anchor := sub.StartedAt.UTC()
	if sub.CurrentPeriodStart != nil {
		anchor = sub.CurrentPeriodStart.UTC()
	}
	if now.Before(anchor) {
		return Period{Start: anchor, End: anchor.Add(length)}
	}
	windows := now.Sub(anchor) / length
	start := anchor.Add(windows * length)
	return Period{Start: start, End: start.Add(length)}
}

// Resolver looks up the subscription, plan and feature pricing for a tenant.
type Resolver interface {
	// Resolve returns nil when the tenant has no ACTIVE or FROZEN subscription.
	Resolve(ctx context.Context, tenant TenantKey) (*Resolution, error)
	// FeatureCost returns nil when the feature has no price for the product.
	FeatureCost(ctx context.Context, product TenantType, featureKey string) (*FeatureCost, error)
	// Invalidate drops any cached resolution for the tenant.
	Invalidate(tenant TenantKey)
}
