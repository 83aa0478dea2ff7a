package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	lookupHit   = "hit"
	lookupMiss  = "miss"
	lookupError = "error"
	lookupStale = "stale"
)

type LoaderParams struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Cache    Cache
	Ledger   quotadomain.Ledger
	Resolver quotadomain.Resolver
	Clock    clock.Clock
	Policy   *config.QuotaPolicyHolder
	Metrics  *metrics.Metrics `optional:"true"`
}

// Loader is the read-through path in front of the ledger.
type Loader struct {
	db       *gorm.DB
	log      *zap.Logger
	cache    Cache
	ledger   quotadomain.Ledger
	resolver quotadomain.Resolver
	clock    clock.Clock
	policy   *config.QuotaPolicyHolder
	metrics  *metrics.Metrics
}

func NewLoader(p LoaderParams) *Loader {
	return &Loader{
		db:       p.DB,
		log:      p.Log.Named("quota.snapshot"),
		cache:    p.Cache,
		ledger:   p.Ledger,
		resolver: p.Resolver,
		clock:    p.Clock,
		policy:   p.Policy,
		metrics:  p.Metrics,
	}
}

// Load returns the tenant snapshot as of now. Cache failures degrade to a
// ledger recompute and are never returned. A tenant without an ACTIVE or
// FROZEN subscription yields ErrNoSubscription.
func (l *Loader) Load(ctx context.Context, tenant quotadomain.TenantKey) (quotadomain.Snapshot, error) {
	now := l.clock.Now()

	snap, ok, err := l.cache.Get(ctx, tenant)
	switch {
	case err != nil:
		l.metrics.RecordSnapshotLookup(ctx, l.cache.Backend(), lookupError)
		l.log.Warn("snapshot cache read failed", zap.String("tenant", tenant.String()), zap.Error(err))
	case ok && snap.Period.Contains(now):
		l.metrics.RecordSnapshotLookup(ctx, l.cache.Backend(), lookupHit)
		return snap.At(now), nil
	case ok:
		l.metrics.RecordSnapshotLookup(ctx, l.cache.Backend(), lookupStale)
	default:
		l.metrics.RecordSnapshotLookup(ctx, l.cache.Backend(), lookupMiss)
	}

	res, err := l.resolver.Resolve(ctx, tenant)
	if err != nil {
		return quotadomain.Snapshot{}, err
	}
	if res == nil {
		return quotadomain.Snapshot{}, quotadomain.ErrNoSubscription
	}
	return l.Refresh(ctx, *res)
}

// Refresh recomputes the snapshot for a known resolution and stores it unless
// the tenant was invalidated while the ledger was being read.
func (l *Loader) Refresh(ctx context.Context, res quotadomain.Resolution) (quotadomain.Snapshot, error) {
	tenant := res.Subscription.Tenant()
	gen, genErr := l.cache.Generation(ctx, tenant)
	if genErr != nil {
		l.log.Warn("snapshot generation read failed", zap.String("tenant", tenant.String()), zap.Error(genErr))
	}

	snap, err := l.Compute(ctx, l.db, res, l.clock.Now())
	if err != nil {
		return quotadomain.Snapshot{}, err
	}
	if genErr != nil {
		return snap, nil
	}

	stored, err := l.cache.Put(ctx, tenant, snap, gen, l.policy.Get().SnapshotTTL)
	switch {
	case err != nil:
		l.log.Warn("snapshot cache write failed", zap.String("tenant", tenant.String()), zap.Error(err))
	case !stored:
		l.log.Debug("snapshot superseded by invalidation", zap.String("tenant", tenant.String()))
	}
	return snap, nil
}

// Compute derives a snapshot from the ledger without touching the cache.
func (l *Loader) Compute(ctx context.Context, db *gorm.DB, res quotadomain.Resolution, now time.Time) (quotadomain.Snapshot, error) {
	tenant := res.Subscription.Tenant()
	period := res.PeriodAt(now, l.policy.Get().FallbackPeriodDays)

	snap := quotadomain.Snapshot{
		Tenant:             tenant,
		SubscriptionID:     res.Subscription.ID,
		SubscriptionStatus: res.Subscription.Status,
		PlanCode:           res.Plan.Code,
		Period:             period,
		CreditsAllocation:  res.Plan.CreditsAllocation,
		Minute: quotadomain.RateWindow{
			Kind:        quotadomain.WindowMinute,
			Limit:       res.Plan.RateLimitPerMinute,
			WindowStart: quotadomain.WindowMinute.Start(now),
		},
		Day: quotadomain.RateWindow{
			Kind:        quotadomain.WindowDay,
			Limit:       res.Plan.RateLimitPerDay,
			WindowStart: quotadomain.WindowDay.Start(now),
		},
		ComputedAt: now,
	}

	balance, err := l.ledger.FindBalance(ctx, db, tenant, period.Start)
	if err != nil {
		return quotadomain.Snapshot{}, fmt.Errorf("load balance: %w", err)
	}
	if balance != nil {
		totals, err := l.ledger.SumUsage(ctx, db, balance.ID)
		if err != nil {
			return quotadomain.Snapshot{}, fmt.Errorf("sum usage: %w", err)
		}
		if totals.Reserved != balance.Reserved || totals.Charged != balance.Charged {
			l.log.Error("credit balance drifted from usage records",
				zap.String("tenant", tenant.String()),
				zap.String("balance_id", balance.ID.String()),
				zap.Int64("balance_reserved", balance.Reserved),
				zap.Int64("records_reserved", totals.Reserved),
				zap.Int64("balance_charged", balance.Charged),
				zap.Int64("records_charged", totals.Charged),
			)
		}
		snap.CreditsAllocation = balance.Allocation
		snap.CreditsReserved = totals.Reserved
		snap.CreditsUsedThisPeriod = totals.Charged
	}
	snap.CreditsRemaining = snap.CreditsAllocation - snap.CreditsReserved - snap.CreditsUsedThisPeriod

	for _, window := range []*quotadomain.RateWindow{&snap.Minute, &snap.Day} {
		counter, err := l.ledger.FindCounter(ctx, db, tenant, window.Kind, window.WindowStart)
		if err != nil {
			return quotadomain.Snapshot{}, fmt.Errorf("load %s counter: %w", window.Kind, err)
		}
		if counter != nil {
			window.Count = counter.Count
		}
	}

	return snap, nil
}

// Invalidate drops the cached snapshot. Failures are logged; the entry then
// expires with its TTL.
func (l *Loader) Invalidate(ctx context.Context, tenant quotadomain.TenantKey) {
	if err := l.cache.Invalidate(ctx, tenant); err != nil {
		l.log.Warn("snapshot invalidation failed", zap.String("tenant", tenant.String()), zap.Error(err))
	}
}
