package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/internal/notify"
	obsmetrics "github.com/smallbiznis/creditgate/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"github.com/smallbiznis/creditgate/internal/quota/snapshot"
	"github.com/smallbiznis/creditgate/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Ledger     quotadomain.Ledger
	Loader     *snapshot.Loader
	Clock      clock.Clock
	Policy     *config.QuotaPolicyHolder
	Config     Config                     `optional:"true"`
	Locker     *ratelimit.Locker          `optional:"true"`
	Dispatcher *notify.Dispatcher         `optional:"true"`
	Metrics    *obsmetrics.Metrics        `optional:"true"`
	Sweeper    *obsmetrics.SweeperMetrics `optional:"true"`
}

// Worker expires PENDING reservations that outlived the grace window and
// releases their credits.
type Worker struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	ledger     quotadomain.Ledger
	loader     *snapshot.Loader
	clock      clock.Clock
	policy     *config.QuotaPolicyHolder
	locker     *ratelimit.Locker
	dispatcher *notify.Dispatcher
	metrics    *obsmetrics.Metrics
	sweeper    *obsmetrics.SweeperMetrics
}

// Result summarizes one sweep.
type Result struct {
	Expired  int
	Skipped  int
	Pruned   int64
	Deferred string
}

var ErrInvalidConfig = errors.New("sweeper: missing dependencies")

func New(p Params) (*Worker, error) {
	if p.DB == nil || p.Log == nil || p.Ledger == nil || p.Loader == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Worker{
		db:         p.DB,
		log:        p.Log.Named("quota.sweeper").With(zap.String("component", "sweeper")),
		cfg:        p.Config.withDefaults(),
		ledger:     p.Ledger,
		loader:     p.Loader,
		clock:      p.Clock,
		policy:     p.Policy,
		locker:     p.Locker,
		dispatcher: p.Dispatcher,
		metrics:    p.Metrics,
		sweeper:    p.Sweeper,
	}, nil
}

func (w *Worker) RunForever(ctx context.Context) {
	interval := w.policy.Get().SweepInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()
	nextRun := time.Now().Add(interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if lag := time.Since(nextRun); lag > 0 {
			w.sweeper.ObserveRunLoopLag(lag)
		}
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("sweep failed", zap.Error(err))
		}

		// The interval is re-read so a policy reload takes effect on the next tick.
		interval = w.policy.Get().SweepInterval
		nextRun = time.Now().Add(interval)
		timer.Reset(interval)
	}
}

// RunOnce expires every stale reservation in batches and prunes old rate counters.
func (w *Worker) RunOnce(parent context.Context) (Result, error) {
	const job = obsmetrics.SweeperJobExpireReservations
	policy := w.policy.Get()
	started := time.Now()

	w.sweeper.IncJobRun(job)
	defer func() { w.sweeper.ObserveJobDuration(job, time.Since(started)) }()

	ctx, cancel := context.WithTimeout(parent, w.cfg.RunTimeout)
	defer cancel()

	var lease *ratelimit.Lease
	if w.cfg.LeaderLock && w.locker != nil {
		var err error
		lease, err = w.locker.Acquire(ctx, leaderLockKey, policy.SweepInterval)
		switch {
		case err != nil:
			// Redis trouble must not stop expiry; row locks and guarded updates keep replicas apart.
			w.log.Warn("sweeper leader lock unavailable", zap.Error(err))
			w.sweeper.IncJobError(job, err)
		case lease == nil:
			w.sweeper.IncBatchDeferred(job, obsmetrics.SweeperDeferredNotLeader)
			return Result{Deferred: obsmetrics.SweeperDeferredNotLeader}, nil
		default:
			defer func() {
				if err := lease.Release(context.Background()); err != nil {
					w.log.Warn("release sweeper leader lock", zap.Error(err))
				}
			}()
		}
	}

	var (
		result Result
		errs   error
	)
	now := w.clock.Now()
	cutoff := now.Add(-policy.GraceWindow)

	for batch := 0; batch < w.cfg.MaxBatches; batch++ {
		expired, skipped, selected, err := w.expireBatch(ctx, cutoff, policy.SweepBatchSize)
		result.Expired += expired
		result.Skipped += skipped
		errs = multierr.Append(errs, err)
		if err != nil || selected < policy.SweepBatchSize {
			break
		}
		if lease != nil {
			if held, err := lease.Extend(ctx, policy.SweepInterval); err != nil || !held {
				w.log.Warn("sweeper leader lease lost, stopping early", zap.Error(err))
				break
			}
		}
	}
	if result.Expired == 0 && result.Skipped == 0 && errs == nil {
		w.sweeper.IncBatchDeferred(job, obsmetrics.SweeperDeferredSkipLockedEmpty)
	}
	w.sweeper.AddBatchProcessed(job, obsmetrics.SweeperResourceUsageRecords, result.Expired)

	pruned, err := w.ledger.PruneCounters(ctx, w.db, now.Add(-w.cfg.CounterKeep))
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("prune counters: %w", err))
	}
	result.Pruned = pruned

	if errs != nil {
		if errors.Is(errs, context.DeadlineExceeded) {
			w.sweeper.IncJobTimeout(job)
		}
		w.sweeper.IncJobError(job, errs)
	}
	if result.Expired > 0 || errs != nil {
		w.log.Info("sweep finished",
			zap.Int("expired", result.Expired),
			zap.Int("skipped", result.Skipped),
			zap.Int64("pruned_counters", result.Pruned),
			zap.Duration("duration", time.Since(started)),
			zap.Error(errs),
		)
	}
	return result, errs
}

// expireBatch selects stale rows and expires them inside the same
// transaction, so the SKIP LOCKED row locks are held until the batch commits
// and another replica selects a disjoint set. Each row runs in a savepoint; a
// failed row rolls back alone. A row another writer closed in between is
// skipped, not an error.
func (w *Worker) expireBatch(ctx context.Context, cutoff time.Time, limit int) (int, int, int, error) {
	var (
		selected int
		skipped  int
		closed   []quotadomain.UsageRecord
		rowErrs  error
	)
	now := w.clock.Now()

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lockStart := time.Now()
		rows, err := w.ledger.LockStalePending(ctx, tx, cutoff, limit)
		w.sweeper.ObserveDBLockWait(time.Since(lockStart))
		if err != nil {
			return fmt.Errorf("select stale reservations: %w", err)
		}
		selected = len(rows)

		for i := range rows {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			won, err := w.expireRow(ctx, tx, rows[i], now)
			if err != nil {
				w.log.Error("expire reservation",
					zap.String("usage_id", rows[i].ID.String()),
					zap.String("tenant", rows[i].Tenant().String()),
					zap.Error(err),
				)
				rowErrs = multierr.Append(rowErrs, err)
				continue
			}
			if !won {
				skipped++
				continue
			}
			closed = append(closed, rows[i])
		}
		return nil
	})
	if err != nil {
		return 0, 0, selected, multierr.Append(rowErrs, err)
	}

	for _, row := range closed {
		w.afterExpire(ctx, row, now)
	}
	return len(closed), skipped, selected, rowErrs
}

// expireRow moves one row to EXPIRED and releases its credits inside a
// savepoint of the batch transaction.
func (w *Worker) expireRow(parent context.Context, tx *gorm.DB, row quotadomain.UsageRecord, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(parent, w.cfg.RowTimeout)
	defer cancel()

	won := false
	err := tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		ok, err := w.ledger.TransitionUsage(ctx, sp, quotadomain.UsageTransition{
			ID: row.ID,
			To: quotadomain.UsageStatusExpired,
			At: now,
		})
		if err != nil {
			return fmt.Errorf("transition usage %s: %w", row.ID, err)
		}
		if !ok {
			return nil
		}
		won = true
		if err := w.ledger.ReleaseCredits(ctx, sp, row.BalanceID, row.CreditsReserved, now); err != nil {
			return fmt.Errorf("release credits for %s: %w", row.ID, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (w *Worker) afterExpire(ctx context.Context, row quotadomain.UsageRecord, now time.Time) {
	row.Status = quotadomain.UsageStatusExpired
	row.CommittedAt = &now
	w.loader.Invalidate(ctx, row.Tenant())
	w.metrics.RecordExpired(ctx, string(row.TenantType))
	w.dispatcher.Dispatch(notify.TopicUsageExpired, quotadomain.NewUsageEvent(row, now))
	w.log.Debug("reservation expired",
		zap.String("usage_id", row.ID.String()),
		zap.String("tenant", row.Tenant().String()),
		zap.Int64("credits_released", row.CreditsReserved),
	)
}
