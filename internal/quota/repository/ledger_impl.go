package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	pkgdb "github.com/smallbiznis/creditgate/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ledger struct {
	genID *snowflake.Node
}

func Provide(genID *snowflake.Node) quotadomain.Ledger {
	return &ledger{genID: genID}
}

func (l *ledger) FindUsageByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*quotadomain.UsageRecord, error) {
	var record quotadomain.UsageRecord
	err := db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (l *ledger) FindUsageByRequest(ctx context.Context, db *gorm.DB, tenant quotadomain.TenantKey, requestID string) (*quotadomain.UsageRecord, error) {
	var record quotadomain.UsageRecord
	err := db.WithContext(ctx).
		Where("tenant_type = ? AND tenant_id = ? AND request_id = ?", tenant.Type, tenant.ID, strings.TrimSpace(requestID)).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (l *ledger) InsertUsage(ctx context.Context, db *gorm.DB, record *quotadomain.UsageRecord) error {
	if record == nil {
		return errors.New("missing_usage_record")
	}
	return db.WithContext(ctx).Create(record).Error
}

func (l *ledger) TransitionUsage(ctx context.Context, db *gorm.DB, t quotadomain.UsageTransition) (bool, error) {
	if !t.To.Terminal() {
		return false, fmt.Errorf("transition to %s is not terminal", t.To)
	}

	updates := map[string]any{
		"status":       t.To,
		"committed_at": t.At,
	}
	if t.CreditsCharged != nil {
		updates["credits_charged"] = *t.CreditsCharged
	}
	if t.ModelUsed != nil {
		updates["model_used"] = *t.ModelUsed
	}
	if t.InputTokens != nil {
		updates["input_tokens"] = *t.InputTokens
	}
	if t.OutputTokens != nil {
		updates["output_tokens"] = *t.OutputTokens
	}
	if t.LatencyMS != nil {
		updates["latency_ms"] = *t.LatencyMS
	}
	if t.FailureType != nil {
		updates["failure_type"] = *t.FailureType
	}
	if t.FailureReason != nil {
		updates["failure_reason"] = *t.FailureReason
	}

	result := db.WithContext(ctx).
		Model(&quotadomain.UsageRecord{}).
		Where("id = ? AND status = ?", t.ID, quotadomain.UsageStatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (l *ledger) LockStalePending(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]quotadomain.UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, tenant_type, tenant_id, balance_id, request_id, feature_key, credits_reserved, is_test, created_at
		 FROM usage_records
		 WHERE status = ? AND created_at < ?
		 ORDER BY created_at ASC
		 LIMIT ?`
	// sqlite has no row locks and runs a single writer anyway.
	if pkgdb.IsPostgres(db) {
		query += `
		 FOR UPDATE SKIP LOCKED`
	}

	var rows []quotadomain.UsageRecord
	err := db.WithContext(ctx).Raw(query, quotadomain.UsageStatusPending, cutoff, limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (l *ledger) SumUsage(ctx context.Context, db *gorm.DB, balanceID snowflake.ID) (quotadomain.UsageTotals, error) {
	var totals quotadomain.UsageTotals
	err := db.WithContext(ctx).Raw(
		`SELECT
		   COALESCE(SUM(CASE WHEN status = ? THEN credits_reserved ELSE 0 END), 0) AS reserved,
		   COALESCE(SUM(CASE WHEN status = ? THEN credits_charged ELSE 0 END), 0) AS charged,
		   COUNT(CASE WHEN status = ? THEN 1 END) AS pending
		 FROM usage_records
		 WHERE balance_id = ?`,
		quotadomain.UsageStatusPending,
		quotadomain.UsageStatusSuccess,
		quotadomain.UsageStatusPending,
		balanceID,
	).Scan(&totals).Error
	return totals, err
}

func (l *ledger) EnsureBalance(
	ctx context.Context,
	db *gorm.DB,
	tenant quotadomain.TenantKey,
	period quotadomain.Period,
	allocation int64,
	now time.Time,
) (*quotadomain.CreditBalance, error) {
	balance, err := l.FindBalance(ctx, db, tenant, period.Start)
	if err != nil || balance != nil {
		return balance, err
	}

	row := &quotadomain.CreditBalance{
		ID:          l.genID.Generate(),
		TenantType:  tenant.Type,
		TenantID:    tenant.ID,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Allocation:  allocation,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return nil, err
	}

	// A concurrent writer may have created the row first.
	balance, err = l.FindBalance(ctx, db, tenant, period.Start)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, errors.New("credit_balance_not_created")
	}
	return balance, nil
}

func (l *ledger) FindBalance(ctx context.Context, db *gorm.DB, tenant quotadomain.TenantKey, periodStart time.Time) (*quotadomain.CreditBalance, error) {
	var balance quotadomain.CreditBalance
	err := db.WithContext(ctx).
		Where("tenant_type = ? AND tenant_id = ? AND period_start = ?", tenant.Type, tenant.ID, periodStart).
		First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &balance, nil
}

func (l *ledger) ReserveCredits(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, credits int64, now time.Time) (bool, error) {
	if credits <= 0 {
		return true, nil
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_balances
		 SET reserved = reserved + ?, updated_at = ?
		 WHERE id = ? AND allocation - reserved - charged >= ?`,
		credits,
		now,
		balanceID,
		credits,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (l *ledger) ChargeCredits(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, credits int64, now time.Time) error {
	if credits <= 0 {
		return nil
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_balances
		 SET reserved = reserved - ?, charged = charged + ?, updated_at = ?
		 WHERE id = ? AND reserved >= ?`,
		credits,
		credits,
		now,
		balanceID,
		credits,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return quotadomain.ErrBalanceDrift
	}
	return nil
}

func (l *ledger) ReleaseCredits(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, credits int64, now time.Time) error {
	if credits <= 0 {
		return nil
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE credit_balances
		 SET reserved = reserved - ?, updated_at = ?
		 WHERE id = ? AND reserved >= ?`,
		credits,
		now,
		balanceID,
		credits,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return quotadomain.ErrBalanceDrift
	}
	return nil
}

func (l *ledger) SetAllocation(ctx context.Context, db *gorm.DB, tenant quotadomain.TenantKey, at time.Time, allocation int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE credit_balances
		 SET allocation = ?, updated_at = ?
		 WHERE tenant_type = ? AND tenant_id = ? AND period_start <= ? AND period_end > ?`,
		allocation,
		at,
		tenant.Type,
		tenant.ID,
		at,
		at,
	).Error
}

func (l *ledger) EnsureCounter(
	ctx context.Context,
	db *gorm.DB,
	tenant quotadomain.TenantKey,
	kind quotadomain.WindowKind,
	windowStart time.Time,
	now time.Time,
) (*quotadomain.RateCounter, error) {
	counter, err := l.FindCounter(ctx, db, tenant, kind, windowStart)
	if err != nil || counter != nil {
		return counter, err
	}

	row := &quotadomain.RateCounter{
		ID:          l.genID.Generate(),
		TenantType:  tenant.Type,
		TenantID:    tenant.ID,
		WindowKind:  kind,
		WindowStart: windowStart,
		UpdatedAt:   now,
	}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return nil, err
	}

	counter, err = l.FindCounter(ctx, db, tenant, kind, windowStart)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		return nil, errors.New("rate_counter_not_created")
	}
	return counter, nil
}

func (l *ledger) IncrementCounter(ctx context.Context, db *gorm.DB, counterID snowflake.ID, limit *int64, now time.Time) (bool, error) {
	var result *gorm.DB
	if limit == nil {
		result = db.WithContext(ctx).Exec(
			`UPDATE rate_counters SET count = count + 1, updated_at = ? WHERE id = ?`,
			now,
			counterID,
		)
	} else {
		result = db.WithContext(ctx).Exec(
			`UPDATE rate_counters SET count = count + 1, updated_at = ? WHERE id = ? AND count < ?`,
			now,
			counterID,
			*limit,
		)
	}
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (l *ledger) FindCounter(
	ctx context.Context,
	db *gorm.DB,
	tenant quotadomain.TenantKey,
	kind quotadomain.WindowKind,
	windowStart time.Time,
) (*quotadomain.RateCounter, error) {
	var counter quotadomain.RateCounter
	err := db.WithContext(ctx).
		Where("tenant_type = ? AND tenant_id = ? AND window_kind = ? AND window_start = ?", tenant.Type, tenant.ID, kind, windowStart).
		First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &counter, nil
}

func (l *ledger) PruneCounters(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(`DELETE FROM rate_counters WHERE window_start < ?`, before)
	return result.RowsAffected, result.Error
}

func (l *ledger) InsertArtifact(ctx context.Context, db *gorm.DB, artifact *quotadomain.UsageArtifact) error {
	if artifact == nil {
		return errors.New("missing_usage_artifact")
	}
	return db.WithContext(ctx).Create(artifact).Error
}

func (l *ledger) FindArtifact(ctx context.Context, db *gorm.DB, usageID snowflake.ID) (*quotadomain.UsageArtifact, error) {
	var artifact quotadomain.UsageArtifact
	err := db.WithContext(ctx).Where("usage_id = ?", usageID).First(&artifact).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &artifact, nil
}
