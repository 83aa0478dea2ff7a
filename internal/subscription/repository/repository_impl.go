package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	subscriptiondomain "github.com/smallbiznis/creditgate/internal/subscription/domain"
	pkgdb "github.com/smallbiznis/creditgate/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *quotadomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, tenant_type, tenant_id, plan_id, status, started_at,
			current_period_start, current_period_end, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.TenantType,
		sub.TenantID,
		sub.PlanID,
		sub.Status,
		sub.StartedAt,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) FindOpen(ctx context.Context, db *gorm.DB, tenant quotadomain.TenantKey) (*quotadomain.Subscription, error) {
	query := `SELECT id, tenant_type, tenant_id, plan_id, status, started_at,
		current_period_start, current_period_end, canceled_at, created_at, updated_at
		 FROM subscriptions
		 WHERE tenant_type = ? AND tenant_id = ? AND status IN (?, ?)
		 ORDER BY created_at DESC
		 LIMIT 1`
	if pkgdb.IsPostgres(db) {
		query += ` FOR UPDATE`
	}

	var sub quotadomain.Subscription
	err := db.WithContext(ctx).Raw(
		query,
		tenant.Type,
		tenant.ID,
		quotadomain.SubscriptionStatusActive,
		quotadomain.SubscriptionStatusFrozen,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) UpdateStatus(
	ctx context.Context,
	db *gorm.DB,
	id snowflake.ID,
	from, to quotadomain.SubscriptionStatus,
	at time.Time,
) (bool, error) {
	var canceledAt *time.Time
	if to == quotadomain.SubscriptionStatusCanceled {
		canceledAt = &at
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, canceled_at = COALESCE(?, canceled_at), updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		canceledAt,
		at,
		id,
		from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
