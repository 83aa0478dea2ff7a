package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *quotadomain.Subscription) error
	// FindOpen returns the tenant's ACTIVE or FROZEN subscription, locking it
	// where the database supports row locks.
	FindOpen(ctx context.Context, db *gorm.DB, tenant quotadomain.TenantKey) (*quotadomain.Subscription, error)
	// UpdateStatus applies the change only while the row is still in from.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to quotadomain.SubscriptionStatus, at time.Time) (bool, error)
}

type Service interface {
	// Activate subscribes the tenant to a plan. An open subscription on a
	// different plan is canceled in the same transaction.
	Activate(ctx context.Context, req ActivateRequest) (*Response, error)
	Freeze(ctx context.Context, tenant quotadomain.TenantKey) (*Response, error)
	Unfreeze(ctx context.Context, tenant quotadomain.TenantKey) (*Response, error)
	Cancel(ctx context.Context, tenant quotadomain.TenantKey) (*Response, error)
}

type ActivateRequest struct {
	Tenant quotadomain.TenantKey `json:"-"`
	PlanID string                `json:"plan_id"`
}

var (
	ErrInvalidPlan         = errors.New("invalid_plan")
	ErrPlanNotFound        = errors.New("plan_not_found")
	ErrPlanProductMismatch = errors.New("plan_product_mismatch")
	ErrNotFound            = errors.New("subscription_not_found")
	ErrInvalidTransition   = errors.New("invalid_status_transition")
)
