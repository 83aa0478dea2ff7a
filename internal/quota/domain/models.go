package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusFrozen   SubscriptionStatus = "FROZEN"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

// UsageStatus is the reservation state machine. PENDING moves exactly once to
// one of the terminal states.
type UsageStatus string

const (
	UsageStatusPending UsageStatus = "PENDING"
	UsageStatusSuccess UsageStatus = "SUCCESS"
	UsageStatusFailed  UsageStatus = "FAILED"
	UsageStatusExpired UsageStatus = "EXPIRED"
)

func (s UsageStatus) Terminal() bool {
	switch s {
	case UsageStatusSuccess, UsageStatusFailed, UsageStatusExpired:
		return true
	default:
		return false
	}
}

// FailureType classifies why a caller committed a reservation as failed.
type FailureType string

const (
	FailureInternalError   FailureType = "internal_error"
	FailureTimeout         FailureType = "timeout"
	FailureRateLimited     FailureType = "rate_limited"
	FailureInvalidResponse FailureType = "invalid_response"
	FailureUpstreamError   FailureType = "upstream_error"
	FailureClientError     FailureType = "client_error"
	FailureValidationError FailureType = "validation_error"
)

func (f FailureType) Valid() bool {
	switch f {
	case FailureInternalError, FailureTimeout, FailureRateLimited, FailureInvalidResponse,
		FailureUpstreamError, FailureClientError, FailureValidationError:
		return true
	default:
		return false
	}
}

// WindowKind names a fixed rate-limit window.
type WindowKind string

const (
	WindowMinute WindowKind = "minute"
	WindowDay    WindowKind = "day"
)

func (w WindowKind) Size() time.Duration {
	if w == WindowDay {
		return 24 * time.Hour
	}
	return time.Minute
}

// Start returns the beginning of the window containing at.
func (w WindowKind) Start(at time.Time) time.Time {
	at = at.UTC()
	if w == WindowDay {
		return time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	}
	return at.Truncate(time.Minute)
}

// Plan is an immutable pricing tier for one product.
type Plan struct {
	ID                 snowflake.ID    `gorm:"primaryKey"`
	Code               string          `gorm:"type:text;not null;uniqueIndex"`
	Product            TenantType      `gorm:"type:text;not null"`
	Name               string          `gorm:"type:text;not null"`
	CreditsAllocation  int64           `gorm:"not null"`
	RateLimitPerMinute *int64          `gorm:""`
	RateLimitPerDay    *int64          `gorm:""`
	Multiplier         decimal.Decimal `gorm:"type:numeric(10,4);not null;default:1"`
	CreatedAt          time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// BillableCost applies the plan multiplier to an internal feature cost,
// rounding up to whole credits.
func (p Plan) BillableCost(internalCost int64) int64 {
	if internalCost <= 0 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(internalCost).Mul(multiplier).Ceil().IntPart()
}

// FeatureCost is the internal credit cost of one feature invocation.
type FeatureCost struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Product     TenantType   `gorm:"type:text;not null;uniqueIndex:uq_feature_costs_product_key,priority:1"`
	FeatureKey  string       `gorm:"type:text;not null;uniqueIndex:uq_feature_costs_product_key,priority:2"`
	CostCredits int64        `gorm:"not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FeatureCost) TableName() string { return "feature_costs" }

// Subscription binds a tenant to a plan.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey"`
	TenantType         TenantType         `gorm:"type:text;not null"`
	TenantID           string             `gorm:"type:text;not null"`
	PlanID             snowflake.ID       `gorm:"not null"`
	Status             SubscriptionStatus `gorm:"type:text;not null"`
	StartedAt          time.Time          `gorm:"not null"`
	CurrentPeriodStart *time.Time         `gorm:""`
	CurrentPeriodEnd   *time.Time         `gorm:""`
	CanceledAt         *time.Time         `gorm:""`
	CreatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

func (s Subscription) Tenant() TenantKey {
	return TenantKey{Type: s.TenantType, ID: s.TenantID}
}

// UsageRecord is the ledger entry for one feature invocation.
type UsageRecord struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	TenantType      TenantType   `gorm:"type:text;not null;uniqueIndex:uq_usage_records_request,priority:1"`
	TenantID        string       `gorm:"type:text;not null;uniqueIndex:uq_usage_records_request,priority:2"`
	SubscriptionID  snowflake.ID `gorm:"not null"`
	BalanceID       snowflake.ID `gorm:"not null"`
	RequestID       string       `gorm:"type:text;not null;uniqueIndex:uq_usage_records_request,priority:3"`
	Fingerprint     string       `gorm:"type:text;not null"`
	PayloadHash     string       `gorm:"type:text;not null"`
	FeatureKey      string       `gorm:"type:text;not null"`
	Endpoint        string       `gorm:"type:text;not null"`
	Method          string       `gorm:"type:text;not null"`
	CreditsReserved int64        `gorm:"not null"`
	CreditsCharged  *int64       `gorm:""`
	Status          UsageStatus  `gorm:"type:text;not null"`
	IsTest          bool         `gorm:"not null;default:false"`
	ModelUsed       *string      `gorm:"type:text"`
	InputTokens     *int64       `gorm:""`
	OutputTokens    *int64       `gorm:""`
	LatencyMS       *int64       `gorm:"column:latency_ms"`
	FailureType     *FailureType `gorm:"type:text"`
	FailureReason   *string      `gorm:"type:text"`
	ClientIP        *string      `gorm:"type:text"`
	UserAgent       *string      `gorm:"type:text"`
	CreatedAt       time.Time    `gorm:"not null"`
	CommittedAt     *time.Time   `gorm:""`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

func (r UsageRecord) Tenant() TenantKey {
	return TenantKey{Type: r.TenantType, ID: r.TenantID}
}

// Charged returns the credits charged, zero unless the record succeeded.
func (r UsageRecord) Charged() int64 {
	if r.CreditsCharged == nil {
		return 0
	}
	return *r.CreditsCharged
}

// UsageArtifact is the optional result payload of a successful commit.
type UsageArtifact struct {
	ID         snowflake.ID   `gorm:"primaryKey"`
	UsageID    snowflake.ID   `gorm:"not null;uniqueIndex"`
	TenantType TenantType     `gorm:"type:text;not null"`
	TenantID   string         `gorm:"type:text;not null"`
	FeatureKey string         `gorm:"type:text;not null"`
	Payload    datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"not null"`
}

// TableName sets the database table name.
func (UsageArtifact) TableName() string { return "usage_artifacts" }

// CreditBalance is the per-period aggregate that the reserve step updates
// conditionally. remaining = allocation - reserved - charged.
type CreditBalance struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	TenantType  TenantType   `gorm:"type:text;not null;uniqueIndex:uq_credit_balances_tenant_period,priority:1"`
	TenantID    string       `gorm:"type:text;not null;uniqueIndex:uq_credit_balances_tenant_period,priority:2"`
	PeriodStart time.Time    `gorm:"not null;uniqueIndex:uq_credit_balances_tenant_period,priority:3"`
	PeriodEnd   time.Time    `gorm:"not null"`
	Allocation  int64        `gorm:"not null"`
	Reserved    int64        `gorm:"not null;default:0"`
	Charged     int64        `gorm:"not null;default:0"`
	CreatedAt   time.Time    `gorm:"not null"`
	UpdatedAt   time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (CreditBalance) TableName() string { return "credit_balances" }

func (b CreditBalance) Remaining() int64 {
	return b.Allocation - b.Reserved - b.Charged
}

// RateCounter counts reservations inside one fixed window.
type RateCounter struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	TenantType  TenantType   `gorm:"type:text;not null;uniqueIndex:uq_rate_counters_window,priority:1"`
	TenantID    string       `gorm:"type:text;not null;uniqueIndex:uq_rate_counters_window,priority:2"`
	WindowKind  WindowKind   `gorm:"type:text;not null;uniqueIndex:uq_rate_counters_window,priority:3"`
	WindowStart time.Time    `gorm:"not null;uniqueIndex:uq_rate_counters_window,priority:4"`
	Count       int64        `gorm:"not null;default:0"`
	UpdatedAt   time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (RateCounter) TableName() string { return "rate_counters" }
