package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// UsageTransition moves a PENDING record to a terminal state.
type UsageTransition struct {
	ID             snowflake.ID
	To             UsageStatus
	CreditsCharged *int64
	ModelUsed      *string
	InputTokens    *int64
	OutputTokens   *int64
	LatencyMS      *int64
	FailureType    *FailureType
	FailureReason  *string
	At             time.Time
}

// UsageTotals aggregates the usage records booked against one balance.
type UsageTotals struct {
	Reserved int64
	Charged  int64
	Pending  int64
}

// Ledger is the source of truth. Every method takes the handle to run on so
// callers can compose several statements into one transaction.
type Ledger interface {
	FindUsageByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*UsageRecord, error)
	FindUsageByRequest(ctx context.Context, db *gorm.DB, tenant TenantKey, requestID string) (*UsageRecord, error)
	InsertUsage(ctx context.Context, db *gorm.DB, record *UsageRecord) error
	// TransitionUsage applies the transition only while the row is PENDING and
	// reports whether this caller won.
	TransitionUsage(ctx context.Context, db *gorm.DB, t UsageTransition) (bool, error)
	LockStalePending(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]UsageRecord, error)
	SumUsage(ctx context.Context, db *gorm.DB, balanceID snowflake.ID) (UsageTotals, error)

	EnsureBalance(ctx context.Context, db *gorm.DB, tenant TenantKey, period Period, allocation int64, now time.Time) (*CreditBalance, error)
	FindBalance(ctx context.Context, db *gorm.DB, tenant TenantKey, periodStart time.Time) (*CreditBalance, error)
	// ReserveCredits succeeds only when the balance still covers credits.
	ReserveCredits(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, credits int64, now time.Time) (bool, error)
	ChargeCredits(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, credits int64, now time.Time) error
	ReleaseCredits(ctx context.Context, db *gorm.DB, balanceID snowflake.ID, credits int64, now time.Time) error
	SetAllocation(ctx context.Context, db *gorm.DB, tenant TenantKey, at time.Time, allocation int64) error

	EnsureCounter(ctx context.Context, db *gorm.DB, tenant TenantKey, kind WindowKind, windowStart time.Time, now time.Time) (*RateCounter, error)
	// IncrementCounter succeeds only while count is below limit. A nil limit never blocks.
	IncrementCounter(ctx context.Context, db *gorm.DB, counterID snowflake.ID, limit *int64, now time.Time) (bool, error)
	FindCounter(ctx context.Context, db *gorm.DB, tenant TenantKey, kind WindowKind, windowStart time.Time) (*RateCounter, error)
	PruneCounters(ctx context.Context, db *gorm.DB, before time.Time) (int64, error)

	InsertArtifact(ctx context.Context, db *gorm.DB, artifact *UsageArtifact) error
	FindArtifact(ctx context.Context, db *gorm.DB, usageID snowflake.ID) (*UsageArtifact, error)
}

var (
	ErrInsufficientCredits = errors.New("insufficient_credits")
	ErrWindowFull          = errors.New("rate_window_full")
	ErrBalanceDrift        = errors.New("balance_drift")
)
