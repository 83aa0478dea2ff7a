package domain

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Access string

const (
	AccessAllow Access = "allow"
	AccessDeny  Access = "deny"
)

type ValidateRequest struct {
	Tenant      TenantKey
	RequestID   string
	FeatureKey  string
	Endpoint    string
	Method      string
	PayloadHash string
	IsTest      bool
	ClientIP    string
	UserAgent   string
}

type RateLimitStatus struct {
	Minute RateWindow
	Day    RateWindow
}

type ValidateResult struct {
	Access          Access
	UsageID         snowflake.ID
	CreditsReserved int64
	Message         string
	Denial          *Denial
	RateLimit       *RateLimitStatus
	Replayed        bool
	IsTest          bool
}

func (r ValidateResult) Allowed() bool {
	return r.Access == AccessAllow
}

type CommitMetrics struct {
	ModelUsed    string `json:"model_used"`
	InputTokens  *int64 `json:"input_tokens"`
	OutputTokens *int64 `json:"output_tokens"`
	LatencyMS    *int64 `json:"latency_ms"`
}

type CommitFailure struct {
	Type   FailureType `json:"failure_type"`
	Reason string      `json:"reason"`
}

type CommitRequest struct {
	Tenant     TenantKey
	UsageID    snowflake.ID
	Success    bool
	Metrics    *CommitMetrics
	Failure    *CommitFailure
	ResultData json.RawMessage
}

type CommitResult struct {
	UsageID        snowflake.ID
	Status         UsageStatus
	CreditsCharged int64
	Replayed       bool
	Message        string
}

// Service is the two-phase quota pipeline.
type Service interface {
	Validate(ctx context.Context, req ValidateRequest) (ValidateResult, error)
	Commit(ctx context.Context, req CommitRequest) (CommitResult, error)
	Snapshot(ctx context.Context, tenant TenantKey) (Snapshot, error)
}

var (
	ErrInvalidRequest      = errors.New("invalid_request")
	ErrInvalidTenant       = errors.New("invalid_tenant")
	ErrInvalidFeatureKey   = errors.New("invalid_feature_key")
	ErrInvalidFailureType  = errors.New("invalid_failure_type")
	ErrIdempotencyConflict = errors.New("idempotency_conflict")
	ErrUsageNotFound       = errors.New("usage_not_found")
	ErrUsageNotOwned       = errors.New("usage_not_owned")
	ErrFeatureNotPriced    = errors.New("feature_not_priced")
	ErrNoSubscription      = errors.New("no_subscription")
	ErrPlanNotFound        = errors.New("plan_not_found")
)
