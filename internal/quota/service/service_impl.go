package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/internal/notify"
	"github.com/smallbiznis/creditgate/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"github.com/smallbiznis/creditgate/internal/quota/snapshot"
	pkgdb "github.com/smallbiznis/creditgate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	outcomeAllow = "allow"
	outcomeDeny  = "deny"

	testKeyMessage = "Access granted (test key - no credits charged)."
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Ledger     quotadomain.Ledger
	Resolver   quotadomain.Resolver
	Loader     *snapshot.Loader
	Clock      clock.Clock
	Policy     *config.QuotaPolicyHolder
	Dispatcher *notify.Dispatcher `optional:"true"`
	Metrics    *metrics.Metrics   `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	ledger     quotadomain.Ledger
	resolver   quotadomain.Resolver
	loader     *snapshot.Loader
	clock      clock.Clock
	policy     *config.QuotaPolicyHolder
	dispatcher *notify.Dispatcher
	metrics    *metrics.Metrics
}

func New(p Params) quotadomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("quota.service"),
		genID:      p.GenID,
		ledger:     p.Ledger,
		resolver:   p.Resolver,
		loader:     p.Loader,
		clock:      p.Clock,
		policy:     p.Policy,
		dispatcher: p.Dispatcher,
		metrics:    p.Metrics,
	}
}

// windowFullError reports which rate window refused the conditional increment.
type windowFullError struct {
	window quotadomain.RateWindow
}

func (e windowFullError) Error() string {
	return fmt.Sprintf("%s window full", e.window.Kind)
}

func (e windowFullError) Unwrap() error {
	return quotadomain.ErrWindowFull
}

func (s *Service) Validate(ctx context.Context, req quotadomain.ValidateRequest) (quotadomain.ValidateResult, error) {
	req, err := normalizeValidateRequest(req)
	if err != nil {
		return quotadomain.ValidateResult{}, err
	}
	fingerprint := quotadomain.Fingerprint(req)

	existing, err := s.ledger.FindUsageByRequest(ctx, s.db, req.Tenant, req.RequestID)
	if err != nil {
		return quotadomain.ValidateResult{}, fmt.Errorf("lookup request: %w", err)
	}
	if existing != nil {
		return s.replayValidate(ctx, req, existing, fingerprint)
	}

	res, err := s.resolver.Resolve(ctx, req.Tenant)
	if err != nil {
		return quotadomain.ValidateResult{}, fmt.Errorf("resolve subscription: %w", err)
	}
	if res == nil {
		return s.deny(ctx, req, quotadomain.NoSubscriptionDenial(req.Tenant.Type), nil), nil
	}
	if res.Frozen() {
		return s.deny(ctx, req, quotadomain.FrozenDenial(), nil), nil
	}

	featureCost, err := s.resolver.FeatureCost(ctx, req.Tenant.Type, req.FeatureKey)
	if err != nil {
		return quotadomain.ValidateResult{}, fmt.Errorf("lookup feature cost: %w", err)
	}
	if featureCost == nil {
		s.log.Error("feature has no price for product",
			zap.String("product", string(req.Tenant.Type)),
			zap.String("feature_key", req.FeatureKey),
			zap.String("plan_code", res.Plan.Code),
		)
		return quotadomain.ValidateResult{}, quotadomain.ErrFeatureNotPriced
	}

	credits := res.Plan.BillableCost(featureCost.CostCredits)
	if req.IsTest {
		credits = 0
	}

	snap, err := s.loader.Load(ctx, req.Tenant)
	if err != nil {
		if errors.Is(err, quotadomain.ErrNoSubscription) {
			return s.deny(ctx, req, quotadomain.NoSubscriptionDenial(req.Tenant.Type), nil), nil
		}
		return quotadomain.ValidateResult{}, fmt.Errorf("load snapshot: %w", err)
	}

	now := s.clock.Now()
	if window, exhausted := snap.ExhaustedWindow(); exhausted {
		return s.deny(ctx, req, quotadomain.RateLimitedDenial(window, now), rateStatus(snap)), nil
	}
	if credits > 0 && credits > snap.CreditsRemaining {
		denial := quotadomain.QuotaExceededDenial(snap.CreditsUsedThisPeriod, snap.CreditsAllocation, credits)
		return s.deny(ctx, req, denial, rateStatus(snap)), nil
	}

	record, status, err := s.reserve(ctx, req, *res, fingerprint, credits, now)
	if err != nil {
		return s.handleReserveError(ctx, req, *res, fingerprint, credits, now, err)
	}
	s.loader.Invalidate(ctx, req.Tenant)

	message := fmt.Sprintf("Access granted. %d credits remaining after this request.", snap.CreditsRemaining-credits)
	if record.IsTest {
		message = testKeyMessage
	}
	s.metrics.RecordValidate(ctx, string(req.Tenant.Type), req.FeatureKey, outcomeAllow, "", credits)
	s.log.Debug("usage reserved",
		zap.String("tenant", req.Tenant.String()),
		zap.String("usage_id", record.ID.String()),
		zap.String("request_id", req.RequestID),
		zap.String("feature_key", req.FeatureKey),
		zap.Int64("credits", credits),
	)

	return quotadomain.ValidateResult{
		Access:          quotadomain.AccessAllow,
		UsageID:         record.ID,
		CreditsReserved: record.CreditsReserved,
		Message:         message,
		RateLimit:       &status,
		IsTest:          record.IsTest,
	}, nil
}

// reserve runs the PENDING insert, the counter increments and the credit
// reservation in one transaction. Any refusal rolls all of them back.
func (s *Service) reserve(
	ctx context.Context,
	req quotadomain.ValidateRequest,
	res quotadomain.Resolution,
	fingerprint string,
	credits int64,
	now time.Time,
) (*quotadomain.UsageRecord, quotadomain.RateLimitStatus, error) {
	period := res.PeriodAt(now, s.policy.Get().FallbackPeriodDays)
	windows := []quotadomain.RateWindow{
		{Kind: quotadomain.WindowMinute, Limit: res.Plan.RateLimitPerMinute, WindowStart: quotadomain.WindowMinute.Start(now)},
		{Kind: quotadomain.WindowDay, Limit: res.Plan.RateLimitPerDay, WindowStart: quotadomain.WindowDay.Start(now)},
	}

	var record *quotadomain.UsageRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.ledger.EnsureBalance(ctx, tx, req.Tenant, period, res.Plan.CreditsAllocation, now)
		if err != nil {
			return fmt.Errorf("ensure balance: %w", err)
		}

		record = &quotadomain.UsageRecord{
			ID:              s.genID.Generate(),
			TenantType:      req.Tenant.Type,
			TenantID:        req.Tenant.ID,
			SubscriptionID:  res.Subscription.ID,
			BalanceID:       balance.ID,
			RequestID:       req.RequestID,
			Fingerprint:     fingerprint,
			PayloadHash:     req.PayloadHash,
			FeatureKey:      req.FeatureKey,
			Endpoint:        req.Endpoint,
			Method:          req.Method,
			CreditsReserved: credits,
			Status:          quotadomain.UsageStatusPending,
			IsTest:          req.IsTest,
			ClientIP:        optionalString(req.ClientIP),
			UserAgent:       optionalString(req.UserAgent),
			CreatedAt:       now,
		}
		// A duplicate request_id fails here, ahead of the capacity checks.
		if err := s.ledger.InsertUsage(ctx, tx, record); err != nil {
			return err
		}

		for i := range windows {
			window := &windows[i]
			counter, err := s.ledger.EnsureCounter(ctx, tx, req.Tenant, window.Kind, window.WindowStart, now)
			if err != nil {
				return fmt.Errorf("ensure %s counter: %w", window.Kind, err)
			}
			ok, err := s.ledger.IncrementCounter(ctx, tx, counter.ID, window.Limit, now)
			if err != nil {
				return fmt.Errorf("increment %s counter: %w", window.Kind, err)
			}
			if !ok {
				if window.Limit != nil {
					window.Count = *window.Limit
				}
				return windowFullError{window: *window}
			}
			window.Count = counter.Count + 1
		}

		ok, err := s.ledger.ReserveCredits(ctx, tx, balance.ID, credits, now)
		if err != nil {
			return fmt.Errorf("reserve credits: %w", err)
		}
		if !ok {
			return quotadomain.ErrInsufficientCredits
		}
		return nil
	})
	if err != nil {
		return nil, quotadomain.RateLimitStatus{}, err
	}
	return record, quotadomain.RateLimitStatus{Minute: windows[0], Day: windows[1]}, nil
}

func (s *Service) handleReserveError(
	ctx context.Context,
	req quotadomain.ValidateRequest,
	res quotadomain.Resolution,
	fingerprint string,
	credits int64,
	now time.Time,
	err error,
) (quotadomain.ValidateResult, error) {
	var full windowFullError
	switch {
	case errors.As(err, &full):
		// The cached snapshot undercounted; drop it so the next call sees the ledger.
		s.loader.Invalidate(ctx, req.Tenant)
		return s.deny(ctx, req, quotadomain.RateLimitedDenial(full.window, now), nil), nil

	case errors.Is(err, quotadomain.ErrInsufficientCredits):
		s.loader.Invalidate(ctx, req.Tenant)
		denial := quotadomain.QuotaExceededDenial(0, res.Plan.CreditsAllocation, credits)
		var status *quotadomain.RateLimitStatus
		if fresh, loadErr := s.loader.Refresh(ctx, res); loadErr == nil {
			denial = quotadomain.QuotaExceededDenial(fresh.CreditsUsedThisPeriod, fresh.CreditsAllocation, credits)
			status = rateStatus(fresh)
		}
		return s.deny(ctx, req, denial, status), nil

	case pkgdb.IsDuplicateKeyErr(err):
		// A concurrent validate with the same request_id committed first.
		existing, lookupErr := s.ledger.FindUsageByRequest(ctx, s.db, req.Tenant, req.RequestID)
		if lookupErr != nil {
			return quotadomain.ValidateResult{}, fmt.Errorf("lookup request after conflict: %w", lookupErr)
		}
		if existing == nil {
			return quotadomain.ValidateResult{}, fmt.Errorf("insert usage: %w", err)
		}
		return s.replayValidate(ctx, req, existing, fingerprint)

	default:
		return quotadomain.ValidateResult{}, err
	}
}

func (s *Service) replayValidate(
	ctx context.Context,
	req quotadomain.ValidateRequest,
	existing *quotadomain.UsageRecord,
	fingerprint string,
) (quotadomain.ValidateResult, error) {
	if existing.Fingerprint != fingerprint {
		s.log.Warn("request_id reused with a different payload",
			zap.String("tenant", req.Tenant.String()),
			zap.String("request_id", req.RequestID),
			zap.String("usage_id", existing.ID.String()),
		)
		return quotadomain.ValidateResult{}, quotadomain.ErrIdempotencyConflict
	}

	switch existing.Status {
	case quotadomain.UsageStatusPending, quotadomain.UsageStatusSuccess:
		message := "Access granted. Request already validated."
		if existing.IsTest {
			message = testKeyMessage
		}
		s.metrics.RecordValidate(ctx, string(req.Tenant.Type), req.FeatureKey, outcomeAllow, "replayed", 0)
		return quotadomain.ValidateResult{
			Access:          quotadomain.AccessAllow,
			UsageID:         existing.ID,
			CreditsReserved: existing.CreditsReserved,
			Message:         message,
			Replayed:        true,
			IsTest:          existing.IsTest,
		}, nil
	default:
		result := s.deny(ctx, req, quotadomain.ReservationClosedDenial(existing.Status), nil)
		result.UsageID = existing.ID
		result.Replayed = true
		return result, nil
	}
}

func (s *Service) deny(
	ctx context.Context,
	req quotadomain.ValidateRequest,
	denial *quotadomain.Denial,
	status *quotadomain.RateLimitStatus,
) quotadomain.ValidateResult {
	s.metrics.RecordValidate(ctx, string(req.Tenant.Type), req.FeatureKey, outcomeDeny, string(denial.Kind), 0)
	s.log.Info("usage denied",
		zap.String("tenant", req.Tenant.String()),
		zap.String("request_id", req.RequestID),
		zap.String("feature_key", req.FeatureKey),
		zap.String("reason", string(denial.Kind)),
	)
	return quotadomain.ValidateResult{
		Access:    quotadomain.AccessDeny,
		Message:   denial.Message,
		Denial:    denial,
		RateLimit: status,
		IsTest:    req.IsTest,
	}
}

func (s *Service) Commit(ctx context.Context, req quotadomain.CommitRequest) (quotadomain.CommitResult, error) {
	req.Tenant = quotadomain.NewTenantKey(req.Tenant.Type, req.Tenant.ID)
	if err := validateCommitRequest(req); err != nil {
		return quotadomain.CommitResult{}, err
	}

	record, err := s.ledger.FindUsageByID(ctx, s.db, req.UsageID)
	if err != nil {
		return quotadomain.CommitResult{}, fmt.Errorf("load usage: %w", err)
	}
	if record == nil {
		return quotadomain.CommitResult{}, quotadomain.ErrUsageNotFound
	}
	if record.Tenant() != req.Tenant {
		s.log.Warn("usage commit ownership mismatch",
			zap.String("tenant", req.Tenant.String()),
			zap.String("owner", record.Tenant().String()),
			zap.String("usage_id", record.ID.String()),
		)
		return quotadomain.CommitResult{}, quotadomain.ErrUsageNotOwned
	}
	if record.Status.Terminal() {
		return replayCommit(record), nil
	}

	now := s.clock.Now()
	transition := buildTransition(req, record, now)

	won := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.ledger.TransitionUsage(ctx, tx, transition)
		if err != nil {
			return fmt.Errorf("transition usage: %w", err)
		}
		if !ok {
			return nil
		}
		won = true

		if transition.To == quotadomain.UsageStatusSuccess {
			if err := s.ledger.ChargeCredits(ctx, tx, record.BalanceID, record.CreditsReserved, now); err != nil {
				return fmt.Errorf("charge credits: %w", err)
			}
			if hasResultData(req.ResultData) {
				artifact := &quotadomain.UsageArtifact{
					ID:         s.genID.Generate(),
					UsageID:    record.ID,
					TenantType: record.TenantType,
					TenantID:   record.TenantID,
					FeatureKey: record.FeatureKey,
					Payload:    append([]byte(nil), req.ResultData...),
					CreatedAt:  now,
				}
				if err := s.ledger.InsertArtifact(ctx, tx, artifact); err != nil {
					return fmt.Errorf("insert artifact: %w", err)
				}
			}
			return nil
		}

		if err := s.ledger.ReleaseCredits(ctx, tx, record.BalanceID, record.CreditsReserved, now); err != nil {
			return fmt.Errorf("release credits: %w", err)
		}
		return nil
	})
	if err != nil {
		return quotadomain.CommitResult{}, err
	}

	if !won {
		// Another committer or the sweeper closed the record first.
		latest, err := s.ledger.FindUsageByID(ctx, s.db, record.ID)
		if err != nil {
			return quotadomain.CommitResult{}, fmt.Errorf("reload usage: %w", err)
		}
		if latest == nil {
			return quotadomain.CommitResult{}, quotadomain.ErrUsageNotFound
		}
		return replayCommit(latest), nil
	}

	record.Status = transition.To
	record.CreditsCharged = transition.CreditsCharged
	record.CommittedAt = &now

	s.loader.Invalidate(ctx, req.Tenant)
	s.metrics.RecordCommit(ctx, string(record.TenantType), string(record.Status), record.Charged())
	s.dispatcher.Dispatch(notify.TopicUsageCommitted, quotadomain.NewUsageEvent(*record, now))
	s.log.Debug("usage committed",
		zap.String("tenant", req.Tenant.String()),
		zap.String("usage_id", record.ID.String()),
		zap.String("status", string(record.Status)),
		zap.Int64("credits_charged", record.Charged()),
	)

	return quotadomain.CommitResult{
		UsageID:        record.ID,
		Status:         record.Status,
		CreditsCharged: record.Charged(),
		Message:        fmt.Sprintf("Usage committed as %s.", record.Status),
	}, nil
}

func (s *Service) Snapshot(ctx context.Context, tenant quotadomain.TenantKey) (quotadomain.Snapshot, error) {
	if err := tenant.Validate(); err != nil {
		return quotadomain.Snapshot{}, err
	}
	return s.loader.Load(ctx, tenant)
}

func normalizeValidateRequest(req quotadomain.ValidateRequest) (quotadomain.ValidateRequest, error) {
	req.Tenant = quotadomain.NewTenantKey(req.Tenant.Type, req.Tenant.ID)
	if err := req.Tenant.Validate(); err != nil {
		return req, err
	}
	req.RequestID = strings.TrimSpace(req.RequestID)
	req.FeatureKey = strings.TrimSpace(req.FeatureKey)
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	req.PayloadHash = strings.TrimSpace(req.PayloadHash)
	req.ClientIP = strings.TrimSpace(req.ClientIP)
	req.UserAgent = strings.TrimSpace(req.UserAgent)

	if req.RequestID == "" || req.FeatureKey == "" || req.PayloadHash == "" {
		return req, quotadomain.ErrInvalidRequest
	}
	if !quotadomain.ValidFeatureKey(req.FeatureKey) {
		return req, quotadomain.ErrInvalidFeatureKey
	}
	return req, nil
}

func validateCommitRequest(req quotadomain.CommitRequest) error {
	if err := req.Tenant.Validate(); err != nil {
		return err
	}
	if req.UsageID == 0 {
		return quotadomain.ErrInvalidRequest
	}
	if !req.Success && req.Failure != nil && !req.Failure.Type.Valid() {
		return quotadomain.ErrInvalidFailureType
	}
	if hasResultData(req.ResultData) && !json.Valid(req.ResultData) {
		return quotadomain.ErrInvalidRequest
	}
	return nil
}

func buildTransition(req quotadomain.CommitRequest, record *quotadomain.UsageRecord, now time.Time) quotadomain.UsageTransition {
	transition := quotadomain.UsageTransition{ID: record.ID, At: now}
	if req.Metrics != nil {
		transition.ModelUsed = optionalString(req.Metrics.ModelUsed)
		transition.InputTokens = req.Metrics.InputTokens
		transition.OutputTokens = req.Metrics.OutputTokens
		transition.LatencyMS = req.Metrics.LatencyMS
	}

	if req.Success {
		// Reserve equals charge; partial charges are not supported.
		charged := record.CreditsReserved
		transition.To = quotadomain.UsageStatusSuccess
		transition.CreditsCharged = &charged
		return transition
	}

	transition.To = quotadomain.UsageStatusFailed
	if req.Failure != nil {
		failureType := req.Failure.Type
		transition.FailureType = &failureType
		transition.FailureReason = optionalString(req.Failure.Reason)
	}
	return transition
}

func replayCommit(record *quotadomain.UsageRecord) quotadomain.CommitResult {
	return quotadomain.CommitResult{
		UsageID:        record.ID,
		Status:         record.Status,
		CreditsCharged: record.Charged(),
		Replayed:       true,
		Message:        fmt.Sprintf("Usage already committed as %s.", record.Status),
	}
}

func rateStatus(snap quotadomain.Snapshot) *quotadomain.RateLimitStatus {
	return &quotadomain.RateLimitStatus{Minute: snap.Minute, Day: snap.Day}
}

func hasResultData(data []byte) bool {
	trimmed := strings.TrimSpace(string(data))
	return trimmed != "" && trimmed != "null"
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
