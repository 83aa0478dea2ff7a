package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/smallbiznis/creditgate/internal/notify"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"github.com/smallbiznis/creditgate/internal/quota/snapshot"
	subscriptiondomain "github.com/smallbiznis/creditgate/internal/subscription/domain"
	"github.com/smallbiznis/creditgate/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       subscriptiondomain.Repository
	Ledger     quotadomain.Ledger
	Resolver   quotadomain.Resolver
	Loader     *snapshot.Loader
	Policy     *config.QuotaPolicyHolder
	Dispatcher *notify.Dispatcher `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       subscriptiondomain.Repository
	planRepo   repository.Repository[quotadomain.Plan]
	ledger     quotadomain.Ledger
	resolver   quotadomain.Resolver
	loader     *snapshot.Loader
	policy     *config.QuotaPolicyHolder
	dispatcher *notify.Dispatcher
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("subscription.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		planRepo:   repository.ProvideStore[quotadomain.Plan](p.DB),
		ledger:     p.Ledger,
		resolver:   p.Resolver,
		loader:     p.Loader,
		policy:     p.Policy,
		dispatcher: p.Dispatcher,
	}
}

func (s *Service) Activate(ctx context.Context, req subscriptiondomain.ActivateRequest) (*subscriptiondomain.Response, error) {
	if err := req.Tenant.Validate(); err != nil {
		return nil, err
	}
	planID, err := snowflake.ParseString(strings.TrimSpace(req.PlanID))
	if err != nil || planID == 0 {
		return nil, subscriptiondomain.ErrInvalidPlan
	}

	plan, err := s.planRepo.FindOne(ctx, &quotadomain.Plan{ID: planID})
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, subscriptiondomain.ErrPlanNotFound
	}
	if plan.Product != req.Tenant.Type {
		return nil, subscriptiondomain.ErrPlanProductMismatch
	}

	now := s.clock.Now().UTC()
	var (
		created   *quotadomain.Subscription
		previous  *quotadomain.Subscription
		unchanged bool
		action    = subscriptiondomain.ActionActivate
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindOpen(ctx, tx, req.Tenant)
		if err != nil {
			return err
		}
		if current != nil && current.PlanID == plan.ID {
			created = current
			unchanged = true
			return nil
		}

		period := quotadomain.Period{
			Start: now,
			End:   now.Add(time.Duration(s.fallbackDays()) * 24 * time.Hour),
		}
		if current != nil {
			previous = current
			action = subscriptiondomain.ActionChangePlan
			period = quotadomain.Resolution{Subscription: *current}.PeriodAt(now, s.fallbackDays())
			won, err := s.repo.UpdateStatus(ctx, tx, current.ID, current.Status, quotadomain.SubscriptionStatusCanceled, now)
			if err != nil {
				return err
			}
			if !won {
				return subscriptiondomain.ErrInvalidTransition
			}
		}

		sub := &quotadomain.Subscription{
			ID:                 s.genID.Generate(),
			TenantType:         req.Tenant.Type,
			TenantID:           req.Tenant.ID,
			PlanID:             plan.ID,
			Status:             quotadomain.SubscriptionStatusActive,
			StartedAt:          now,
			CurrentPeriodStart: &period.Start,
			CurrentPeriodEnd:   &period.End,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.repo.Insert(ctx, tx, sub); err != nil {
			return err
		}
		// A plan change inside the period keeps the balance row and its
		// reservations and swaps only the allocation.
		if err := s.ledger.SetAllocation(ctx, tx, req.Tenant, now, plan.CreditsAllocation); err != nil {
			return err
		}
		created = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	if unchanged {
		return toResponse(created, plan.Code), nil
	}

	event := subscriptiondomain.ChangeEvent{
		Action:         action,
		SubscriptionID: created.ID.String(),
		TenantType:     created.TenantType,
		TenantID:       created.TenantID,
		PlanID:         plan.ID.String(),
		PlanCode:       plan.Code,
		Status:         created.Status,
		OccurredAt:     now,
	}
	if previous != nil {
		event.PreviousPlanID = previous.PlanID.String()
	}
	s.afterWrite(ctx, req.Tenant, event)

	s.log.Info("subscription activated",
		zap.String("tenant", req.Tenant.String()),
		zap.String("subscription_id", created.ID.String()),
		zap.String("plan_code", plan.Code),
		zap.String("action", string(action)),
	)
	return toResponse(created, plan.Code), nil
}

func (s *Service) Freeze(ctx context.Context, tenant quotadomain.TenantKey) (*subscriptiondomain.Response, error) {
	return s.transition(ctx, tenant, subscriptiondomain.ActionFreeze,
		quotadomain.SubscriptionStatusActive, quotadomain.SubscriptionStatusFrozen)
}

func (s *Service) Unfreeze(ctx context.Context, tenant quotadomain.TenantKey) (*subscriptiondomain.Response, error) {
	return s.transition(ctx, tenant, subscriptiondomain.ActionUnfreeze,
		quotadomain.SubscriptionStatusFrozen, quotadomain.SubscriptionStatusActive)
}

func (s *Service) Cancel(ctx context.Context, tenant quotadomain.TenantKey) (*subscriptiondomain.Response, error) {
	return s.transition(ctx, tenant, subscriptiondomain.ActionCancel,
		"", quotadomain.SubscriptionStatusCanceled)
}

// transition moves the open subscription from one status to another. An
// empty from accepts any open status. Repeating a transition that already
// holds is a no-op.
func (s *Service) transition(
	ctx context.Context,
	tenant quotadomain.TenantKey,
	action subscriptiondomain.Action,
	from, to quotadomain.SubscriptionStatus,
) (*subscriptiondomain.Response, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	var (
		sub     *quotadomain.Subscription
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindOpen(ctx, tx, tenant)
		if err != nil {
			return err
		}
		if current == nil {
			return subscriptiondomain.ErrNotFound
		}
		sub = current
		if current.Status == to {
			return nil
		}
		if from != "" && current.Status != from {
			return subscriptiondomain.ErrInvalidTransition
		}

		won, err := s.repo.UpdateStatus(ctx, tx, current.ID, current.Status, to, now)
		if err != nil {
			return err
		}
		if !won {
			return subscriptiondomain.ErrInvalidTransition
		}
		sub.Status = to
		sub.UpdatedAt = now
		if to == quotadomain.SubscriptionStatusCanceled {
			sub.CanceledAt = &now
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return toResponse(sub, ""), nil
	}

	s.afterWrite(ctx, tenant, subscriptiondomain.ChangeEvent{
		Action:         action,
		SubscriptionID: sub.ID.String(),
		TenantType:     sub.TenantType,
		TenantID:       sub.TenantID,
		PlanID:         sub.PlanID.String(),
		Status:         sub.Status,
		OccurredAt:     now,
	})

	s.log.Info("subscription status changed",
		zap.String("tenant", tenant.String()),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("status", string(sub.Status)),
	)
	return toResponse(sub, ""), nil
}

// afterWrite drops every cached view of the tenant before announcing the change.
func (s *Service) afterWrite(ctx context.Context, tenant quotadomain.TenantKey, event subscriptiondomain.ChangeEvent) {
	s.resolver.Invalidate(tenant)
	s.loader.Invalidate(ctx, tenant)
	s.dispatcher.Dispatch(notify.TopicSubscriptionChanged, event)
}

func (s *Service) fallbackDays() int {
	days := s.policy.Get().FallbackPeriodDays
	if days <= 0 {
		return 30
	}
	return days
}

func toResponse(sub *quotadomain.Subscription, planCode string) *subscriptiondomain.Response {
	return &subscriptiondomain.Response{
		ID:                 sub.ID.String(),
		TenantType:         sub.TenantType,
		TenantID:           sub.TenantID,
		PlanID:             sub.PlanID.String(),
		PlanCode:           planCode,
		Status:             sub.Status,
		StartedAt:          sub.StartedAt,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CanceledAt:         sub.CanceledAt,
	}
}
