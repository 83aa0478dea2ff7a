package domain

import (
	"time"

	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
)

// Action names the write that produced a ChangeEvent.
type Action string

const (
	ActionActivate   Action = "activate"
	ActionChangePlan Action = "change_plan"
	ActionFreeze     Action = "freeze"
	ActionUnfreeze   Action = "unfreeze"
	ActionCancel     Action = "cancel"
)

// ChangeEvent is published on subscription.changed after every write.
type ChangeEvent struct {
	Action         Action                         `json:"action"`
	SubscriptionID string                         `json:"subscription_id"`
	TenantType     quotadomain.TenantType         `json:"tenant_type"`
	TenantID       string                         `json:"tenant_id"`
	PlanID         string                         `json:"plan_id"`
	PlanCode       string                         `json:"plan_code,omitempty"`
	Status         quotadomain.SubscriptionStatus `json:"status"`
	PreviousPlanID string                         `json:"previous_plan_id,omitempty"`
	OccurredAt     time.Time                      `json:"occurred_at"`
}

type Response struct {
	ID                 string                         `json:"id"`
	TenantType         quotadomain.TenantType         `json:"tenant_type"`
	TenantID           string                         `json:"tenant_id"`
	PlanID             string                         `json:"plan_id"`
	PlanCode           string                         `json:"plan_code,omitempty"`
	Status             quotadomain.SubscriptionStatus `json:"status"`
	StartedAt          time.Time                      `json:"started_at"`
	CurrentPeriodStart *time.Time                     `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time                     `json:"current_period_end"`
	CanceledAt         *time.Time                     `json:"canceled_at"`
}
