package domain

import "time"

// UsageEvent is published when a reservation reaches a terminal state.
type UsageEvent struct {
	UsageID         string      `json:"usage_id"`
	TenantType      TenantType  `json:"tenant_type"`
	TenantID        string      `json:"tenant_id"`
	RequestID       string      `json:"request_id"`
	FeatureKey      string      `json:"feature_key"`
	Status          UsageStatus `json:"status"`
	CreditsReserved int64       `json:"credits_reserved"`
	CreditsCharged  int64       `json:"credits_charged"`
	IsTest          bool        `json:"is_test"`
	OccurredAt      time.Time   `json:"occurred_at"`
}

func NewUsageEvent(record UsageRecord, at time.Time) UsageEvent {
	return UsageEvent{
		UsageID:         record.ID.String(),
		TenantType:      record.TenantType,
		TenantID:        record.TenantID,
		RequestID:       record.RequestID,
		FeatureKey:      record.FeatureKey,
		Status:          record.Status,
		CreditsReserved: record.CreditsReserved,
		CreditsCharged:  record.Charged(),
		IsTest:          record.IsTest,
		OccurredAt:      at,
	}
}
