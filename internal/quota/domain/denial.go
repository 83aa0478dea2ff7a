package domain

import (
	"fmt"
	"math"
	"time"
)

// DenialKind is the machine-readable reason a validate call was refused.
type DenialKind string

const (
	DenialNoSubscription     DenialKind = "no_subscription"
	DenialSubscriptionFrozen DenialKind = "subscription_frozen"
	DenialRateLimited        DenialKind = "rate_limited"
	DenialQuotaExceeded      DenialKind = "quota_exceeded"
	DenialReservationClosed  DenialKind = "reservation_closed"
)

// Denial is a deterministic refusal. It is a result, not an error.
type Denial struct {
	Kind       DenialKind
	Message    string
	RetryAfter time.Duration
	Window     WindowKind
}

func NoSubscriptionDenial(tenantType TenantType) *Denial {
	message := "No active subscription found."
	if tenantType == TenantUser {
		message = "No active career subscription found."
	}
	return &Denial{Kind: DenialNoSubscription, Message: message}
}

func FrozenDenial() *Denial {
	return &Denial{
		Kind:    DenialSubscriptionFrozen,
		Message: "Subscription is frozen. Resolve the outstanding payment to restore access.",
	}
}

func RateLimitedDenial(window RateWindow, now time.Time) *Denial {
	retryAfter := window.ResetAt().Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	var limit int64
	if window.Limit != nil {
		limit = *window.Limit
	}
	return &Denial{
		Kind:       DenialRateLimited,
		RetryAfter: retryAfter,
		Window:     window.Kind,
		Message: fmt.Sprintf("Rate limit exceeded. Limit: %d requests/%s. Try again in %d seconds.",
			limit, window.Kind, int64(math.Ceil(retryAfter.Seconds()))),
	}
}

func QuotaExceededDenial(used, allocation, required int64) *Denial {
	return &Denial{
		Kind: DenialQuotaExceeded,
		Message: fmt.Sprintf("Quota exceeded. Used %d/%d credits. This request requires %d credits.",
			used, allocation, required),
	}
}

func ReservationClosedDenial(status UsageStatus) *Denial {
	return &Denial{
		Kind:    DenialReservationClosed,
		Message: fmt.Sprintf("Request already processed and closed as %s. Retry with a new request_id.", status),
	}
}
