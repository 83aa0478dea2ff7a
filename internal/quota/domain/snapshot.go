package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// RateWindow is one fixed rate-limit window as seen by a snapshot.
type RateWindow struct {
	Kind        WindowKind `json:"kind"`
	Limit       *int64     `json:"limit,omitempty"`
	Count       int64      `json:"count"`
	WindowStart time.Time  `json:"window_start"`
}

func (w RateWindow) ResetAt() time.Time {
	return w.WindowStart.Add(w.Kind.Size())
}

// Remaining returns -1 for unlimited windows.
func (w RateWindow) Remaining() int64 {
	if w.Limit == nil {
		return -1
	}
	if left := *w.Limit - w.Count; left > 0 {
		return left
	}
	return 0
}

func (w RateWindow) Exhausted() bool {
	return w.Limit != nil && w.Count >= *w.Limit
}

// At returns the window as of now. A window that has rolled over starts at zero.
func (w RateWindow) At(now time.Time) RateWindow {
	start := w.Kind.Start(now)
	if start.Equal(w.WindowStart) {
		return w
	}
	w.WindowStart = start
	w.Count = 0
	return w
}

// Snapshot is the derived quota view of a tenant. Methods return modified
// copies; a cached snapshot is replaced, never mutated.
type Snapshot struct {
	Tenant                TenantKey          `json:"tenant"`
	SubscriptionID        snowflake.ID       `json:"subscription_id"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	PlanCode              string             `json:"plan_code"`
	Period                Period             `json:"period"`
	CreditsAllocation     int64              `json:"credits_allocation"`
	CreditsReserved       int64              `json:"credits_reserved"`
	CreditsUsedThisPeriod int64              `json:"credits_used_this_period"`
	CreditsRemaining      int64              `json:"credits_remaining"`
	Minute                RateWindow         `json:"minute"`
	Day                   RateWindow         `json:"day"`
	ComputedAt            time.Time          `json:"computed_at"`
}

// At rolls both rate windows forward to now.
func (s Snapshot) At(now time.Time) Snapshot {
	s.Minute = s.Minute.At(now)
	s.Day = s.Day.At(now)
	return s
}

// ExhaustedWindow returns the first window that has no capacity left.
func (s Snapshot) ExhaustedWindow() (RateWindow, bool) {
	if s.Minute.Exhausted() {
		return s.Minute, true
	}
	if s.Day.Exhausted() {
		return s.Day, true
	}
	return RateWindow{}, false
}
