package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPlanBillableCostRoundsUp(t *testing.T) {
	plan := Plan{Multiplier: decimal.RequireFromString("1.25")}
	if got := plan.BillableCost(10); got != 13 {
		t.Fatalf("expected 13, got %d", got)
	}
	if got := (Plan{}).BillableCost(7); got != 7 {
		t.Fatalf("expected unset multiplier to be 1, got %d", got)
	}
	if got := plan.BillableCost(0); got != 0 {
		t.Fatalf("expected zero cost, got %d", got)
	}
}

func TestPeriodAtUsesCurrentPeriod(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	res := Resolution{Subscription: Subscription{
		StartedAt:          start.AddDate(0, -2, 0),
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	}}

	period := res.PeriodAt(start.Add(72*time.Hour), 30)
	if !period.Start.Equal(start) || !period.End.Equal(end) {
		t.Fatalf("unexpected period %+v", period)
	}
}

func TestPeriodAtFallsBackToRollingWindows(t *testing.T) {
	started := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	res := Resolution{Subscription: Subscription{StartedAt: started}}

	period := res.PeriodAt(started.Add(45*24*time.Hour), 30)
	wantStart := started.Add(30 * 24 * time.Hour)
	if !period.Start.Equal(wantStart) {
		t.Fatalf("expected start %s, got %s", wantStart, period.Start)
	}
	if !period.End.Equal(wantStart.Add(30 * 24 * time.Hour)) {
		t.Fatalf("unexpected end %s", period.End)
	}
}

func TestRateWindowRollsOver(t *testing.T) {
	limit := int64(2)
	now := time.Date(2026, 5, 1, 10, 15, 30, 0, time.UTC)
	w := RateWindow{Kind: WindowMinute, Limit: &limit, Count: 2, WindowStart: WindowMinute.Start(now)}
	if !w.Exhausted() {
		t.Fatalf("expected exhausted window")
	}

	next := w.At(now.Add(45 * time.Second))
	if next.Count != 0 || next.Exhausted() {
		t.Fatalf("expected rolled window to reset, got %+v", next)
	}
	if w.Count != 2 {
		t.Fatalf("original window mutated")
	}
}

func TestFingerprintDistinguishesPayloads(t *testing.T) {
	a := ValidateRequest{Endpoint: "/v1/analyze", Method: "post", PayloadHash: "aaa", FeatureKey: "api.analyze"}
	b := a
	b.PayloadHash = "bbb"
	c := a
	c.Method = "POST"

	if Fingerprint(a) == Fingerprint(b) {
		t.Fatalf("expected different fingerprints")
	}
	if Fingerprint(a) != Fingerprint(c) {
		t.Fatalf("expected method to be case-insensitive")
	}
}

func TestValidFeatureKey(t *testing.T) {
	cases := map[string]bool{
		"api.analyze":      true,
		"career.job_match": true,
		"":                 false,
		"API.analyze":      false,
		"api analyze":      false,
	}
	for key, want := range cases {
		if got := ValidFeatureKey(key); got != want {
			t.Fatalf("ValidFeatureKey(%q) = %v, want %v", key, got, want)
		}
	}
}
