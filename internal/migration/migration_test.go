package migration

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	apikeydomain "github.com/smallbiznis/creditgate/internal/apikey/domain"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	sessiondomain "github.com/smallbiznis/creditgate/internal/session/domain"
	pkgdb "github.com/smallbiznis/creditgate/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openAutoMigrated(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := AutoMigrate(conn); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return conn
}

func TestAutoMigrateDeclaresMigrationUniqueIndexes(t *testing.T) {
	conn := openAutoMigrated(t)

	up, err := embeddedMigrations.ReadFile("migrations/000001_quota_ledger.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}

	cases := []struct {
		model any
		index string
	}{
		{&quotadomain.FeatureCost{}, "uq_feature_costs_product_key"},
		{&quotadomain.CreditBalance{}, "uq_credit_balances_tenant_period"},
		{&quotadomain.RateCounter{}, "uq_rate_counters_window"},
		{&quotadomain.UsageRecord{}, "uq_usage_records_request"},
		{&quotadomain.Subscription{}, "uidx_subscriptions_open_tenant"},
	}
	for _, tc := range cases {
		if !strings.Contains(string(up), tc.index) {
			t.Fatalf("migration does not declare %s", tc.index)
		}
		if !conn.Migrator().HasIndex(tc.model, tc.index) {
			t.Fatalf("auto migrated schema is missing %s", tc.index)
		}
	}
}

func TestAutoMigrateRejectsDuplicateLedgerRows(t *testing.T) {
	conn := openAutoMigrated(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := now.AddDate(0, 1, 0)

	cases := []struct {
		name   string
		first  any
		second any
	}{
		{
			name:   "feature cost",
			first:  &quotadomain.FeatureCost{ID: 1, Product: quotadomain.TenantWorkspace, FeatureKey: "chat", CostCredits: 1, CreatedAt: now},
			second: &quotadomain.FeatureCost{ID: 2, Product: quotadomain.TenantWorkspace, FeatureKey: "chat", CostCredits: 5, CreatedAt: now},
		},
		{
			name: "credit balance",
			first: &quotadomain.CreditBalance{
				ID: 1, TenantType: quotadomain.TenantWorkspace, TenantID: "ws_1",
				PeriodStart: now, PeriodEnd: periodEnd, Allocation: 100, CreatedAt: now, UpdatedAt: now,
			},
			second: &quotadomain.CreditBalance{
				ID: 2, TenantType: quotadomain.TenantWorkspace, TenantID: "ws_1",
				PeriodStart: now, PeriodEnd: periodEnd, Allocation: 100, CreatedAt: now, UpdatedAt: now,
			},
		},
		{
			name: "rate counter",
			first: &quotadomain.RateCounter{
				ID: 1, TenantType: quotadomain.TenantWorkspace, TenantID: "ws_1",
				WindowKind: quotadomain.WindowMinute, WindowStart: now, Count: 1, UpdatedAt: now,
			},
			second: &quotadomain.RateCounter{
				ID: 2, TenantType: quotadomain.TenantWorkspace, TenantID: "ws_1",
				WindowKind: quotadomain.WindowMinute, WindowStart: now, Count: 1, UpdatedAt: now,
			},
		},
		{
			name:   "usage request",
			first:  usageRow(1, "req-1", now),
			second: usageRow(2, "req-1", now),
		},
		{
			name:   "open subscription",
			first:  subscriptionRow(1, quotadomain.SubscriptionStatusActive, now),
			second: subscriptionRow(2, quotadomain.SubscriptionStatusFrozen, now),
		},
		{
			name:   "api key hash",
			first:  &apikeydomain.APIKey{ID: 1, WorkspaceID: "ws_1", Name: "a", KeyPrefix: "cg_", KeyHash: "h", CreatedAt: now, UpdatedAt: now},
			second: &apikeydomain.APIKey{ID: 2, WorkspaceID: "ws_1", Name: "b", KeyPrefix: "cg_", KeyHash: "h", CreatedAt: now, UpdatedAt: now},
		},
		{
			name:   "session token",
			first:  &sessiondomain.Session{ID: 1, UserID: "u_1", TokenHash: "t", ExpiresAt: periodEnd, CreatedAt: now},
			second: &sessiondomain.Session{ID: 2, UserID: "u_1", TokenHash: "t", ExpiresAt: periodEnd, CreatedAt: now},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := conn.Create(tc.first).Error; err != nil {
				t.Fatalf("insert first row: %v", err)
			}
			err := conn.Create(tc.second).Error
			if !pkgdb.IsDuplicateKeyErr(err) {
				t.Fatalf("expected duplicate key error, got %v", err)
			}
		})
	}
}

func TestAutoMigrateAllowsNewSubscriptionAfterCancel(t *testing.T) {
	conn := openAutoMigrated(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := conn.Create(subscriptionRow(1, quotadomain.SubscriptionStatusCanceled, now)).Error; err != nil {
		t.Fatalf("insert canceled subscription: %v", err)
	}
	if err := conn.Create(subscriptionRow(2, quotadomain.SubscriptionStatusActive, now)).Error; err != nil {
		t.Fatalf("insert active subscription: %v", err)
	}
}

func usageRow(id snowflake.ID, requestID string, now time.Time) *quotadomain.UsageRecord {
	return &quotadomain.UsageRecord{
		ID:              id,
		TenantType:      quotadomain.TenantWorkspace,
		TenantID:        "ws_1",
		SubscriptionID:  1,
		BalanceID:       1,
		RequestID:       requestID,
		Fingerprint:     "fp",
		PayloadHash:     "ph",
		FeatureKey:      "chat",
		Endpoint:        "/v1/chat",
		Method:          "POST",
		CreditsReserved: 1,
		Status:          quotadomain.UsageStatusPending,
		CreatedAt:       now,
	}
}

func subscriptionRow(id snowflake.ID, status quotadomain.SubscriptionStatus, now time.Time) *quotadomain.Subscription {
	return &quotadomain.Subscription{
		ID:         id,
		TenantType: quotadomain.TenantWorkspace,
		TenantID:   "ws_1",
		PlanID:     1,
		Status:     status,
		StartedAt:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
