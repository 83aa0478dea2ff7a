// Package quotatest provides an in-memory ledger schema and fixtures for
// package tests across the quota pipeline.
package quotatest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const schema = `
CREATE TABLE plans (
	id BIGINT PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	product TEXT NOT NULL,
	name TEXT NOT NULL,
	credits_allocation BIGINT NOT NULL,
	rate_limit_per_minute BIGINT,
	rate_limit_per_day BIGINT,
	multiplier NUMERIC NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE feature_costs (
	id BIGINT PRIMARY KEY,
	product TEXT NOT NULL,
	feature_key TEXT NOT NULL,
	cost_credits BIGINT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (product, feature_key)
);
CREATE TABLE subscriptions (
	id BIGINT PRIMARY KEY,
	tenant_type TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	plan_id BIGINT NOT NULL,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	current_period_start DATETIME,
	current_period_end DATETIME,
	canceled_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX uidx_subscriptions_open_tenant
	ON subscriptions (tenant_type, tenant_id) WHERE status <> 'CANCELED';
CREATE TABLE credit_balances (
	id BIGINT PRIMARY KEY,
	tenant_type TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	period_start DATETIME NOT NULL,
	period_end DATETIME NOT NULL,
	allocation BIGINT NOT NULL,
	reserved BIGINT NOT NULL DEFAULT 0,
	charged BIGINT NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (tenant_type, tenant_id, period_start)
);
CREATE TABLE rate_counters (
	id BIGINT PRIMARY KEY,
	tenant_type TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	window_kind TEXT NOT NULL,
	window_start DATETIME NOT NULL,
	count BIGINT NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	UNIQUE (tenant_type, tenant_id, window_kind, window_start)
);
CREATE TABLE usage_records (
	id BIGINT PRIMARY KEY,
	tenant_type TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	subscription_id BIGINT NOT NULL,
	balance_id BIGINT NOT NULL,
	request_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	feature_key TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	method TEXT NOT NULL,
	credits_reserved BIGINT NOT NULL,
	credits_charged BIGINT,
	status TEXT NOT NULL,
	is_test BOOLEAN NOT NULL DEFAULT 0,
	model_used TEXT,
	input_tokens BIGINT,
	output_tokens BIGINT,
	latency_ms BIGINT,
	failure_type TEXT,
	failure_reason TEXT,
	client_ip TEXT,
	user_agent TEXT,
	created_at DATETIME NOT NULL,
	committed_at DATETIME,
	UNIQUE (tenant_type, tenant_id, request_id)
);
CREATE INDEX idx_usage_records_pending ON usage_records (status, created_at);
CREATE TABLE usage_artifacts (
	id BIGINT PRIMARY KEY,
	usage_id BIGINT NOT NULL UNIQUE,
	tenant_type TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	feature_key TEXT NOT NULL,
	payload JSON NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE api_keys (
	id BIGINT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	name TEXT NOT NULL,
	key_prefix TEXT NOT NULL,
	key_hash TEXT NOT NULL UNIQUE,
	is_test BOOLEAN NOT NULL DEFAULT 0,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	expires_at DATETIME,
	revoked_at DATETIME,
	last_used_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE sessions (
	id BIGINT PRIMARY KEY,
	user_id TEXT NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	expires_at DATETIME NOT NULL,
	revoked_at DATETIME,
	created_at DATETIME NOT NULL
);
`

// OpenDB returns an isolated in-memory database with the full quota schema.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v\n%s", err, stmt)
		}
	}
	return db
}

func MustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

// PlanSpec describes a plan fixture. Nil limits are unlimited.
type PlanSpec struct {
	Code       string
	Product    quotadomain.TenantType
	Allocation int64
	PerMinute  *int64
	PerDay     *int64
	Multiplier string
}

func SeedPlan(t *testing.T, db *gorm.DB, node *snowflake.Node, spec PlanSpec) quotadomain.Plan {
	t.Helper()
	multiplier := decimal.NewFromInt(1)
	if spec.Multiplier != "" {
		multiplier = decimal.RequireFromString(spec.Multiplier)
	}
	plan := quotadomain.Plan{
		ID:                 node.Generate(),
		Code:               spec.Code,
		Product:            spec.Product,
		Name:               spec.Code,
		CreditsAllocation:  spec.Allocation,
		RateLimitPerMinute: spec.PerMinute,
		RateLimitPerDay:    spec.PerDay,
		Multiplier:         multiplier,
		CreatedAt:          time.Now().UTC(),
	}
	if err := db.Create(&plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	return plan
}

func SeedFeatureCost(t *testing.T, db *gorm.DB, node *snowflake.Node, product quotadomain.TenantType, featureKey string, cost int64) {
	t.Helper()
	row := quotadomain.FeatureCost{
		ID:          node.Generate(),
		Product:     product,
		FeatureKey:  featureKey,
		CostCredits: cost,
		CreatedAt:   time.Now().UTC(),
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed feature cost: %v", err)
	}
}

func SeedSubscription(
	t *testing.T,
	db *gorm.DB,
	node *snowflake.Node,
	tenant quotadomain.TenantKey,
	planID snowflake.ID,
	status quotadomain.SubscriptionStatus,
	period quotadomain.Period,
) quotadomain.Subscription {
	t.Helper()
	start := period.Start
	end := period.End
	sub := quotadomain.Subscription{
		ID:                 node.Generate(),
		TenantType:         tenant.Type,
		TenantID:           tenant.ID,
		PlanID:             planID,
		Status:             status,
		StartedAt:          start,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		CreatedAt:          start,
		UpdatedAt:          start,
	}
	if err := db.Create(&sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}

// BackdateUsage moves a record's creation time, for example past the sweeper grace window.
func BackdateUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, createdAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE usage_records SET created_at = ? WHERE id = ?`,
		createdAt.UTC(),
		id,
	).Error
}

// LoadBalance returns the balance row for the tenant's period.
func LoadBalance(t *testing.T, db *gorm.DB, tenant quotadomain.TenantKey, periodStart time.Time) quotadomain.CreditBalance {
	t.Helper()
	var balance quotadomain.CreditBalance
	if err := db.Where("tenant_type = ? AND tenant_id = ? AND period_start = ?", tenant.Type, tenant.ID, periodStart).
		First(&balance).Error; err != nil {
		t.Fatalf("load balance: %v", err)
	}
	return balance
}

func CountUsage(t *testing.T, db *gorm.DB, status quotadomain.UsageStatus) int64 {
	t.Helper()
	var count int64
	query := db.Model(&quotadomain.UsageRecord{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Count(&count).Error; err != nil {
		t.Fatalf("count usage: %v", err)
	}
	return count
}

// AssertConservation checks remaining + pending reservations + charges == allocation.
func AssertConservation(t *testing.T, db *gorm.DB, tenant quotadomain.TenantKey, periodStart time.Time) {
	t.Helper()
	balance := LoadBalance(t, db, tenant, periodStart)

	var totals struct {
		Reserved int64
		Charged  int64
	}
	if err := db.Raw(
		`SELECT
		   COALESCE(SUM(CASE WHEN status = 'PENDING' THEN credits_reserved ELSE 0 END), 0) AS reserved,
		   COALESCE(SUM(CASE WHEN status = 'SUCCESS' THEN credits_charged ELSE 0 END), 0) AS charged
		 FROM usage_records WHERE balance_id = ?`,
		balance.ID,
	).Scan(&totals).Error; err != nil {
		t.Fatalf("sum usage: %v", err)
	}

	if balance.Reserved != totals.Reserved {
		t.Fatalf("reserved drift: balance=%d records=%d", balance.Reserved, totals.Reserved)
	}
	if balance.Charged != totals.Charged {
		t.Fatalf("charged drift: balance=%d records=%d", balance.Charged, totals.Charged)
	}
	if balance.Remaining()+totals.Reserved+totals.Charged != balance.Allocation {
		t.Fatalf("conservation broken: remaining=%d reserved=%d charged=%d allocation=%d",
			balance.Remaining(), totals.Reserved, totals.Charged, balance.Allocation)
	}
}

func Int64(v int64) *int64 {
	return &v
}
