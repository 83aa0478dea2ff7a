package logger

import (
	"context"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/creditgate/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

func TestWithContextAddsOnlyPresentFields(t *testing.T) {
	logs := observe(t)

	FromContext(context.Background()).Info("bare")
	ctx := obscontext.WithRequestID(context.Background(), "req_1")
	ctx = obscontext.WithTenant(ctx, "workspace", "ws_1")
	FromContext(ctx).Info("scoped")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Empty(t, entries[0].Context)

	fields := entries[1].ContextMap()
	assert.Equal(t, "req_1", fields["request_id"])
	assert.Equal(t, "workspace", fields["tenant_type"])
	assert.Equal(t, "ws_1", fields["tenant_id"])
	assert.NotContains(t, fields, "trace_id")
}

func TestDescribeStatement(t *testing.T) {
	cases := []struct {
		sql       string
		operation string
		table     string
		locking   bool
	}{
		{`SELECT id FROM usage_records WHERE status = ? FOR UPDATE SKIP LOCKED`, "SELECT", "usage_records", true},
		{`INSERT INTO "rate_counters" (tenant_type) VALUES (?)`, "INSERT", "rate_counters", false},
		{`UPDATE credit_balances SET credits_reserved = credits_reserved + ?`, "UPDATE", "credit_balances", false},
		{`WITH recent AS (SELECT 1) DELETE FROM sessions`, "SELECT", "sessions", false},
		{``, "UNKNOWN", "", false},
	}
	for _, tc := range cases {
		stmt := describeStatement(tc.sql)
		assert.Equal(t, tc.operation, stmt.operation, tc.sql)
		assert.Equal(t, tc.table, stmt.table, tc.sql)
		assert.Equal(t, tc.locking, stmt.locking, tc.sql)
	}
}

func TestGormTraceLevels(t *testing.T) {
	logs := observe(t)
	l := NewGormLogger(DefaultGormLoggerConfig())
	ctx := context.Background()

	fast := func() (string, int64) { return "SELECT 1 FROM plans", 1 }
	l.Trace(ctx, time.Now(), fast, nil)
	assert.Equal(t, 0, logs.Len(), "fast queries are not logged at warn level")

	l.Trace(ctx, time.Now(), fast, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len(), "record not found is ignored by default")

	l.Trace(ctx, time.Now().Add(-500*time.Millisecond), fast, nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zap.WarnLevel, logs.All()[0].Level)

	locking := func() (string, int64) { return "SELECT * FROM subscriptions FOR UPDATE", 1 }
	l.Trace(ctx, time.Now().Add(-500*time.Millisecond), locking, nil)
	assert.Equal(t, 1, logs.Len(), "row locks get the longer threshold")

	l.Trace(ctx, time.Now(), fast, assert.AnError)
	require.Equal(t, 2, logs.Len())
	last := logs.All()[1]
	assert.Equal(t, zap.ErrorLevel, last.Level)
	assert.Equal(t, "plans", last.ContextMap()["table"])
}
