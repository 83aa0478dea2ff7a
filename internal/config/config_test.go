package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("QUOTA_CACHE_BACKEND", "")
	t.Setenv("SESSION_COOKIE_SECURE", "")
	t.Setenv("SEED_CATALOG", "")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "")

	cfg := Load()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, CacheBackendMemory, cfg.Quota.CacheBackend)
	assert.True(t, cfg.Auth.SessionCookieSecure)
	assert.False(t, cfg.SeedCatalog)
	assert.Equal(t, "grpc", cfg.Telemetry.OTLPProtocol)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("QUOTA_CACHE_BACKEND", " Redis ")
	t.Setenv("QUOTA_INGRESS_RATE", "2.5")
	t.Setenv("QUOTA_INGRESS_BURST", "10")
	t.Setenv("API_KEY_CACHE_TTL_SECONDS", "30")
	t.Setenv("NODE_ID", "7")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")

	cfg := Load()

	assert.False(t, cfg.IsProduction())
	assert.Equal(t, CacheBackendRedis, cfg.Quota.CacheBackend)
	assert.InDelta(t, 2.5, cfg.Quota.IngressRate, 1e-9)
	assert.Equal(t, 10, cfg.Quota.IngressBurst)
	assert.Equal(t, 30*time.Second, cfg.Auth.APIKeyCacheTTL)
	assert.Equal(t, int64(7), cfg.NodeID)
	assert.Equal(t, "debug", cfg.Telemetry.LogLevel)
	assert.Equal(t, "http", cfg.Telemetry.OTLPProtocol)
}

func TestGetenvBoolFallsBackOnGarbage(t *testing.T) {
	t.Setenv("CREDITGATE_FLAG", "maybe")
	assert.True(t, getenvBool("CREDITGATE_FLAG", true))

	t.Setenv("CREDITGATE_FLAG", "off")
	assert.False(t, getenvBool("CREDITGATE_FLAG", true))
}
