package observability

import (
	"testing"

	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestFromAppConfig(t *testing.T) {
	cfg := FromAppConfig(config.Config{
		Environment: " Production ",
		AppVersion:  "1.2.3",
		Telemetry: config.TelemetryConfig{
			LogLevel:     "info",
			OTLPEnabled:  true,
			OTLPEndpoint: "collector:4317",
			OTLPProtocol: "grpc",
			SampleRatio:  4,
		},
	})

	assert.Equal(t, "creditgate", cfg.ServiceName)
	assert.Equal(t, "production", cfg.Environment)
	assert.True(t, cfg.Export.Enabled)
	assert.Equal(t, 1.0, cfg.Export.SampleRatio)
	assert.False(t, cfg.Debug())
}

func TestExportDisabledWithoutEndpoint(t *testing.T) {
	cfg := FromAppConfig(config.Config{Telemetry: config.TelemetryConfig{OTLPEnabled: true}})
	assert.False(t, cfg.Export.Enabled)
}

func TestDebug(t *testing.T) {
	assert.True(t, Config{LogLevel: "DEBUG", Environment: "production"}.Debug())
	assert.True(t, Config{Environment: "local"}.Debug())
	assert.False(t, Config{Environment: "staging"}.Debug())
}
