package observability

import (
	"strings"

	"github.com/smallbiznis/creditgate/internal/config"
)

// Config is the view of the application config the telemetry providers need.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	Export ExportConfig
}

// ExportConfig describes where traces and metrics are pushed.
type ExportConfig struct {
	Enabled     bool
	Endpoint    string
	Protocol    string
	SampleRatio float64
}

var developmentEnvs = map[string]struct{}{
	"dev":         {},
	"development": {},
	"local":       {},
	"test":        {},
}

func FromAppConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "creditgate"
	}

	ratio := cfg.Telemetry.SampleRatio
	switch {
	case ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}

	return Config{
		ServiceName: name,
		Environment: strings.ToLower(strings.TrimSpace(cfg.Environment)),
		Version:     strings.TrimSpace(cfg.AppVersion),
		LogLevel:    cfg.Telemetry.LogLevel,
		LogFormat:   cfg.Telemetry.LogFormat,
		Export: ExportConfig{
			Enabled:     cfg.Telemetry.OTLPEnabled && cfg.Telemetry.OTLPEndpoint != "",
			Endpoint:    cfg.Telemetry.OTLPEndpoint,
			Protocol:    cfg.Telemetry.OTLPProtocol,
			SampleRatio: ratio,
		},
	}
}

// Debug reports whether verbose logging and gin debug mode should be on.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	_, dev := developmentEnvs[strings.ToLower(strings.TrimSpace(c.Environment))]
	return dev
}
