package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes quota pipeline instruments.
type Metrics struct {
	validateDecisions metric.Int64Counter
	creditsReserved   metric.Int64Counter
	commits           metric.Int64Counter
	creditsCharged    metric.Int64Counter
	expired           metric.Int64Counter
	snapshotLookups   metric.Int64Counter
	rateLimitAllowed  metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
	publishFailures   metric.Int64Counter
}

// NewProvider installs the global meter provider. Disabled export yields a no-op provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, fmt.Errorf("metrics exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.StopHook(provider.Shutdown))
	}
	if log != nil {
		log.Info("metrics export enabled",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

const exportInterval = 10 * time.Second

// New registers the quota pipeline counters on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "creditgate"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.validateDecisions, "creditgate_quota_validate_total", "Validate decisions by outcome and denial reason."},
		{&m.creditsReserved, "creditgate_quota_credits_reserved_total", "Credits held by allowed validations."},
		{&m.commits, "creditgate_quota_commit_total", "Reservations closed by commit."},
		{&m.creditsCharged, "creditgate_quota_credits_charged_total", "Credits charged on successful commits."},
		{&m.expired, "creditgate_quota_reservations_expired_total", "Reservations released by the sweeper."},
		{&m.snapshotLookups, "creditgate_quota_snapshot_lookups_total", "Snapshot cache lookups by result."},
		{&m.rateLimitAllowed, "creditgate_rate_limit_allowed_total", "Requests admitted by the ingress limiter."},
		{&m.rateLimitDenied, "creditgate_rate_limit_denied_total", "Requests rejected by the ingress limiter."},
		{&m.publishFailures, "creditgate_notify_publish_failures_total", "Notifications that could not be delivered."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

// add trims and filters labels before recording n on counter.
func add(ctx context.Context, counter metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	for i, attr := range attrs {
		if attr.Value.Type() == attribute.STRING {
			attrs[i] = attribute.String(string(attr.Key), strings.TrimSpace(attr.Value.AsString()))
		}
	}
	counter.Add(ctx, n, metric.WithAttributes(FilterAttributes(attrs...)...))
}

// RecordValidate counts a validate decision. reason is empty for allowed requests.
func (m *Metrics) RecordValidate(ctx context.Context, tenantType, featureKey, outcome, reason string, credits int64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("tenant_type", tenantType),
		attribute.String("feature_key", featureKey),
		attribute.String("outcome", outcome),
		attribute.String("reason", reason),
	}
	add(ctx, m.validateDecisions, 1, attrs...)
	if credits > 0 {
		add(ctx, m.creditsReserved, credits, attrs...)
	}
}

// RecordCommit counts a terminal transition written by the committer.
func (m *Metrics) RecordCommit(ctx context.Context, tenantType, status string, credits int64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("tenant_type", tenantType),
		attribute.String("status", status),
	}
	add(ctx, m.commits, 1, attrs...)
	if credits > 0 {
		add(ctx, m.creditsCharged, credits, attrs...)
	}
}

func (m *Metrics) RecordExpired(ctx context.Context, tenantType string) {
	if m == nil {
		return
	}
	add(ctx, m.expired, 1, attribute.String("tenant_type", tenantType))
}

// RecordSnapshotLookup counts snapshot cache results: hit, miss or error.
func (m *Metrics) RecordSnapshotLookup(ctx context.Context, backend, result string) {
	if m == nil {
		return
	}
	add(ctx, m.snapshotLookups, 1,
		attribute.String("backend", backend),
		attribute.String("result", result),
	)
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, tenantType, endpoint string) {
	if m == nil {
		return
	}
	add(ctx, m.rateLimitAllowed, 1,
		attribute.String("tenant_type", tenantType),
		attribute.String("endpoint", endpoint),
	)
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, tenantType, endpoint, reason string) {
	if m == nil {
		return
	}
	add(ctx, m.rateLimitDenied, 1,
		attribute.String("tenant_type", tenantType),
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	)
}

func (m *Metrics) RecordPublishFailure(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	add(ctx, m.publishFailures, 1, attribute.String("topic", topic))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch p := strings.ToLower(strings.TrimSpace(protocol)); p {
	case "http", "http/protobuf":
		if endpoint == "" {
			return otlpmetrichttp.New(ctx)
		}
		return otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(endpoint))
	case "", "grpc", "grpc/protobuf":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", p)
	}
}

// tenant_id and request_id are never labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"tenant_type": {},
	"feature_key": {},
	"endpoint":    {},
	"status_code": {},
	"outcome":     {},
	"reason":      {},
	"status":      {},
	"backend":     {},
	"result":      {},
	"topic":       {},
}

// FilterAttributes drops labels outside the allow list.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	kept := attrs[:0:0]
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			kept = append(kept, attr)
		}
	}
	return kept
}
