package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestGinMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m := NewHTTPMetricsWithRegisterer(registry, Config{ServiceName: "creditgate"})

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/internal/subscriptions/:tenant_type/:tenant_id", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/internal/subscriptions/workspace/ws_1", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/internal/subscriptions/:tenant_type/:tenant_id", "204"))
	if got != 1 {
		t.Fatalf("expected 1 request, got %v", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var histogram *dto.MetricFamily
	for _, family := range families {
		if family.GetName() == "creditgate_http_request_duration_seconds" {
			histogram = family
		}
	}
	if histogram == nil || len(histogram.GetMetric()) != 1 {
		t.Fatalf("expected one duration series")
	}
	if histogram.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected one duration sample")
	}
}
