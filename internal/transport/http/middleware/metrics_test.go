package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
)

func newMetricsRouter(t *testing.T) (*gin.Engine, *HTTPMetrics) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics, err := NewHTTPMetrics(HTTPMetricsOptions{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("failed to create http metrics: %v", err)
	}

	router := gin.New()
	router.Use(metrics.Handler())
	router.POST("/v1/auth/refresh", func(c *gin.Context) {
		switch c.Query("case") {
		case "replay":
			AbortWithError(c, domain.ErrTokenRevoked)
		case "limited":
			AbortWithError(c, domain.ErrRateLimitExceeded)
		case "opaque":
			AbortWithError(c, errors.New("boom"))
		default:
			c.Status(http.StatusOK)
		}
	})
	return router, metrics
}

func TestHTTPMetricsLabelsAuthOutcome(t *testing.T) {
	router, metrics := newMetricsRouter(t)

	for _, query := range []string{"", "replay", "replay", "limited", "opaque"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh?case="+query, nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	cases := []struct {
		status  string
		outcome string
		want    float64
	}{
		{"200", OutcomeOK, 1},
		{"401", string(domain.CodeTokenRevoked), 2},
		{"429", string(domain.CodeRateLimitExceeded), 1},
		{"500", string(domain.CodeInternal), 1},
	}
	for _, tc := range cases {
		counter := metrics.Requests.WithLabelValues(http.MethodPost, "/v1/auth/refresh", tc.status, tc.outcome)
		if got := testutil.ToFloat64(counter); got != tc.want {
			t.Fatalf("outcome %s: expected %v requests, got %v", tc.outcome, tc.want, got)
		}
	}

	if got := testutil.ToFloat64(metrics.InFlight); got != 0 {
		t.Fatalf("expected in-flight gauge to return to 0, got %f", got)
	}
	if samples := testutil.CollectAndCount(metrics.Duration); samples != 4 {
		t.Fatalf("expected one latency series per outcome, got %d", samples)
	}
}

func TestHTTPMetricsCollapsesUnmatchedRoutes(t *testing.T) {
	router, metrics := newMetricsRouter(t)

	for _, path := range []string{"/scan/a", "/scan/b"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	counter := metrics.Requests.WithLabelValues(http.MethodGet, "unmatched", "404", OutcomeOK)
	if got := testutil.ToFloat64(counter); got != 2 {
		t.Fatalf("expected unmatched paths to share one series, got %v", got)
	}
}

func TestHTTPMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := NewHTTPMetrics(HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("first NewHTTPMetrics failed: %v", err)
	}
	second, err := NewHTTPMetrics(HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("second NewHTTPMetrics failed: %v", err)
	}
	if first.Requests != second.Requests {
		t.Fatalf("expected the registered counter to be reused")
	}
}

func TestHTTPMetricsHandlerNoopWhenNil(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use((*HTTPMetrics)(nil).Handler())
	router.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}
