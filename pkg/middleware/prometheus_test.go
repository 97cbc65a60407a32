package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	return rr.Body.String()
}

// TestMetricsMiddleware tests that requests are counted by pipeline and status
func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "srack")
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	handler := m.Middleware(MetricsConfig{Pipeline: "api"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("hello"))
	}))
	for _, path := range []string{"/", "/", "/missing"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	body := scrape(t, reg)
	for _, want := range []string{
		`srack_http_requests_total{method="GET",pipeline="api",status="200"} 2`,
		`srack_http_requests_total{method="GET",pipeline="api",status="404"} 1`,
		`srack_http_response_bytes_total{method="GET",pipeline="api",status="200"} 10`,
		`srack_http_requests_in_flight{pipeline="api"} 0`,
		`srack_http_request_duration_seconds_count{method="GET",pipeline="api",status="200"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected scrape to contain %q\n%s", want, body)
		}
	}
}

// TestNewMetricsReusesCollectors tests that a second NewMetrics on the same
// registry shares the first one's series
func TestNewMetricsReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMetrics(reg, "srack")
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	second, err := NewMetrics(reg, "srack")
	if err != nil {
		t.Fatalf("Expected re-registration to succeed, got %v", err)
	}
	if first.requests != second.requests {
		t.Error("Expected the existing request counter to be reused")
	}

	second.Middleware(MetricsConfig{})(http.NotFoundHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if body := scrape(t, reg); !strings.Contains(body, `pipeline="default"`) {
		t.Errorf("Expected default pipeline label in scrape\n%s", body)
	}
}
