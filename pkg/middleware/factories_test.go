package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Suhaibinator/SRack/pkg/builder"
	"github.com/Suhaibinator/SRack/pkg/script"
	"github.com/prometheus/client_golang/prometheus"
)

func buildScript(t *testing.T, deps Deps, src string) (*builder.Pipeline, error) {
	t.Helper()
	cat := script.NewCatalog()
	if err := Register(cat, deps); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok:" + RequestIP(r)))
	})
	if err := cat.RegisterApp("ok", ok); err != nil {
		t.Fatalf("RegisterApp: %v", err)
	}
	return script.New(cat).Evaluate(context.Background(), nil, "test.lua", src)
}

// TestRegisterNames tests that every factory is registered
func TestRegisterNames(t *testing.T) {
	cat := script.NewCatalog()
	if err := Register(cat, Deps{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	want := "api_key_auth basic_auth bearer_auth client_ip cors logging max_body metrics rate_limit recovery timeout trace"
	if got := strings.Join(cat.MiddlewareNames(), " "); got != want {
		t.Errorf("Expected names %q, got %q", want, got)
	}
	if err := Register(cat, Deps{}); !errors.Is(err, script.ErrDuplicateComponent) {
		t.Errorf("Expected duplicate registration to fail, got %v", err)
	}
}

// TestFactoriesFromScript tests a realistic script using several middleware
func TestFactoriesFromScript(t *testing.T) {
	p, err := buildScript(t, Deps{}, `
use("recovery")
use("trace", { header = "X-Trace" })
use("client_ip", { source = "x_forwarded_for", trust_proxy = true })
use("cors", { origins = { "https://a.example" } })
use("timeout", "2s")
use("max_body", 1024)
use("logging", { slow_threshold = 0.5 })
use("api_key_auth", { keys = { "k1" } })
run("ok")
`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := []string{"recovery", "trace", "client_ip", "cors", "timeout", "max_body", "logging", "api_key_auth"}
	if strings.Join(p.Layers, ",") != strings.Join(want, ",") {
		t.Errorf("Expected layers %v, got %v", want, p.Layers)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("X-API-Key", "k1")
	rr := httptest.NewRecorder()
	p.Root.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok:203.0.113.9" {
		t.Errorf("Expected 200 ok:203.0.113.9, got %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Trace") == "" {
		t.Error("Expected X-Trace header")
	}

	rr = httptest.NewRecorder()
	p.Root.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without a key, got %d", rr.Code)
	}
}

// TestFactoryOptionErrors tests that bad options fail at assembly with the
// middleware name
func TestFactoryOptionErrors(t *testing.T) {
	tests := map[string]string{
		`use("timeout")`:                           "timeout",
		`use("timeout", "soon")`:                   "timeout",
		`use("max_body", -1)`:                      "max_body",
		`use("rate_limit", { limit = 0 })`:         "rate_limit",
		`use("cors", { origin = "typo" })`:         "cors",
		`use("client_ip", "carrier_pigeon")`:       "client_ip",
		`use("basic_auth", {})`:                    "basic_auth",
		`use("bearer_auth")`:                       "bearer_auth",
		`use("recovery", { verbose = true })`:      "recovery",
		`use("logging", { a = 1 }, { b = 2 })`:     "logging",
		`use("cors", "https://only-a-string.com")`: "cors",
	}
	for src, name := range tests {
		_, err := buildScript(t, Deps{}, src+"\nrun('ok')")
		if err == nil {
			t.Errorf("%s: expected an error", src)
			continue
		}
		if !strings.HasPrefix(err.Error(), name+": ") {
			t.Errorf("%s: expected error prefixed with %q, got %q", src, name, err.Error())
		}
	}
}

// TestMetricsFactory tests the disabled and enabled metrics factory
func TestMetricsFactory(t *testing.T) {
	_, err := buildScript(t, Deps{}, `use("metrics") run("ok")`)
	if !errors.Is(err, ErrMetricsDisabled) {
		t.Errorf("Expected ErrMetricsDisabled, got %v", err)
	}

	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "srack")
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	p, err := buildScript(t, Deps{Metrics: m}, `use("metrics", "api") run("ok")`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	p.Root.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if body := scrape(t, reg); !strings.Contains(body, `srack_http_requests_total{method="GET",pipeline="api",status="200"} 1`) {
		t.Errorf("Expected request to be counted\n%s", body)
	}
}

// TestRateLimitBlockKey tests a script block choosing the rate limit key
func TestRateLimitBlockKey(t *testing.T) {
	p, err := buildScript(t, Deps{}, `
use("rate_limit", { limit = 1, window = "1m" }, function(req)
  return req.headers["X-User"]
end)
run("ok")
`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	send := func(user string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-User", user)
		rr := httptest.NewRecorder()
		p.Root.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := send("alice"); code != http.StatusOK {
		t.Fatalf("Expected alice's first request to pass, got %d", code)
	}
	if code := send("bob"); code != http.StatusOK {
		t.Errorf("Expected bob to have his own bucket, got %d", code)
	}
	if code := send("alice"); code != http.StatusTooManyRequests {
		t.Errorf("Expected alice's second request to be limited, got %d", code)
	}
}

// TestBearerAuthBlockValidator tests a script block validating tokens
func TestBearerAuthBlockValidator(t *testing.T) {
	p, err := buildScript(t, Deps{}, `
use("bearer_auth", { realm = "api" }, function(token)
  return token == "lua-token"
end)
run("ok")
`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer lua-token")
	rr := httptest.NewRecorder()
	p.Root.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected valid token to pass, got %d", rr.Code)
	}

	req.Header.Set("Authorization", "Bearer other")
	rr = httptest.NewRecorder()
	p.Root.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected invalid token to be rejected, got %d", rr.Code)
	}
}

func TestDecode(t *testing.T) {
	var cfg struct {
		Window time.Duration `mapstructure:"window"`
		Limit  int           `mapstructure:"limit"`
		Tags   []string      `mapstructure:"tags"`
	}
	err := decode([]any{map[string]any{"window": 1.5, "limit": float64(3), "tags": "a,b"}}, "", &cfg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Window != 1500*time.Millisecond || cfg.Limit != 3 || strings.Join(cfg.Tags, "|") != "a|b" {
		t.Errorf("Unexpected decode result %+v", cfg)
	}
}
