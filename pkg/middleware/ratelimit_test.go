package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestRateLimiterAllow tests fixed-window counting and reset
func TestRateLimiterAllow(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewRateLimiter()
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		allowed, remaining, _ := l.Allow("k", 3, time.Minute)
		if !allowed {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
		if remaining != 2-i {
			t.Errorf("Expected %d remaining, got %d", 2-i, remaining)
		}
	}

	now = now.Add(10 * time.Second)
	allowed, remaining, reset := l.Allow("k", 3, time.Minute)
	if allowed || remaining != 0 {
		t.Errorf("Expected fourth request to be rejected, got allowed=%v remaining=%d", allowed, remaining)
	}
	if reset != 50*time.Second {
		t.Errorf("Expected reset in 50s, got %v", reset)
	}

	// Other keys have their own window.
	if allowed, _, _ := l.Allow("other", 3, time.Minute); !allowed {
		t.Error("Expected a different key to be allowed")
	}

	now = now.Add(time.Minute)
	if allowed, _, _ := l.Allow("k", 3, time.Minute); !allowed {
		t.Error("Expected request after the window to be allowed")
	}
}

// TestRateLimiterSweep tests that ended windows are dropped once the map is large
func TestRateLimiterSweep(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewRateLimiter()
	l.now = func() time.Time { return now }
	for i := 0; i < sweepThreshold; i++ {
		l.Allow(time.Duration(i).String(), 1, time.Second)
	}
	now = now.Add(2 * time.Second)
	l.Allow("fresh", 1, time.Second)
	if len(l.windows) != 1 {
		t.Errorf("Expected only the fresh window to remain, got %d", len(l.windows))
	}
}

// TestRateLimit tests headers, rejection and logging
func TestRateLimit(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	mw, err := RateLimit(RateLimitConfig{Bucket: "api", Limit: 2, Window: time.Minute}, NewRateLimiter(), zap.New(core))
	if err != nil {
		t.Fatalf("RateLimit: %v", err)
	}
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "192.0.2.1:1000"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := send(); rr.Code != http.StatusOK {
			t.Fatalf("Expected request %d to pass, got %d", i+1, rr.Code)
		}
	}
	rr := send()
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected status %d, got %d", http.StatusTooManyRequests, rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "2" || rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("Unexpected rate limit headers: %v", rr.Header())
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}

	entries := logs.FilterMessage("Rate limit exceeded").All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 warning, got %d", len(entries))
	}
	if entries[0].ContextMap()["key"] != "192.0.2.1" {
		t.Errorf("Expected key field 192.0.2.1, got %v", entries[0].ContextMap()["key"])
	}
}

// TestRateLimitSharedLimiter tests that two middleware with the same bucket
// share counts, as they do across reloads
func TestRateLimitSharedLimiter(t *testing.T) {
	limiter := NewRateLimiter()
	config := RateLimitConfig{Bucket: "shared", Limit: 1, Window: time.Minute, Strategy: StrategyGlobal}
	first, _ := RateLimit(config, limiter, zap.NewNop())
	second, _ := RateLimit(config, limiter, zap.NewNop())
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	rr := httptest.NewRecorder()
	first(ok).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	second(ok).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Expected shared bucket to reject, got %d", rr.Code)
	}
}

// TestRateLimitKeys tests the header and custom strategies
func TestRateLimitKeys(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.4:1"
	req.Header.Set("X-User", "alice")

	header := RateLimitConfig{Strategy: StrategyHeader, Header: "X-User"}
	if key, _ := rateLimitKey(req, &header); key != "alice" {
		t.Errorf("Expected header key alice, got %q", key)
	}
	missing := RateLimitConfig{Strategy: StrategyHeader, Header: "X-Missing"}
	if key, _ := rateLimitKey(req, &missing); key != "192.0.2.4" {
		t.Errorf("Expected IP fallback, got %q", key)
	}

	failing := RateLimitConfig{Strategy: StrategyCustom, KeyFunc: func(*http.Request) (string, error) {
		return "", errors.New("no key")
	}}
	if _, err := rateLimitKey(req, &failing); err == nil {
		t.Error("Expected custom key error")
	}

	mw, err := RateLimit(RateLimitConfig{Limit: 1, Strategy: StrategyCustom, KeyFunc: failing.KeyFunc}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("RateLimit: %v", err)
	}
	rr := httptest.NewRecorder()
	mw(http.NotFoundHandler()).ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d on key error, got %d", http.StatusInternalServerError, rr.Code)
	}
}

// TestRateLimitConfigErrors tests configuration validation
func TestRateLimitConfigErrors(t *testing.T) {
	for name, config := range map[string]RateLimitConfig{
		"zero limit":       {},
		"unknown strategy": {Limit: 1, Strategy: "cookie"},
		"header no name":   {Limit: 1, Strategy: StrategyHeader},
		"custom no func":   {Limit: 1, Strategy: StrategyCustom},
		"unknown mode":     {Limit: 1, Mode: "drop"},
	} {
		if _, err := RateLimit(config, nil, zap.NewNop()); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

// TestRateLimitPace tests that pace mode delays instead of rejecting
func TestRateLimitPace(t *testing.T) {
	mw, err := RateLimit(RateLimitConfig{Limit: 20, Window: time.Second, Mode: ModePace, Strategy: StrategyGlobal}, NewRateLimiter(), zap.NewNop())
	if err != nil {
		t.Fatalf("RateLimit: %v", err)
	}
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	start := time.Now()
	for i := 0; i < 4; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected paced request to pass, got %d", rr.Code)
		}
	}
	// 20 per second is one every 50ms; the first is immediate.
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Expected requests to be paced, took %v", elapsed)
	}
}
