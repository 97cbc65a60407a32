package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

// TestTrace tests that a trace ID is generated, stored and echoed
func TestTrace(t *testing.T) {
	var seen string
	handler := Trace(TraceConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceID(r)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("Expected a UUID trace ID, got %q: %v", seen, err)
	}
	if got := rr.Header().Get(DefaultTraceHeader); got != seen {
		t.Errorf("Expected response header %q, got %q", seen, got)
	}
}

// TestTraceIncoming tests that incoming IDs are reused only when trusted and valid
func TestTraceIncoming(t *testing.T) {
	incoming := uuid.NewString()

	tests := []struct {
		name   string
		config TraceConfig
		header string
		reused bool
	}{
		{"trusted", TraceConfig{Header: "X-Trace", TrustIncoming: true}, incoming, true},
		{"untrusted", TraceConfig{Header: "X-Trace"}, incoming, false},
		{"malformed", TraceConfig{Header: "X-Trace", TrustIncoming: true}, "not-a-uuid", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := Trace(tt.config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = TraceIDFromContext(r.Context())
			}))
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("X-Trace", tt.header)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if (seen == tt.header) != tt.reused {
				t.Errorf("Expected reused=%v, got trace ID %q for incoming %q", tt.reused, seen, tt.header)
			}
			if rr.Header().Get("X-Trace") != seen {
				t.Errorf("Expected X-Trace response header to be %q", seen)
			}
		})
	}
}

// TestTraceIDMissing tests that TraceID is empty without the middleware
func TestTraceIDMissing(t *testing.T) {
	if id := TraceID(httptest.NewRequest("GET", "/", nil)); id != "" {
		t.Errorf("Expected empty trace ID, got %q", id)
	}
}
