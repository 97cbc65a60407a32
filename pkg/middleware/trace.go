package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// DefaultTraceHeader carries the trace ID on requests and responses.
const DefaultTraceHeader = "X-Request-ID"

// TraceConfig configures Trace.
type TraceConfig struct {
	// Header defaults to DefaultTraceHeader.
	Header string `mapstructure:"header"`

	// TrustIncoming reuses a well-formed ID sent by the client instead of
	// generating a new one.
	TrustIncoming bool `mapstructure:"trust_incoming"`
}

type traceIDKey struct{}

// Trace assigns every request a UUID trace ID, stores it in the context and
// echoes it in the response header.
func Trace(config TraceConfig) Middleware {
	header := config.Header
	if header == "" {
		header = DefaultTraceHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if config.TrustIncoming {
				if in, err := uuid.Parse(r.Header.Get(header)); err == nil {
					id = in.String()
				}
			}
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(header, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceIDKey{}, id)))
		})
	}
}

// TraceID returns the trace ID of r, or "" when Trace did not run.
func TraceID(r *http.Request) string {
	return TraceIDFromContext(r.Context())
}

// TraceIDFromContext returns the trace ID stored in ctx.
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}
