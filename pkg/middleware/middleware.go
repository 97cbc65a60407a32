// Package middleware provides the HTTP middleware that SRack scripts can
// declare with use. Each middleware is a plain common.Middleware; Register
// exposes them to scripts under short names.
package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Suhaibinator/SRack/pkg/common"
	"go.uber.org/zap"
)

// Middleware is the function shape every middleware here returns.
type Middleware = common.Middleware

// Recovery recovers from panics in the rest of the pipeline and answers 500.
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("Panic recovered",
						zap.Any("panic", rec),
						zap.String("stack", string(debug.Stack())),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.String("trace_id", TraceID(r)),
					)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// LoggingConfig configures Logging.
type LoggingConfig struct {
	// SlowThreshold promotes successful requests slower than this to Warn.
	// Zero means one second.
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

// Logging logs one entry per request. Server errors log at Error, client
// errors and slow requests at Warn, everything else at Debug.
func Logging(logger *zap.Logger, config LoggingConfig) Middleware {
	slow := config.SlowThreshold
	if slow <= 0 {
		slow = time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.statusCode),
				zap.Duration("duration", duration),
				zap.Int64("bytes", rw.bytesWritten),
			}
			if id := TraceID(r); id != "" {
				fields = append(fields, zap.String("trace_id", id))
			}

			switch {
			case rw.statusCode >= 500:
				logger.Error("Server error", append(fields, zap.String("remote_addr", r.RemoteAddr))...)
			case rw.statusCode >= 400:
				logger.Warn("Client error", fields...)
			case duration > slow:
				logger.Warn("Slow request", fields...)
			default:
				logger.Debug("Request", fields...)
			}
		})
	}
}

// MaxBodySize limits request bodies to maxSize bytes. Requests announcing a
// larger Content-Length are rejected with 413 before the handler runs.
func MaxBodySize(maxSize int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			next.ServeHTTP(w, r)
		})
	}
}

// Timeout cancels the request context after timeout and answers 503 if the
// handler has not written a response by then. Writes made by the handler
// after the deadline are discarded.
func Timeout(timeout time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &timeoutWriter{ResponseWriter: w}
			done := make(chan struct{})
			panicked := make(chan any, 1)
			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicked <- p
					}
				}()
				next.ServeHTTP(tw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case p := <-panicked:
				panic(p)
			case <-done:
			case <-ctx.Done():
				tw.mu.Lock()
				defer tw.mu.Unlock()
				if !tw.wroteHeader {
					http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				}
				tw.timedOut = true
			}
		})
	}
}

// timeoutWriter serializes writes from the handler goroutine with the
// timeout response.
type timeoutWriter struct {
	http.ResponseWriter
	mu          sync.Mutex
	wroteHeader bool
	timedOut    bool
}

func (tw *timeoutWriter) WriteHeader(statusCode int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wroteHeader {
		return
	}
	tw.wroteHeader = true
	tw.ResponseWriter.WriteHeader(statusCode)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	tw.wroteHeader = true
	return tw.ResponseWriter.Write(b)
}

func (tw *timeoutWriter) Flush() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if f, ok := tw.ResponseWriter.(http.Flusher); ok && !tw.timedOut {
		f.Flush()
	}
}

// CORSConfig configures CORS.
type CORSConfig struct {
	Origins          []string      `mapstructure:"origins"`
	Methods          []string      `mapstructure:"methods"`
	Headers          []string      `mapstructure:"headers"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	MaxAge           time.Duration `mapstructure:"max_age"`
}

// CORS adds CORS headers and answers preflight requests with 204.
//
// When Origins lists specific origins, the request's Origin is echoed back
// only if it is listed. "*" allows any origin.
func CORS(config CORSConfig) Middleware {
	anyOrigin := false
	allowed := make(map[string]struct{}, len(config.Origins))
	for _, o := range config.Origins {
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = struct{}{}
	}
	methods := strings.Join(config.Methods, ", ")
	headers := strings.Join(config.Headers, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			switch {
			case anyOrigin && !config.AllowCredentials:
				h.Set("Access-Control-Allow-Origin", "*")
			case origin != "":
				if _, ok := allowed[origin]; ok || anyOrigin {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			if config.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if methods != "" {
				h.Set("Access-Control-Allow-Methods", methods)
			}
			if headers != "" {
				h.Set("Access-Control-Allow-Headers", headers)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if config.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(int(config.MaxAge.Seconds())))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter records the status code and body size.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
