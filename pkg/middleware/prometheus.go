package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the request collectors used by the metrics middleware.
// Create it once per registry; pipelines rebuilt on reload reuse it.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
	inFlight *prometheus.GaugeVec
}

// NewMetrics creates the collectors under namespace and registers them
// with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	labels := []string{"pipeline", "method", "status"}
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Requests handled, by pipeline, method and status code.",
		}, labels),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, labels),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_bytes_total",
			Help:      "Response body bytes written.",
		}, labels),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Requests currently being served.",
		}, []string{"pipeline"}),
	}
	var err error
	if m.requests, err = register(reg, m.requests); err != nil {
		return nil, err
	}
	if m.latency, err = register(reg, m.latency); err != nil {
		return nil, err
	}
	if m.bytes, err = register(reg, m.bytes); err != nil {
		return nil, err
	}
	if m.inFlight, err = register(reg, m.inFlight); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, returning the collector already registered under
// the same description if there is one.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// MetricsConfig configures the metrics middleware.
type MetricsConfig struct {
	// Pipeline labels every series; it defaults to "default".
	Pipeline string `mapstructure:"pipeline"`
}

// Middleware records request count, latency, response size and in-flight
// requests for everything below it in the pipeline.
func (m *Metrics) Middleware(config MetricsConfig) Middleware {
	pipeline := config.Pipeline
	if pipeline == "" {
		pipeline = "default"
	}
	inFlight := m.inFlight.WithLabelValues(pipeline)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			inFlight.Inc()
			defer func() {
				inFlight.Dec()
				status := strconv.Itoa(rw.statusCode)
				m.requests.WithLabelValues(pipeline, r.Method, status).Inc()
				m.latency.WithLabelValues(pipeline, r.Method, status).Observe(time.Since(start).Seconds())
				m.bytes.WithLabelValues(pipeline, r.Method, status).Add(float64(rw.bytesWritten))
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
