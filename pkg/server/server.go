package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Suhaibinator/SRack/pkg/builder"
	"github.com/Suhaibinator/SRack/pkg/common"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrNilPipeline is returned by Mount when given no pipeline.
var ErrNilPipeline = errors.New("server: nil pipeline")

// Server implements http.Handler. /healthz and, when a registry is
// configured, /metrics are answered directly; every other request goes
// through the mounted pipeline.
type Server struct {
	config    Config
	router    *httprouter.Router
	logger    *zap.Logger
	chain     common.MiddlewareChain
	startedAt time.Time

	mounted    atomic.Pointer[mount]
	generation atomic.Int64

	wg         sync.WaitGroup
	shutdown   bool
	shutdownMu sync.RWMutex

	httpMu     sync.Mutex
	httpServer *http.Server
}

// mount is a pipeline ready to serve: its root already wrapped in the
// server-level middleware.
type mount struct {
	pipeline   *builder.Pipeline
	handler    http.Handler
	generation int64
}

// New creates a Server. Requests are answered with 503 until a pipeline is
// mounted.
func New(config Config) *Server {
	config = config.withDefaults()

	hr := httprouter.New()
	hr.RedirectTrailingSlash = false
	hr.RedirectFixedPath = false
	hr.HandleMethodNotAllowed = false
	hr.HandleOPTIONS = false

	s := &Server{
		config:    config,
		router:    hr,
		logger:    config.Logger,
		chain:     common.NewMiddlewareChain(config.Middlewares...),
		startedAt: time.Now(),
	}

	hr.GET("/healthz", s.healthz)
	if config.Registry != nil {
		hr.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(config.Registry, promhttp.HandlerOpts{}))
	}
	hr.NotFound = http.HandlerFunc(s.dispatch)
	return s
}

// Mount makes p the pipeline for new requests. Requests already in flight
// finish on the pipeline they started with.
func (s *Server) Mount(p *builder.Pipeline) error {
	if p == nil || p.Root == nil {
		return ErrNilPipeline
	}
	m := &mount{
		pipeline:   p,
		handler:    s.chain.Then(p.Root),
		generation: s.generation.Add(1),
	}
	s.mounted.Store(m)
	s.logger.Info("Pipeline mounted",
		zap.Int64("generation", m.generation),
		zap.Strings("layers", p.Layers),
		zap.Int("pre_hooks", len(p.PreHooks)),
		zap.Int("post_hooks", len(p.PostHooks)),
	)
	return nil
}

// Pipeline returns the mounted pipeline, or nil.
func (s *Server) Pipeline() *builder.Pipeline {
	if m := s.mounted.Load(); m != nil {
		return m.pipeline
	}
	return nil
}

// Info describes the server to configuration scripts.
func (s *Server) Info() map[string]any {
	return map[string]any{
		"name":       s.config.Name,
		"addr":       s.config.Addr,
		"started_at": s.startedAt,
		"generation": s.generation.Load(),
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// Register the request before checking for shutdown so Shutdown waits for it.
	s.wg.Add(1)
	defer s.wg.Done()

	s.shutdownMu.RLock()
	isShutdown := s.shutdown
	s.shutdownMu.RUnlock()
	if isShutdown {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	s.router.ServeHTTP(w, req)
}

// dispatch runs a request through the mounted pipeline: pre-hooks in order,
// the root handler, then post-hooks once the handler has returned.
func (s *Server) dispatch(w http.ResponseWriter, req *http.Request) {
	m := s.mounted.Load()
	if m == nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	if len(m.pipeline.PostHooks) > 0 {
		defer common.RunPostHooks(m.pipeline.PostHooks, req)
	}
	common.RunPreHooks(m.pipeline.PreHooks, w, req)
	m.handler.ServeHTTP(w, req)
}

func (s *Server) healthz(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	status := http.StatusOK
	body := map[string]any{"status": "ok", "name": s.config.Name}
	if m := s.mounted.Load(); m != nil {
		body["generation"] = m.generation
	} else {
		status = http.StatusServiceUnavailable
		body["status"] = "no pipeline"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to write health response", zap.Error(err))
	}
}

// ListenAndServe listens on the configured address and serves until ctx is
// done, then shuts down gracefully within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
	}
	s.httpMu.Lock()
	s.httpServer = hs
	s.httpMu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", zap.String("addr", ln.Addr().String()), zap.String("name", s.config.Name))
		errCh <- hs.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	err := s.Shutdown(shutdownCtx)
	if serveErr := <-errCh; !errors.Is(serveErr, http.ErrServerClosed) {
		err = multierr.Append(err, serveErr)
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight requests to
// finish. If ctx ends first, its error is returned together with any error
// from closing the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.shutdown = true
	s.shutdownMu.Unlock()
	s.logger.Info("Server shutting down")

	var err error
	s.httpMu.Lock()
	hs := s.httpServer
	s.httpMu.Unlock()
	if hs != nil {
		err = multierr.Append(err, hs.Shutdown(ctx))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if !errors.Is(err, ctx.Err()) {
			err = multierr.Append(err, ctx.Err())
		}
	}
	return err
}
