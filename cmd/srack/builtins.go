package main

import (
	"net/http"
	"net/http/httptest"

	"github.com/Suhaibinator/SRack/pkg/builder"
	"github.com/Suhaibinator/SRack/pkg/script"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// registerBuiltins adds the applications, hooks and warmups every script can
// name:
//
//	run("hello")           plain-text greeting
//	run("not_found")       404 for every request
//	run_before("no_store") sets Cache-Control: no-store
//	warmup("probe")        sends GET / through the pipeline and logs the status
func registerBuiltins(cat *script.Catalog, logger *zap.Logger) error {
	return multierr.Combine(
		cat.RegisterApp("hello", http.HandlerFunc(hello)),
		cat.RegisterApp("not_found", http.NotFoundHandler()),
		cat.RegisterHook("no_store", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
		}),
		cat.RegisterWarmup("probe", probe(logger)),
	)
}

func hello(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Hello from srack\n"))
}

func probe(logger *zap.Logger) builder.WarmupFunc {
	return func(root http.Handler) error {
		rr := httptest.NewRecorder()
		root.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		logger.Info("Warmup probe", zap.Int("status", rr.Code), zap.Int("bytes", rr.Body.Len()))
		return nil
	}
}
