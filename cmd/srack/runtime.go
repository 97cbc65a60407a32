package main

import (
	"fmt"

	"github.com/Suhaibinator/SRack/pkg/builder"
	"github.com/Suhaibinator/SRack/pkg/common"
	"github.com/Suhaibinator/SRack/pkg/config"
	"github.com/Suhaibinator/SRack/pkg/loader"
	"github.com/Suhaibinator/SRack/pkg/middleware"
	"github.com/Suhaibinator/SRack/pkg/script"
	"github.com/Suhaibinator/SRack/pkg/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// runtime is everything a command needs to turn a script into a served
// pipeline.
type runtime struct {
	config *config.Config
	logger *zap.Logger
	server *server.Server
	loader *loader.Loader
}

func newRuntime(cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	deps := middleware.Deps{
		Logger:  logger,
		Limiter: middleware.NewRateLimiter(),
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics, err := middleware.NewMetrics(registry, cfg.Metrics.Namespace)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		deps.Metrics = metrics
	}

	catalog := script.NewCatalog()
	if err := multierr.Combine(
		middleware.Register(catalog, deps),
		registerBuiltins(catalog, logger),
	); err != nil {
		return nil, err
	}

	var builderOpts []builder.Option
	if cfg.Builder.DistinctPostHooks {
		builderOpts = append(builderOpts, builder.WithDistinctPostHooks())
	}
	ev := script.New(catalog,
		script.WithLogger(logger),
		script.WithBuilderOptions(builderOpts...),
	)

	srv := server.New(server.Config{
		Name:              cfg.Server.Name,
		Addr:              cfg.Server.Addr,
		Logger:            logger,
		Registry:          registry,
		Middlewares:       []common.Middleware{middleware.Recovery(logger)},
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
	})

	return &runtime{
		config: cfg,
		logger: logger,
		server: srv,
		loader: loader.New(ev, logger, loader.WithTimeout(cfg.Script.Timeout)),
	}, nil
}
