// Package loader reads configuration scripts from disk and evaluates them
// into pipelines, optionally rebuilding the pipeline when the script changes.
package loader

import (
	"context"
	"os"
	"time"

	"github.com/Suhaibinator/SRack/pkg/builder"
	"github.com/Suhaibinator/SRack/pkg/script"
	"go.uber.org/zap"
)

// DefaultScript is the script path used when none is configured.
const DefaultScript = "config.lua"

// Loader evaluates script files with one Evaluator.
type Loader struct {
	ev      *script.Evaluator
	logger  *zap.Logger
	timeout time.Duration
}

// Option configures a Loader.
type Option func(*Loader)

// WithTimeout bounds each evaluation. Zero leaves evaluations bounded only by
// the context passed to Load.
func WithTimeout(d time.Duration) Option {
	return func(l *Loader) {
		l.timeout = d
	}
}

// New creates a Loader. A nil logger disables logging.
func New(ev *script.Evaluator, logger *zap.Logger, opts ...Option) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{ev: ev, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads path and evaluates it against server.
//
// A file that cannot be read is not an error: Load logs it and returns
// ok == false so the caller can decide what running without a pipeline
// means. Errors from evaluating or assembling a readable script are
// returned as they are.
func (l *Loader) Load(ctx context.Context, server any, path string) (p *builder.Pipeline, ok bool, err error) {
	if path == "" {
		path = DefaultScript
	}
	src, readErr := os.ReadFile(path)
	if readErr != nil {
		l.logger.Warn("Script unavailable", zap.String("path", path), zap.Error(readErr))
		return nil, false, nil
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	p, err = l.ev.Evaluate(ctx, server, path, string(src))
	if err != nil {
		return nil, true, err
	}
	l.logger.Info("Script loaded",
		zap.String("path", path),
		zap.Strings("layers", p.Layers),
		zap.Int("pre_hooks", len(p.PreHooks)),
		zap.Int("post_hooks", len(p.PostHooks)),
	)
	return p, true, nil
}
