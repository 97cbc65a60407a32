package builder

import (
	"net/http"

	"github.com/Suhaibinator/SRack/pkg/common"
	"go.uber.org/zap"
)

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger used for assembly events.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithDistinctPostHooks routes RunAfter into the post-hook list and requires a
// call(request) shape. Without it RunAfter behaves like RunBefore: it takes a
// call(request, response) hook and appends it to the pre-hook list.
func WithDistinctPostHooks() Option {
	return func(b *Builder) {
		b.distinctPostHooks = true
	}
}

// Builder is the declaration context of one configuration script.
type Builder struct {
	server            any
	app               http.Handler
	declarations      []Declaration
	preHooks          []common.PreHook
	postHooks         []common.PostHook
	warmup            WarmupFunc
	distinctPostHooks bool
	built             bool
	logger            *zap.Logger
}

// New creates a Builder that exposes server to the script.
func New(server any, opts ...Option) *Builder {
	b := &Builder{
		server: server,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Server returns the server reference given to New.
func (b *Builder) Server() any {
	return b.server
}

// Run sets the terminal application. A later call replaces an earlier one.
func (b *Builder) Run(app http.Handler) *Builder {
	b.app = app
	return b
}

// RunBefore appends a hook that is called with (w, r) before the root
// handler.
func (b *Builder) RunBefore(hook any) error {
	h, ok := asPreHook(hook)
	if !ok {
		return &InvalidCallableError{Op: "run_before", Want: shapePreHook, Value: hook}
	}
	b.preHooks = append(b.preHooks, h)
	return nil
}

// RunAfter registers a cleanup hook. See WithDistinctPostHooks for where it
// ends up.
func (b *Builder) RunAfter(hook any) error {
	if !b.distinctPostHooks {
		h, ok := asPreHook(hook)
		if !ok {
			return &InvalidCallableError{Op: "run_after", Want: shapePreHook, Value: hook}
		}
		b.preHooks = append(b.preHooks, h)
		return nil
	}
	h, ok := asPostHook(hook)
	if !ok {
		return &InvalidCallableError{Op: "run_after", Want: shapePostHook, Value: hook}
	}
	b.postHooks = append(b.postHooks, h)
	return nil
}

// Use declares a middleware layer. The factory is not called until Build.
func (b *Builder) Use(factory Factory, args ...any) *Builder {
	return b.UseBlock(factory, nil, args...)
}

// UseBlock is Use with a trailing callback handed to the factory.
func (b *Builder) UseBlock(factory Factory, block Block, args ...any) *Builder {
	b.declarations = append(b.declarations, Declaration{
		Factory: factory,
		Args:    args,
		Block:   block,
	})
	return b
}

// Warmup sets the callback invoked once the pipeline is assembled. Only the
// first call has an effect; later calls are validated and then ignored.
func (b *Builder) Warmup(callback any) error {
	f, ok := asWarmup(callback)
	if !ok {
		return &InvalidCallableError{Op: "warmup", Want: shapeWarmup, Value: callback}
	}
	if b.warmup == nil {
		b.warmup = f
	}
	return nil
}

// DistinctPostHooks reports whether RunAfter feeds the post-hook list.
func (b *Builder) DistinctPostHooks() bool {
	return b.distinctPostHooks
}

// Declarations returns a copy of the recorded middleware declarations.
func (b *Builder) Declarations() []Declaration {
	out := make([]Declaration, len(b.declarations))
	copy(out, b.declarations)
	return out
}
