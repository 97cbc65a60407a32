package builder

import (
	"net/http"

	"github.com/Suhaibinator/SRack/pkg/common"
	"go.uber.org/zap"
)

// Pipeline is the assembled result of a configuration script.
type Pipeline struct {
	PreHooks  []common.PreHook
	Root      http.Handler
	PostHooks []common.PostHook

	// Layers names the middleware from outermost to innermost.
	Layers []string
}

// Build assembles the pipeline. It consumes the Builder: a second call returns
// ErrAlreadyBuilt.
//
// Errors returned by middleware factories and by the warmup callback are
// returned unchanged.
func (b *Builder) Build() (*Pipeline, error) {
	if b.built {
		return nil, ErrAlreadyBuilt
	}
	if b.app == nil {
		return nil, ErrMissingApplication
	}
	b.built = true

	root := b.app
	for i := len(b.declarations) - 1; i >= 0; i-- {
		d := b.declarations[i]
		if isNilFactory(d.Factory) {
			return nil, ErrNilFactory
		}
		next, err := d.Factory.New(root, d.Args, d.Block)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, ErrNilFactory
		}
		root = next
	}

	layers := make([]string, len(b.declarations))
	for i, d := range b.declarations {
		layers[i] = d.Name()
	}

	pre := make([]common.PreHook, len(b.preHooks))
	copy(pre, b.preHooks)
	post := make([]common.PostHook, len(b.postHooks))
	for i, h := range b.postHooks {
		post[len(post)-1-i] = h
	}

	b.logger.Debug("Pipeline assembled",
		zap.Strings("layers", layers),
		zap.Int("pre_hooks", len(pre)),
		zap.Int("post_hooks", len(post)),
		zap.Bool("warmup", b.warmup != nil),
	)

	if b.warmup != nil {
		if err := b.warmup(root); err != nil {
			return nil, err
		}
	}

	p := &Pipeline{
		PreHooks:  pre,
		Root:      root,
		PostHooks: post,
		Layers:    layers,
	}
	b.declarations, b.preHooks, b.postHooks, b.app, b.warmup = nil, nil, nil, nil, nil
	return p, nil
}

func isNilFactory(f Factory) bool {
	switch v := f.(type) {
	case nil:
		return true
	case FactoryFunc:
		return v == nil
	case namedFactory:
		return isNilFactory(v.Factory)
	}
	return false
}
