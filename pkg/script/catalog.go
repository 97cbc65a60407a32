package script

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/Suhaibinator/SRack/pkg/builder"
)

// Catalog holds the Go components a script may refer to by name.
// It is safe for concurrent use.
type Catalog struct {
	mu         sync.RWMutex
	apps       map[string]http.Handler
	middleware map[string]builder.Factory
	hooks      map[string]any
	warmups    map[string]builder.WarmupFunc
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		apps:       make(map[string]http.Handler),
		middleware: make(map[string]builder.Factory),
		hooks:      make(map[string]any),
		warmups:    make(map[string]builder.WarmupFunc),
	}
}

func register[V any](c *Catalog, m map[string]V, kind, name string, v V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := m[name]; ok {
		return fmt.Errorf("%s %q: %w", kind, name, ErrDuplicateComponent)
	}
	m[name] = v
	return nil
}

func lookup[V any](c *Catalog, m map[string]V, name string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := m[name]
	return v, ok
}

// RegisterApp makes h available to run("name").
func (c *Catalog) RegisterApp(name string, h http.Handler) error {
	return register(c, c.apps, "app", name, h)
}

// RegisterMiddleware makes f available to use("name", ...). The factory is
// wrapped so the layer shows up under name in Pipeline.Layers.
func (c *Catalog) RegisterMiddleware(name string, f builder.Factory) error {
	return register(c, c.middleware, "middleware", name, builder.Named(name, f))
}

// RegisterHook makes hook available to run_before("name") and run_after("name").
// The shape is checked when a script uses it.
func (c *Catalog) RegisterHook(name string, hook any) error {
	return register(c, c.hooks, "hook", name, hook)
}

// RegisterWarmup makes f available to warmup("name").
func (c *Catalog) RegisterWarmup(name string, f builder.WarmupFunc) error {
	return register(c, c.warmups, "warmup", name, f)
}

// App looks up an application.
func (c *Catalog) App(name string) (http.Handler, bool) { return lookup(c, c.apps, name) }

// Middleware looks up a middleware factory.
func (c *Catalog) Middleware(name string) (builder.Factory, bool) {
	return lookup(c, c.middleware, name)
}

// Hook looks up a hook.
func (c *Catalog) Hook(name string) (any, bool) { return lookup(c, c.hooks, name) }

// Warmup looks up a warmup callback.
func (c *Catalog) Warmup(name string) (builder.WarmupFunc, bool) { return lookup(c, c.warmups, name) }

// MiddlewareNames lists the registered middleware, sorted.
func (c *Catalog) MiddlewareNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.middleware))
	for name := range c.middleware {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
