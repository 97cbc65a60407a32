package common

import (
	"net/http"
)

// MiddlewareChain represents a chain of middleware
type MiddlewareChain []Middleware

// NewMiddlewareChain creates a new middleware chain
func NewMiddlewareChain(middlewares ...Middleware) MiddlewareChain {
	return middlewares
}

// Append adds middleware to the end of the chain
func (c MiddlewareChain) Append(middlewares ...Middleware) MiddlewareChain {
	out := make(MiddlewareChain, 0, len(c)+len(middlewares))
	out = append(out, c...)
	return append(out, middlewares...)
}

// Then applies the middleware chain to a handler.
// The first middleware in the chain is the outermost one.
func (c MiddlewareChain) Then(h http.Handler) http.Handler {
	for i := len(c) - 1; i >= 0; i-- {
		h = c[i](h)
	}
	return h
}

// ThenFunc is Then for a plain handler function.
func (c MiddlewareChain) ThenFunc(fn http.HandlerFunc) http.Handler {
	return c.Then(fn)
}

// RunPreHooks calls every hook in order.
func RunPreHooks(hooks []PreHook, w http.ResponseWriter, r *http.Request) {
	for _, h := range hooks {
		h(w, r)
	}
}

// RunPostHooks calls every hook in order.
func RunPostHooks(hooks []PostHook, r *http.Request) {
	for _, h := range hooks {
		h(r)
	}
}
