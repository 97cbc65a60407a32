// Package common provides shared types used across the SRack packages.
package common

import (
	"net/http"
)

// Middleware is a function that wraps an http.Handler.
// The server uses it for the fixed layers it places around every pipeline.
type Middleware func(http.Handler) http.Handler

// PreHook runs before the root handler sees a request.
// It receives the response writer and the request, in that order, like a handler.
type PreHook func(w http.ResponseWriter, r *http.Request)

// PostHook runs once the response has completed.
// For streamed responses this is after the last write, when the handler returns.
type PostHook func(r *http.Request)
