package builder

import (
	"net/http"

	"github.com/Suhaibinator/SRack/pkg/common"
)

// WarmupFunc is called once with the fully wrapped root handler.
type WarmupFunc func(root http.Handler) error

const (
	shapePreHook  = "call(request, response)"
	shapePostHook = "call(request)"
	shapeWarmup   = "call(app)"
)

// asPreHook accepts the handler-shaped values a pre-hook may be given.
func asPreHook(v any) (common.PreHook, bool) {
	switch h := v.(type) {
	case common.PreHook:
		return h, h != nil
	case func(http.ResponseWriter, *http.Request):
		return h, h != nil
	case http.HandlerFunc:
		return common.PreHook(h), h != nil
	case http.Handler:
		if h == nil {
			return nil, false
		}
		return h.ServeHTTP, true
	}
	return nil, false
}

func asPostHook(v any) (common.PostHook, bool) {
	switch h := v.(type) {
	case common.PostHook:
		return h, h != nil
	case func(*http.Request):
		return h, h != nil
	}
	return nil, false
}

func asWarmup(v any) (WarmupFunc, bool) {
	switch f := v.(type) {
	case WarmupFunc:
		return f, f != nil
	case func(http.Handler) error:
		return f, f != nil
	case func(http.Handler):
		if f == nil {
			return nil, false
		}
		return func(root http.Handler) error {
			f(root)
			return nil
		}, true
	}
	return nil, false
}
