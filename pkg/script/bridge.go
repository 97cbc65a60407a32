package script

import (
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/Suhaibinator/SRack/pkg/builder"
	"github.com/Suhaibinator/SRack/pkg/common"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

const (
	serverTypeName  = "srack.server"
	builderTypeName = "srack.builder"
	appTypeName     = "srack.app"
)

// requestTable exposes the parts of r a script hook usually needs.
func requestTable(L *lua.LState, r *http.Request) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("method", lua.LString(r.Method))
	t.RawSetString("path", lua.LString(r.URL.Path))
	t.RawSetString("query", lua.LString(r.URL.RawQuery))
	t.RawSetString("host", lua.LString(r.Host))
	t.RawSetString("remote_addr", lua.LString(r.RemoteAddr))
	t.RawSetString("header", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(r.Header.Get(L.CheckString(1))))
		return 1
	}))
	return t
}

// responseTable lets a script set headers, the status code and the body.
func responseTable(L *lua.LState, w http.ResponseWriter) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("set_header", L.NewFunction(func(L *lua.LState) int {
		w.Header().Set(L.CheckString(1), L.CheckString(2))
		return 0
	}))
	t.RawSetString("status", L.NewFunction(func(L *lua.LState) int {
		w.WriteHeader(L.CheckInt(1))
		return 0
	}))
	t.RawSetString("write", L.NewFunction(func(L *lua.LState) int {
		n, err := w.Write([]byte(L.CheckString(1)))
		if err != nil {
			L.RaiseError("write: %v", err)
		}
		L.Push(lua.LNumber(n))
		return 1
	}))
	return t
}

// luaHandler turns run(function(req, res) ... end) into an http.Handler.
func (v *vm) luaHandler(fn *lua.LFunction) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := v.invoke(fn, 0, func(L *lua.LState) []lua.LValue {
			return []lua.LValue{requestTable(L, r), responseTable(L, w)}
		}, nil)
		if err != nil {
			v.logger.Error("Script handler failed",
				zap.Error(err),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	})
}

func (v *vm) luaPreHook(fn *lua.LFunction) common.PreHook {
	return func(w http.ResponseWriter, r *http.Request) {
		err := v.invoke(fn, 0, func(L *lua.LState) []lua.LValue {
			return []lua.LValue{requestTable(L, r), responseTable(L, w)}
		}, nil)
		if err != nil {
			v.logger.Error("Script pre-request hook failed",
				zap.Error(err),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
		}
	}
}

func (v *vm) luaPostHook(fn *lua.LFunction) common.PostHook {
	return func(r *http.Request) {
		err := v.invoke(fn, 0, func(L *lua.LState) []lua.LValue {
			return []lua.LValue{requestTable(L, r)}
		}, nil)
		if err != nil {
			v.logger.Error("Script post-request hook failed",
				zap.Error(err),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
		}
	}
}

func (v *vm) luaWarmup(fn *lua.LFunction) builder.WarmupFunc {
	return func(root http.Handler) error {
		return v.invoke(fn, 0, func(L *lua.LState) []lua.LValue {
			return []lua.LValue{v.appValue(root)}
		}, nil)
	}
}

// appValue wraps the assembled root handler for warmup callbacks.
// app:serve(method, path) sends a synthetic request through the whole pipeline
// and returns the status code and body.
func (v *vm) appValue(root http.Handler) *lua.LUserData {
	ud := v.L.NewUserData()
	ud.Value = root
	v.L.SetMetatable(ud, v.L.GetTypeMetatable(appTypeName))
	return ud
}

func (v *vm) installAppType() {
	mt := v.L.NewTypeMetatable(appTypeName)
	methods := v.L.NewTable()
	methods.RawSetString("serve", v.L.NewFunction(func(L *lua.LState) int {
		h, ok := L.CheckUserData(1).Value.(http.Handler)
		if !ok {
			L.ArgError(1, "app expected")
		}
		if !v.loading.Load() {
			L.RaiseError("app:serve is only available while the script is loading")
		}
		method := strings.ToUpper(L.OptString(2, http.MethodGet))
		path := L.OptString(3, "/")
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, nil)
		v.unlocked(func() { h.ServeHTTP(rec, req) })
		L.Push(lua.LNumber(rec.Code))
		L.Push(lua.LString(rec.Body.String()))
		return 2
	}))
	v.L.SetField(mt, "__index", methods)
	v.L.SetField(mt, "__tostring", v.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("app"))
		return 1
	}))
}

// Describer is implemented by servers that expose read-only properties to
// scripts through server().
type Describer interface {
	Info() map[string]any
}

func (v *vm) installServerType() {
	mt := v.L.NewTypeMetatable(serverTypeName)
	v.L.SetField(mt, "__index", v.L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		key := L.CheckString(2)
		d, ok := ud.Value.(Describer)
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(toLua(L, d.Info()[key]))
		return 1
	}))
	v.L.SetField(mt, "__newindex", v.L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("server is read-only")
		return 0
	}))
}
