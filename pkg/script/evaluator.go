package script

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Suhaibinator/SRack/pkg/builder"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// utf8BOM is stripped from the start of every script.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// StripBOM removes a leading UTF-8 byte-order mark.
func StripBOM(src []byte) []byte {
	return bytes.TrimPrefix(src, utf8BOM)
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger for script output and Lua callback failures.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBuilderOptions passes options to the builder of every evaluation.
func WithBuilderOptions(opts ...builder.Option) Option {
	return func(e *Evaluator) {
		e.builderOpts = append(e.builderOpts, opts...)
	}
}

// Evaluator runs configuration scripts. Each Evaluate call gets its own Lua
// state, so scripts see only the builder vocabulary and never each other.
type Evaluator struct {
	catalog     *Catalog
	logger      *zap.Logger
	builderOpts []builder.Option
}

// New creates an Evaluator resolving names against catalog. A nil catalog is
// treated as empty.
func New(catalog *Catalog, opts ...Option) *Evaluator {
	if catalog == nil {
		catalog = NewCatalog()
	}
	e := &Evaluator{
		catalog: catalog,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the catalog the evaluator resolves names against.
func (e *Evaluator) Catalog() *Catalog {
	return e.catalog
}

// session is the state of one Evaluate call.
type session struct {
	*vm
	b       *builder.Builder
	catalog *Catalog
	server  any
}

// Evaluate runs source against a fresh builder and returns the assembled
// pipeline. name identifies the source in error messages.
//
// Errors raised by the script come back as *EvaluationError. Errors from the
// builder vocabulary (for example *builder.InvalidCallableError), from
// middleware factories and from warmup are returned unchanged.
//
// ctx bounds the script body and Build, including warmup and the requests
// warmup sends; cancelling it later does not affect Lua callables that the
// returned pipeline keeps.
func (e *Evaluator) Evaluate(ctx context.Context, server any, name, source string) (*builder.Pipeline, error) {
	source = string(StripBOM([]byte(source)))

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	s := &session{
		vm:      &vm{L: L, name: name, logger: e.logger},
		b:       builder.New(server, append([]builder.Option{builder.WithLogger(e.logger)}, e.builderOpts...)...),
		catalog: e.catalog,
		server:  server,
	}

	s.loading.Store(true)
	p, err := s.run(ctx, source)
	s.loading.Store(false)

	// Handlers started during warmup may still be converting values.
	s.mu.Lock()
	retained := s.retained
	s.mu.Unlock()

	if err != nil || !retained {
		s.close()
	}
	if err != nil {
		e.logger.Debug("Script evaluation failed", zap.String("script", name), zap.Error(err))
		return nil, err
	}
	e.logger.Debug("Script evaluated",
		zap.String("script", name),
		zap.Strings("layers", p.Layers),
		zap.Bool("lua_callables", retained),
	)
	return p, nil
}

func (s *session) run(ctx context.Context, source string) (*builder.Pipeline, error) {
	if ctx != nil {
		defer func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if !s.closed {
				s.L.RemoveContext()
			}
		}()
	}
	if err := s.execute(ctx, source); err != nil {
		return nil, err
	}
	// Build runs without mu: warmups and the handlers they reach take it
	// through invoke.
	return s.b.Build()
}

// execute runs the script body with the state locked.
func (s *session) execute(ctx context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.openLibs(); err != nil {
		return &EvaluationError{Name: s.name, Err: err}
	}
	s.installServerType()
	s.installAppType()
	s.installVocabulary()

	fn, err := s.L.Load(strings.NewReader(source), s.name)
	if err != nil {
		return &EvaluationError{Name: s.name, Err: err}
	}
	if ctx != nil {
		s.L.SetContext(ctx)
	}
	s.L.Push(fn)
	if err := s.L.PCall(0, lua.MultRet, nil); err != nil {
		return s.translate(err)
	}
	return nil
}

// openLibs opens the safe subset of the standard library and removes the
// functions that reach the file system or load other code.
func (s *session) openLibs() error {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := s.L.CallByParam(lua.P{
			Fn:      s.L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return err
		}
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module", "package"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.L.SetGlobal("print", s.L.NewFunction(s.print))
	return nil
}

// installVocabulary binds the DSL. Each operation is available as a global
// function and as a method on the builder value run and use return.
func (s *session) installVocabulary() {
	ops := map[string]func(L *lua.LState, base int) int{
		"server":     s.luaServer,
		"run":        s.luaRun,
		"run_before": s.luaRunBefore,
		"run_after":  s.luaRunAfter,
		"use":        s.luaUse,
		"warmup":     s.luaWarmupOp,
	}
	mt := s.L.NewTypeMetatable(builderTypeName)
	methods := s.L.NewTable()
	for name, op := range ops {
		op := op
		s.L.SetGlobal(name, s.L.NewFunction(func(L *lua.LState) int { return op(L, 1) }))
		methods.RawSetString(name, s.L.NewFunction(func(L *lua.LState) int { return op(L, 2) }))
	}
	s.L.SetField(mt, "__index", methods)
}

func (s *session) self() *lua.LUserData {
	ud := s.L.NewUserData()
	ud.Value = s.b
	s.L.SetMetatable(ud, s.L.GetTypeMetatable(builderTypeName))
	return ud
}

func (s *session) print(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	s.logger.Info("Script output", zap.String("script", s.name), zap.String("message", strings.Join(parts, "\t")))
	return 0
}

func (s *session) luaServer(L *lua.LState, _ int) int {
	if s.server == nil {
		L.Push(lua.LNil)
		return 1
	}
	ud := L.NewUserData()
	ud.Value = s.server
	L.SetMetatable(ud, L.GetTypeMetatable(serverTypeName))
	L.Push(ud)
	return 1
}

func (s *session) luaRun(L *lua.LState, base int) int {
	switch app := L.Get(base).(type) {
	case lua.LString:
		h, ok := s.catalog.App(string(app))
		if !ok {
			return s.raise(&UnknownComponentError{Kind: "app", Name: string(app)})
		}
		s.b.Run(h)
	case *lua.LFunction:
		s.retained = true
		s.b.Run(s.luaHandler(app))
	case *lua.LUserData:
		h, ok := app.Value.(http.Handler)
		if !ok {
			return s.raise(&builder.InvalidCallableError{Op: "run", Want: "call(request, response)", Value: app.Value})
		}
		s.b.Run(h)
	default:
		value, err := s.toGo(app)
		if err != nil {
			return s.raise(err)
		}
		return s.raise(&builder.InvalidCallableError{Op: "run", Want: "call(request, response)", Value: value})
	}
	L.Push(s.self())
	return 1
}

// hookValue resolves a run_before/run_after argument to the Go value handed
// to the builder, which checks its shape.
func (s *session) hookValue(lv lua.LValue, post bool) (any, error) {
	switch h := lv.(type) {
	case *lua.LFunction:
		s.retained = true
		if post {
			return s.luaPostHook(h), nil
		}
		return s.luaPreHook(h), nil
	case lua.LString:
		hook, ok := s.catalog.Hook(string(h))
		if !ok {
			return nil, &UnknownComponentError{Kind: "hook", Name: string(h)}
		}
		return hook, nil
	}
	return s.toGo(lv)
}

func (s *session) luaRunBefore(L *lua.LState, base int) int {
	hook, err := s.hookValue(L.Get(base), false)
	if err == nil {
		err = s.b.RunBefore(hook)
	}
	if err != nil {
		return s.raise(err)
	}
	L.Push(s.self())
	return 1
}

func (s *session) luaRunAfter(L *lua.LState, base int) int {
	hook, err := s.hookValue(L.Get(base), s.b.DistinctPostHooks())
	if err == nil {
		err = s.b.RunAfter(hook)
	}
	if err != nil {
		return s.raise(err)
	}
	L.Push(s.self())
	return 1
}

func (s *session) luaUse(L *lua.LState, base int) int {
	top := L.GetTop()
	target := L.Get(base)

	var block builder.Block
	last := top
	if fn, ok := L.Get(top).(*lua.LFunction); ok && top > base {
		block = s.block(fn)
		last = top - 1
	}
	args := make([]any, 0, last-base)
	for i := base + 1; i <= last; i++ {
		arg, err := s.toGo(L.Get(i))
		if err != nil {
			return s.raise(err)
		}
		args = append(args, arg)
	}

	s.b.UseBlock(s.factoryFor(target), block, args...)
	L.Push(s.self())
	return 1
}

// factoryFor defers name resolution to Build, so an unknown or malformed
// middleware surfaces only at assembly.
func (s *session) factoryFor(lv lua.LValue) builder.Factory {
	if name, ok := lv.(lua.LString); ok {
		return builder.Named(string(name), builder.FactoryFunc(func(next http.Handler, args []any, block builder.Block) (http.Handler, error) {
			f, ok := s.catalog.Middleware(string(name))
			if !ok {
				return nil, &UnknownComponentError{Kind: "middleware", Name: string(name)}
			}
			return f.New(next, args, block)
		}))
	}
	if ud, ok := lv.(*lua.LUserData); ok {
		if f, ok := ud.Value.(builder.Factory); ok {
			return f
		}
	}
	kind := typeName(lv)
	return builder.Named("<"+kind+">", builder.FactoryFunc(func(http.Handler, []any, builder.Block) (http.Handler, error) {
		return nil, fmt.Errorf("use: %s is not a middleware factory: %w", kind, builder.ErrNilFactory)
	}))
}

func (s *session) luaWarmupOp(L *lua.LState, base int) int {
	var cb any
	switch f := L.Get(base).(type) {
	case *lua.LFunction:
		cb = s.luaWarmup(f)
	case lua.LString:
		w, ok := s.catalog.Warmup(string(f))
		if !ok {
			return s.raise(&UnknownComponentError{Kind: "warmup", Name: string(f)})
		}
		cb = w
	default:
		value, err := s.toGo(f)
		if err != nil {
			return s.raise(err)
		}
		cb = value
	}
	if err := s.b.Warmup(cb); err != nil {
		return s.raise(err)
	}
	return 0
}
