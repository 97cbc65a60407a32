package script

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// errClosed is returned by invoke once the state has been closed.
var errClosed = errors.New("lua state closed")

// vm owns one Lua state. Every goroutine that runs Lua code holds mu: the
// evaluating goroutine while the script body runs, and invoke for each Lua
// callable. Go functions bound into Lua that may dispatch requests release mu
// for that call with unlocked, so handlers on other goroutines can take it.
type vm struct {
	mu     sync.Mutex
	L      *lua.LState
	name   string
	logger *zap.Logger
	closed bool // guarded by mu

	// loading is set while Evaluate runs; app:serve is refused otherwise.
	loading atomic.Bool

	// retained, guarded by mu, is set once a Lua function escapes into the
	// pipeline; the state is then kept open after evaluation.
	retained bool
}

// invoke calls fn with nret results. args and results run while the state is
// locked, so they may allocate Lua values or read returned tables.
func (v *vm) invoke(fn *lua.LFunction, nret int, args func(L *lua.LState) []lua.LValue, results func(rets []lua.LValue)) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return &EvaluationError{Name: v.name, Err: errClosed}
	}

	var largs []lua.LValue
	if args != nil {
		largs = args(v.L)
	}
	top := v.L.GetTop()
	if err := v.L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, largs...); err != nil {
		v.L.SetTop(top)
		return v.translate(err)
	}
	if results != nil {
		rets := make([]lua.LValue, nret)
		for i := 0; i < nret; i++ {
			rets[i] = v.L.Get(top + 1 + i)
		}
		results(rets)
	}
	v.L.SetTop(top)
	return nil
}

// unlocked runs fn with mu released. Only Go functions called from Lua use
// it, and those always run on the goroutine holding mu. Calls other
// goroutines make on the state while fn runs complete before the caller
// resumes, because it must take mu back first.
func (v *vm) unlocked(fn func()) {
	v.mu.Unlock()
	defer v.mu.Lock()
	fn()
}

// raise aborts the running Lua code with err. The error comes back out of
// PCall unchanged so callers can match it with errors.As.
func (v *vm) raise(err error) int {
	ud := v.L.NewUserData()
	ud.Value = goError{err}
	mt := v.L.NewTable()
	v.L.SetField(mt, "__tostring", v.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(err.Error()))
		return 1
	}))
	v.L.SetMetatable(ud, mt)
	v.L.Error(ud, 1)
	return 0
}

// goError marks a Go error travelling through the Lua error channel.
type goError struct{ err error }

func (v *vm) translate(err error) error {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		if ud, ok := apiErr.Object.(*lua.LUserData); ok {
			if ge, ok := ud.Value.(goError); ok {
				return ge.err
			}
		}
		return &EvaluationError{Name: v.name, Err: apiErr}
	}
	return &EvaluationError{Name: v.name, Err: err}
}

func (v *vm) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.closed = true
		v.L.Close()
	}
}

func typeName(lv lua.LValue) string {
	if ud, ok := lv.(*lua.LUserData); ok && ud.Value != nil {
		return fmt.Sprintf("userdata<%T>", ud.Value)
	}
	return lv.Type().String()
}
