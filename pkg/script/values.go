package script

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Suhaibinator/SRack/pkg/builder"
	lua "github.com/yuin/gopher-lua"
)

// maxTableDepth bounds the nesting of tables converted by toGo.
const maxTableDepth = 64

// toGo converts a Lua value into the plain Go values middleware factories
// decode: nil, bool, float64, string, []any and map[string]any. Functions
// become builder.Block values bound to v. A table that contains itself, or
// nests deeper than maxTableDepth, is reported as an *EvaluationError.
func (v *vm) toGo(lv lua.LValue) (any, error) {
	out, err := v.convert(lv, map[*lua.LTable]bool{}, 0)
	if err != nil {
		return nil, &EvaluationError{Name: v.name, Err: err}
	}
	return out, nil
}

func (v *vm) convert(lv lua.LValue, path map[*lua.LTable]bool, depth int) (any, error) {
	switch val := lv.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(val), nil
	case lua.LNumber:
		return float64(val), nil
	case lua.LString:
		return string(val), nil
	case *lua.LFunction:
		return v.block(val), nil
	case *lua.LUserData:
		return val.Value, nil
	case *lua.LTable:
		return v.tableToGo(val, path, depth+1)
	}
	return lv.String(), nil
}

// tableToGo converts t. path holds the tables being converted above t, so a
// table shared by two fields is fine but one that contains itself is not.
func (v *vm) tableToGo(t *lua.LTable, path map[*lua.LTable]bool, depth int) (any, error) {
	if path[t] {
		return nil, ErrCyclicTable
	}
	if depth > maxTableDepth {
		return nil, fmt.Errorf("%w (limit %d)", ErrTableTooDeep, maxTableDepth)
	}
	path[t] = true
	defer delete(path, t)

	n := t.Len()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })
	if n > 0 && n == count {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			item, err := v.convert(t.RawGetInt(i), path, depth)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	}

	out := make(map[string]any, count)
	var err error
	t.ForEach(func(k, val lua.LValue) {
		if err != nil {
			return
		}
		var item any
		if item, err = v.convert(val, path, depth); err == nil {
			out[k.String()] = item
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// block adapts a Lua function to a middleware declaration's trailing callback.
func (v *vm) block(fn *lua.LFunction) builder.Block {
	v.retained = true
	return func(args ...any) (any, error) {
		var out any
		var convErr error
		err := v.invoke(fn, 1, func(L *lua.LState) []lua.LValue {
			largs := make([]lua.LValue, len(args))
			for i, a := range args {
				largs[i] = toLua(L, a)
			}
			return largs
		}, func(rets []lua.LValue) {
			out, convErr = v.toGo(rets[0])
		})
		if err != nil {
			return nil, err
		}
		return out, convErr
	}
}
