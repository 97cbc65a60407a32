package builder

import (
	"fmt"
	"net/http"
)

// Block is the optional trailing callback of a middleware declaration.
type Block func(args ...any) (any, error)

// Factory constructs one middleware layer around next.
type Factory interface {
	New(next http.Handler, args []any, block Block) (http.Handler, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(next http.Handler, args []any, block Block) (http.Handler, error)

// New calls f.
func (f FactoryFunc) New(next http.Handler, args []any, block Block) (http.Handler, error) {
	return f(next, args, block)
}

// Wrap adapts a plain func(http.Handler) http.Handler that takes no arguments.
func Wrap(mw func(http.Handler) http.Handler) Factory {
	return FactoryFunc(func(next http.Handler, _ []any, _ Block) (http.Handler, error) {
		return mw(next), nil
	})
}

type namedFactory struct {
	name string
	Factory
}

func (n namedFactory) String() string { return n.name }

// Named attaches a layer name to f. The name shows up in Pipeline.Layers.
func Named(name string, f Factory) Factory {
	return namedFactory{name: name, Factory: f}
}

// Declaration is one recorded Use call.
type Declaration struct {
	Factory Factory
	Args    []any
	Block   Block
}

// Name returns the layer name for diagnostics.
func (d Declaration) Name() string {
	switch f := d.Factory.(type) {
	case nil:
		return "<nil>"
	case fmt.Stringer:
		return f.String()
	default:
		return fmt.Sprintf("%T", f)
	}
}
