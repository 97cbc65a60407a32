package builder

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingApplication is returned by Build when Run was never called.
	ErrMissingApplication = errors.New("builder: application object missing")

	// ErrInvalidCallable is matched by every *InvalidCallableError.
	ErrInvalidCallable = errors.New("builder: invalid callable")

	// ErrAlreadyBuilt is returned by a second call to Build.
	ErrAlreadyBuilt = errors.New("builder: pipeline already built")

	// ErrNilFactory is returned by Build when a declaration has no factory or
	// its factory produced no handler.
	ErrNilFactory = errors.New("builder: middleware factory produced no handler")
)

// InvalidCallableError reports a hook registration with a value that cannot be
// invoked with the shape the operation requires.
type InvalidCallableError struct {
	Op    string // DSL operation, e.g. "run_before"
	Want  string // required invocation shape
	Value any
}

func (e *InvalidCallableError) Error() string {
	return fmt.Sprintf("%s: this method requires an object that responds to `%s`, got %T", e.Op, e.Want, e.Value)
}

// Is makes errors.Is(err, ErrInvalidCallable) hold.
func (e *InvalidCallableError) Is(target error) bool {
	return target == ErrInvalidCallable
}
