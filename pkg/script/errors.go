package script

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateComponent is returned when a catalog name is registered twice.
	ErrDuplicateComponent = errors.New("script: component already registered")

	// ErrCyclicTable is returned when a table handed to Go contains itself.
	ErrCyclicTable = errors.New("table contains itself")

	// ErrTableTooDeep is returned when a table handed to Go nests too deeply.
	ErrTableTooDeep = errors.New("table nested too deeply")
)

// UnknownComponentError reports a script reference to a name the catalog does
// not hold.
type UnknownComponentError struct {
	Kind string // "app", "middleware", "hook" or "warmup"
	Name string
}

func (e *UnknownComponentError) Error() string {
	return fmt.Sprintf("script: unknown %s %q", e.Kind, e.Name)
}

// EvaluationError wraps an error raised by the script's own code, or by a Lua
// callback the script registered.
type EvaluationError struct {
	Name string // source identifier, usually the file path
	Err  error
}

func (e *EvaluationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return fmt.Sprintf("script %s: %v", e.Name, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
