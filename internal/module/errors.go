package module

import (
	"errors"
	"fmt"
)

// Errors returned by registry operations.
var (
	// ErrModuleNotFound indicates no module is registered under the id.
	ErrModuleNotFound = errors.New("module not found")

	// ErrVariableNotFound indicates the module declares no such variable.
	ErrVariableNotFound = errors.New("variable not found")

	// ErrNotRegistered indicates the module has not been registered yet.
	ErrNotRegistered = errors.New("module not registered")

	// ErrReadOnly indicates a write to a mirrored, server-owned module.
	ErrReadOnly = errors.New("module is read-only on this role")

	// ErrInvalidID indicates a malformed module or variable identifier.
	ErrInvalidID = errors.New("invalid identifier")

	// ErrTypeMismatch indicates a value of the wrong type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrValidationFailed indicates a value failed a variable constraint.
	ErrValidationFailed = errors.New("validation failed")
)

// SchemaError reports a programming error in a module definition, such as
// a default that fails its own validator. Schema errors are not recoverable;
// the Must* helpers panic with them.
type SchemaError struct {
	Module   string
	Variable string
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	where := e.Module
	if e.Variable != "" {
		where += "." + e.Variable
	}
	if e.Err != nil {
		return fmt.Sprintf("schema error in %s: %s: %v", where, e.Message, e.Err)
	}
	return fmt.Sprintf("schema error in %s: %s", where, e.Message)
}

// Unwrap returns the underlying error.
func (e *SchemaError) Unwrap() error {
	return e.Err
}

// ValidationError describes a value rejected by a variable.
type ValidationError struct {
	Module   string
	Variable string
	Value    any
	Message  string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s.%s: %s (value: %v)", e.Module, e.Variable, e.Message, e.Value)
}

// Is implements error matching for ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// TypeError is returned when a value does not have the variable's type.
type TypeError struct {
	Module   string
	Variable string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	return fmt.Sprintf("type error for %s.%s: expected %s, got %s", e.Module, e.Variable, e.Expected, e.Actual)
}

// Is implements error matching for TypeError.
func (e *TypeError) Is(target error) bool {
	return target == ErrTypeMismatch
}
