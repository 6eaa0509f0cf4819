package props

import (
	"errors"
	"fmt"
)

// ErrParameter is matched by every error caused by bad input properties.
// Use errors.Is(err, ErrParameter) to classify.
var ErrParameter = errors.New("parameter error")

// UnknownPropertyError is returned for a property that is not in the table.
type UnknownPropertyError struct {
	Resource string
	Property string
}

func (e *UnknownPropertyError) Error() string {
	return fmt.Sprintf("property %q is not defined in the data model for %s", e.Property, e.Resource)
}

func (e *UnknownPropertyError) Is(target error) bool { return target == ErrParameter }

// PropertyNotAllowedError is returned for read-only and derived properties.
type PropertyNotAllowedError struct {
	Property string
}

func (e *PropertyNotAllowedError) Error() string {
	return fmt.Sprintf("property %q is not allowed in the properties parameter", e.Property)
}

func (e *PropertyNotAllowedError) Is(target error) bool { return target == ErrParameter }

// PropertyNotUpdatableError is returned when a create-only property of an
// existing resource would have to change.
type PropertyNotUpdatableError struct {
	Resource string
	Property string
	Current  any
	Desired  any
}

func (e *PropertyNotUpdatableError) Error() string {
	return fmt.Sprintf("property %q can be set during %s creation but cannot be updated afterwards (from %v to %v)",
		e.Property, e.Resource, e.Current, e.Desired)
}

func (e *PropertyNotUpdatableError) Is(target error) bool { return target == ErrParameter }

// UnresolvedReferenceError is returned when an artificial property names an
// object that does not exist.
type UnresolvedReferenceError struct {
	Property string
	Value    any
	Err      error
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("artificial property %q does not specify the name of an existing object: %v", e.Property, e.Value)
}

func (e *UnresolvedReferenceError) Is(target error) bool { return target == ErrParameter }

func (e *UnresolvedReferenceError) Unwrap() error { return e.Err }

// InvalidValueError is returned when a cast function rejects an input value.
type InvalidValueError struct {
	Property string
	Value    any
	Reason   string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value %v for property %q: %s", e.Value, e.Property, e.Reason)
}

func (e *InvalidValueError) Is(target error) bool { return target == ErrParameter }
