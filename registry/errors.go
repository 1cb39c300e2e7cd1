package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateName is matched by DuplicateNameError.
	ErrDuplicateName = errors.New("registry: duplicate tool name")
	// ErrDuplicateResource is matched by DuplicateResourceError.
	ErrDuplicateResource = errors.New("registry: duplicate resource")
	// ErrToolNotFound is returned when looking up an unknown tool.
	ErrToolNotFound = errors.New("registry: tool not found")
	// ErrResourceNotFound is returned when no reader serves a URI.
	ErrResourceNotFound = errors.New("registry: resource not found")
	// ErrInvalidSpec is returned for malformed tool or resource specs.
	ErrInvalidSpec = errors.New("registry: invalid spec")
)

// DuplicateNameError reports a tool name that is already registered.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("registry: tool %q is already registered", e.Name)
}

func (e *DuplicateNameError) Unwrap() error { return ErrDuplicateName }

// DuplicateResourceError reports a resource whose name or URI collides with
// an existing one. Field is "name" or "uri".
type DuplicateResourceError struct {
	Field string
	Value string
}

func (e *DuplicateResourceError) Error() string {
	return fmt.Sprintf("registry: resource %s %q is already registered", e.Field, e.Value)
}

func (e *DuplicateResourceError) Unwrap() error { return ErrDuplicateResource }

func invalidSpec(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSpec, fmt.Sprintf(format, args...))
}
