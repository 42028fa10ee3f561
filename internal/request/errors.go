package request

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned (wrapped with the id) when a request does not exist.
var ErrNotFound = errors.New("request not found")

// ValidationError reports a rejected input value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("request: invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func notFound(id uint) error {
	return fmt.Errorf("request: %w: %d", ErrNotFound, id)
}
