package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a referenced card does not exist.
	ErrNotFound = errors.New("hoksip: not found")
	// ErrInvalid matches every *ValidationError.
	ErrInvalid = errors.New("hoksip: invalid input")
)

// ValidationError describes rejected user input. Nothing has been changed when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalid) hold for any validation error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}
