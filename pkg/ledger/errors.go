package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatch is returned when free text does not contain a recognizable expense.
	ErrNoMatch = errors.New("no expense found in text")
	// ErrValidation is wrapped by every *ValidationError.
	ErrValidation = errors.New("invalid expense")
	// ErrNotFound is returned when an expense or category does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidSnapshot is returned when import data is neither a snapshot nor an expense list.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

// ValidationError describes a rejected field. No state is mutated when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
