package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrCapacityExceeded  = errors.New("session capacity exceeded")
	ErrStoreUnavailable  = errors.New("session store unavailable")
	ErrSearchUnavailable = errors.New("knowledge search unavailable")
	ErrQueueUnavailable  = errors.New("ingestion queue unavailable")
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrModelTimeout      = errors.New("model timeout")
)

// OpError ties a failed operation to an error kind and its cause.
type OpError struct {
	Kind error
	Op   string
	Err  error
}

// E wraps err as a failure of op with the given kind. A nil err yields nil.
func E(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Kind: kind, Op: op, Err: err}
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *OpError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a validation error for field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + " " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
