package storage

import (
	"errors"
	"fmt"
)

// Error classes shared by every layer above storage. Callers classify with
// errors.Is; the typed errors below carry row- and field-level detail.
var (
	// ErrNotFound indicates a missing project, reference, tag, batch or workflow.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed input, such as a cross-project id.
	ErrValidation = errors.New("validation error")

	// ErrConflict indicates input that would create duplicates.
	ErrConflict = errors.New("conflict")

	// ErrIntegrity indicates a refused operation that would break stored data.
	ErrIntegrity = errors.New("integrity error")
)

// ValidationError reports one invalid input. Row is the zero-based input row
// it refers to, or -1 when it concerns the request as a whole.
type ValidationError struct {
	Field   string
	Row     int
	Message string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Row >= 0 && e.Field != "":
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Message)
	case e.Row >= 0:
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// Is makes errors.Is(err, ErrValidation) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError not tied to an input row.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Row: -1, Message: fmt.Sprintf(format, args...)}
}

// InvalidRow builds a ValidationError for one input row.
func InvalidRow(row int, field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Row: row, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports input that would duplicate existing or sibling rows.
type ConflictError struct {
	Row     int // -1 when not tied to an input row
	Message string
}

func (e *ConflictError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return e.Message
}

// Is makes errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// IntegrityError reports a refused operation or a detected corruption.
type IntegrityError struct {
	Message string
}

func (e *IntegrityError) Error() string {
	return "integrity: " + e.Message
}

// Is makes errors.Is(err, ErrIntegrity) match.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}
