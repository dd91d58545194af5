package recurrence

import (
	"errors"
	"fmt"
)

// ErrorType classifies recurrence errors
type ErrorType string

const (
	// ErrInvalidRule marks a rule rejected at construction. Permanent.
	ErrInvalidRule ErrorType = "invalid_rule"
	// ErrUsage marks caller misuse, such as asking an infinite sequence for its end.
	ErrUsage ErrorType = "usage"
	// ErrTooManyInstances marks an expansion that exceeded its instance ceiling.
	ErrTooManyInstances ErrorType = "too_many_instances"
	// ErrBudgetExhausted marks a search that gave up before it could decide.
	ErrBudgetExhausted ErrorType = "budget_exhausted"
	// ErrNoInstances marks a lookup that provably has no occurrence.
	ErrNoInstances ErrorType = "no_instances"
	// ErrInvalidInput marks malformed input at the document boundary.
	ErrInvalidInput ErrorType = "invalid_input"
)

// Error represents a recurrence-related error
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Type, so callers can write
// errors.Is(err, &recurrence.Error{Type: recurrence.ErrTooManyInstances}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Type == e.Type
}

// IsType reports whether err wraps an *Error of type t.
func IsType(err error, t ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == t
}

func newError(t ErrorType, format string, args ...any) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}
