// Package apperr holds the error kinds shared by the ledger and the
// dialogue engine. Callers match them with errors.As.
package apperr

import "fmt"

// ValidationError reports bad user input. It is always recoverable by
// asking for the same value again.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// Validation builds a ValidationError with a formatted message.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing record or one the acting user may not see.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(kind string, id int64) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// StateError reports an action that does not fit the current state.
type StateError struct {
	State string
	Msg   string
}

func (e *StateError) Error() string {
	if e.State == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s (state %s)", e.Msg, e.State)
}

// ExternalServiceError wraps a failed call to the extractor or the
// transcription service.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// External wraps err as an ExternalServiceError. A nil err stays nil.
func External(service string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalServiceError{Service: service, Err: err}
}
