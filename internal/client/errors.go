package client

import (
	"errors"
	"fmt"
)

// ValidationError is raised before any network call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// BackendError is a well-formed non-2xx reply from the render backend.
// Message is the backend's own text and is never rewritten.
type BackendError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *BackendError) Error() string {
	return e.Message
}

// UnreachableError covers every network-level failure: refused connections,
// timeouts, cancelled requests. Fallback routing keys off this type.
type UnreachableError struct {
	Op  string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s: render backend unreachable: %v", e.Op, e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// IsUnreachable reports whether err is a network-level failure.
func IsUnreachable(err error) bool {
	var ue *UnreachableError
	return errors.As(err, &ue)
}

// IsServerError reports whether err is a 5xx reply from the backend.
func IsServerError(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.StatusCode >= 500
}

// IsValidation reports whether err was raised by local validation.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
