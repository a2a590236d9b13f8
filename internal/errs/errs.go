// Package errs holds the error taxonomy shared by the sync client layers.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation indicates a malformed mutation rejected before any network call.
	ErrValidation = errors.New("validation failed")

	// ErrTransientFetch indicates a REST call failed; local state is preserved.
	ErrTransientFetch = errors.New("transient fetch failure")

	// ErrTransport indicates the push channel dropped or could not be established.
	ErrTransport = errors.New("transport failure")

	// ErrNotFound indicates the referenced entity does not exist locally or remotely.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the session credential was rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidTenant indicates the tenant identifier was rejected.
	ErrInvalidTenant = errors.New("invalid tenant")

	// ErrSessionClosed indicates the owning session was torn down.
	ErrSessionClosed = errors.New("session closed")
)

// ValidationError names the offending field of a rejected mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// FetchError wraps a failed REST exchange.
type FetchError struct {
	Operation  string
	StatusCode int
	Code       string
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Code != "":
		return fmt.Sprintf("%s: status %d: %s", e.Operation, e.StatusCode, e.Code)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Operation, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	default:
		return e.Operation
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrTransientFetch:
		return true
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrInvalidTenant:
		return e.Code == "invalid_tenant"
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// IsAuthFailure reports whether err belongs to the auth/tenant collaborators.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidTenant)
}

// TransportError describes a channel drop.
type TransportError struct {
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport: " + e.Reason
	}
	return fmt.Sprintf("transport: %s: %v", e.Reason, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
