// Package common defines the error vocabulary shared by the credential
// store, the token verifier, the authorization gate and the HTTP layer.
// Callers match with errors.Is / errors.As.
package common

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Credential and lock state.
	ErrDuplicateIdentity  = errors.New("username or email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account is locked")
	ErrAccountInactive    = errors.New("account is not active")

	// Token and authorization.
	ErrInvalidToken = errors.New("invalid token")
	ErrForbidden    = errors.New("forbidden")

	ErrValidation = errors.New("validation error")
	ErrInternal   = errors.New("internal error")
)

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// LockedError carries the instant the current lock lapses and how long
// remains until then, measured on the caller's clock.
type LockedError struct {
	Until      time.Time
	RetryAfter time.Duration
}

func NewLockedError(until, now time.Time) *LockedError {
	return &LockedError{Until: until, RetryAfter: max(until.Sub(now), 0)}
}

func (e *LockedError) Error() string {
	return ErrAccountLocked.Error()
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
