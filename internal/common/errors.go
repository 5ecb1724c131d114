// Package common defines shared sentinel errors and small helpers used across
// formbot components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Input validation failures: reported to the user, state unchanged.
	ErrValidation = errors.New("validation error")

	// Authentication failures.
	ErrUnauthorized = errors.New("unauthorized")

	// Precondition failures: operation aborted, nothing mutated.
	ErrPrecondition = errors.New("precondition failed")

	// Collaborator delivered nothing usable.
	ErrUnavailable = errors.New("service unavailable")
)
