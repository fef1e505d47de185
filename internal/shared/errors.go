package shared

import "errors"

var (
	// ErrNotFound indicates resource not found or soft-deleted.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the caller may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthorized indicates a missing or invalid session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrDuplicate indicates a uniqueness violation.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("validation failed")
	// ErrLastOwner indicates an attempt to remove or demote the final owner of a scope.
	ErrLastOwner = errors.New("cannot remove the last owner")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
