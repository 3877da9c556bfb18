package domain

import "errors"

var (
	// ErrValidation marks caller-caused input errors.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups for records that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks state conflicts such as duplicate inserts.
	ErrConflict = errors.New("conflict")
	// ErrInvalidConfiguration marks a misconfigured form (bad day window).
	ErrInvalidConfiguration = errors.New("invalid form configuration")
	// ErrInvalidTransition marks a disallowed lifecycle transition.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)
