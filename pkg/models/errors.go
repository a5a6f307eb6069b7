package models

import "errors"

// Domain error taxonomy. Engines return these wrapped with %w; the HTTP
// layer maps them onto status codes for the admin UI.
var (
	// ErrValidation indicates a malformed request, e.g. a field-level merge
	// missing overrides for a field neither record can default
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState indicates an action attempted on a pair outside the
	// lifecycle state the action requires
	ErrInvalidState = errors.New("invalid pair state")

	// ErrAlreadyMerged indicates a referenced record was tombstoned after the
	// pair was loaded; the caller must re-resolve the canonical record
	ErrAlreadyMerged = errors.New("record already merged")

	// ErrNotFound indicates an unknown pair or lead id
	ErrNotFound = errors.New("not found")
)
