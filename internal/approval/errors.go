package approval

import "errors"

// Business-rule failures returned by the engine. The API layer maps these to
// client-facing responses; anything else is an infrastructure error and is
// propagated unmodified.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation failed")
)
