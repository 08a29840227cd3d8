package shared

import "errors"

// Error kinds shared by every domain package. Packages wrap them in their own
// sentinels so callers can match either the package error or the kind.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates an action not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrValidation indicates input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness or concurrency conflict.
	ErrConflict = errors.New("conflict")
)
