package shared

import "errors"

// Error classes. Domain packages wrap these so transports can map them
// without importing every domain.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation is the root of every caller-correctable input error.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the request clashes with current state.
	ErrConflict = errors.New("conflict")
	// ErrUnprocessable indicates well-formed input that violates a ledger rule.
	ErrUnprocessable = errors.New("unprocessable")
)
