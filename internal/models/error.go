package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound   = errors.New("resource not found")
	ErrConflict   = errors.New("resource already exists")
	ErrBadRequest = errors.New("bad request")

	// ErrAccountLocked is returned by callers that translate a positive
	// lock check into an error value. The gate itself reports lock state
	// as a plain boolean so the host decides what to disclose.
	ErrAccountLocked = errors.New("account is locked")
)
