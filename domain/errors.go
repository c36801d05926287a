package domain

import "errors"

// Board tree errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Persistence errors. Store adapters wrap the underlying cause with exactly
// one of these so callers can classify failures with errors.Is.
var (
	// ErrPermissionDenied indicates a stale or invalid credential.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnavailable indicates a transient network or service failure.
	ErrUnavailable = errors.New("unavailable")
	// ErrMalformed indicates a snapshot that fails shape validation.
	ErrMalformed = errors.New("malformed snapshot")
	// ErrQuotaExceeded indicates the local store ran out of space.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrOther covers every other persistence failure.
	ErrOther = errors.New("storage failure")
)
