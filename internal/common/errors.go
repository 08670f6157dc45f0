// Package common contains shared constants, sentinel errors, and small
// helpers used across client and server layers of the relay. Callers should
// use errors.Is to match the sentinel values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorAccessDenied = errors.New("access denied")
	ErrorValidation   = errors.New("validation error")

	// ErrAuthenticationFailed covers every envelope decrypt anomaly: wrong
	// key, tampered ciphertext/nonce/tag, mismatched AAD, malformed base64.
	// Callers must not be able to tell which check failed.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrStorageUnavailable marks a transient backing-store outage, as
	// opposed to a successful read with no rows.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Auth errors (invalid or malformed privileged token).
	ErrInvalidToken = errors.New("invalid token")
)
