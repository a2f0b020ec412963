package services

import "errors"

// Sentinel errors shared across services. Handlers translate these into the
// HTTP error taxonomy in pkg/response.
var (
	// ErrInvalidToken covers every refresh-token failure: malformed, expired,
	// revoked, replayed, unknown. Callers are deliberately given no way to
	// tell these apart; the distinction exists only in logs.
	ErrInvalidToken = errors.New("invalid token")

	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
)
