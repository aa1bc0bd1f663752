// Package errs defines the error taxonomy shared across layers.
//
// Business rejections (conflict, validation, not-found) are sentinel errors
// so callers can branch with errors.Is without depending on transport error
// types; infrastructure failures (gateway, persistence) use separate
// sentinels because their retry semantics differ.
package errs

import "errors"

var (
	// ErrValidation marks malformed input: non-positive amounts, empty IDs,
	// bad item quantities.
	ErrValidation = errors.New("invalid argument")

	// ErrUnauthenticated marks requests with no usable identity.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrPermission marks requests whose role is insufficient for the
	// operation (e.g. non-admin refund).
	ErrPermission = errors.New("permission denied")

	// ErrSignatureMismatch marks a failed HMAC comparison. Security
	// critical: never retried, always audit-logged, never mutates state.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrNotFound marks a missing cycle, participant, or payment record.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a phase/state mismatch, e.g. joining after the
	// payment window closed or paying a cycle that already expired.
	ErrConflict = errors.New("conflict")

	// ErrGateway marks a transient gateway failure; callers may retry with
	// the same idempotency key.
	ErrGateway = errors.New("gateway failure")

	// ErrPersistence marks store transaction contention that survived the
	// bounded local retries; surfaced to callers as internal.
	ErrPersistence = errors.New("persistence failure")
)
