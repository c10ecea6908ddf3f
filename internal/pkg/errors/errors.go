package errors

import "errors"

var (
	// ErrNotFound covers both missing rows and owner mismatches; the two are
	// indistinguishable to callers so tenant existence never leaks.
	ErrNotFound = errors.New("not found")
	// ErrConflict is an optimistic-concurrency loss; the caller must re-fetch
	// the process and retry.
	ErrConflict = errors.New("conflict")
	// ErrQuotaExceeded is an entitlement denial (no active subscription or the
	// article quota is used up).
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrInvalidTransition marks a state-machine operation that is illegal from
	// the process's current status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
)
