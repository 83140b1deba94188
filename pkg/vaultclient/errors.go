package vaultclient

import "fmt"

// ErrorKind is the closed set vault operations fail with, replacing a
// layered provider-exception hierarchy with one flat enum (per the
// error-handling design's "Result<T, VaultError>").
type ErrorKind string

const (
	TransientIO ErrorKind = "TRANSIENT_IO"
	AuthFailure ErrorKind = "AUTH_FAILURE"
	NotFound    ErrorKind = "NOT_FOUND"
	Conflict    ErrorKind = "CONFLICT"
	CircuitOpen ErrorKind = "CIRCUIT_OPEN"
)

// Error wraps every failure a VaultClient method can return.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vault %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("vault %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Retryable reports whether err, if it is a *Error, represents a condition
// worth retrying with backoff. 4xx-shaped failures (AuthFailure, NotFound,
// Conflict) are not retried.
func Retryable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == TransientIO
}
