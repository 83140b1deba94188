// Package apierr defines the closed, wire-facing error taxonomy shared by
// the vendor, internal, and admin HTTP surfaces.
package apierr

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrorCode is a closed enum of wire error codes. New kinds are added here,
// never invented ad hoc at a call site.
type ErrorCode string

const (
	CodeMissingCredentials     ErrorCode = "MISSING_CREDENTIALS"
	CodeMalformedCredentials   ErrorCode = "MALFORMED_CREDENTIALS"
	CodeInvalidRequest         ErrorCode = "INVALID_REQUEST"
	CodeAuthenticationFailed   ErrorCode = "AUTHENTICATION_FAILED"
	CodeTokenInvalid           ErrorCode = "TOKEN_INVALID"
	CodeTokenExpired           ErrorCode = "TOKEN_EXPIRED"
	CodePermissionDenied       ErrorCode = "PERMISSION_DENIED"
	CodeRotationInProgress     ErrorCode = "ROTATION_IN_PROGRESS"
	CodeInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	CodeRotationNotFound       ErrorCode = "ROTATION_NOT_FOUND"
	CodeUpstreamUnavailable    ErrorCode = "UPSTREAM_UNAVAILABLE"
	CodeSystemError            ErrorCode = "SYSTEM_ERROR"
)

// httpStatus is the fixed code→status mapping from the error handling design.
var httpStatus = map[ErrorCode]int{
	CodeMissingCredentials:     http.StatusBadRequest,
	CodeMalformedCredentials:   http.StatusBadRequest,
	CodeInvalidRequest:         http.StatusBadRequest,
	CodeAuthenticationFailed:   http.StatusUnauthorized,
	CodeTokenInvalid:           http.StatusUnauthorized,
	CodeTokenExpired:           http.StatusUnauthorized,
	CodePermissionDenied:       http.StatusForbidden,
	CodeRotationInProgress:     http.StatusConflict,
	CodeInvalidStateTransition: http.StatusConflict,
	CodeRotationNotFound:       http.StatusNotFound,
	CodeUpstreamUnavailable:    http.StatusServiceUnavailable,
	CodeSystemError:            http.StatusInternalServerError,
}

// Status returns the fixed HTTP status for code, or 500 if code is unknown.
func Status(code ErrorCode) int {
	if s, ok := httpStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is the single error type every HTTP surface returns. It never
// carries secret material: callers must not put raw credentials, tokens,
// or hashed-secret bytes into Message.
type Error struct {
	Code      ErrorCode
	Message   string
	RequestID string
	Err       error
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s: %s (requestId=%s)", e.Code, e.Message, e.RequestID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error with a fresh request id.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, RequestID: uuid.NewString()}
}

// Wrap builds an Error around a lower-level cause, preserving it for
// internal logging via Unwrap while keeping Message safe for the wire.
func Wrap(code ErrorCode, message string, err error) *Error {
	e := New(code, message)
	e.Err = err
	return e
}

// Body is the wire shape of every error response:
// { "errorCode": "...", "message": "...", "requestId": "...", "timestamp": "..." }
type Body struct {
	ErrorCode ErrorCode `json:"errorCode"`
	Message   string    `json:"message"`
	RequestID string    `json:"requestId"`
	Timestamp string    `json:"timestamp"`
}

// ToBody renders e as the wire body, stamping the current time.
func ToBody(e *Error) Body {
	return Body{
		ErrorCode: e.Code,
		Message:   e.Message,
		RequestID: e.RequestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// As extracts an *Error from err, wrapping it as SYSTEM_ERROR if it isn't
// already one of ours. Used at the outermost handler boundary so every
// response, even an unexpected one, still conforms to Body.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return Wrap(CodeSystemError, "internal error", err)
}
