package apierr_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/systmms/payment-authgate/internal/apierr"
)

func TestStatusMapping(t *testing.T) {
	cases := map[apierr.ErrorCode]int{
		apierr.CodeMissingCredentials:     http.StatusBadRequest,
		apierr.CodeMalformedCredentials:   http.StatusBadRequest,
		apierr.CodeInvalidRequest:         http.StatusBadRequest,
		apierr.CodeAuthenticationFailed:   http.StatusUnauthorized,
		apierr.CodeTokenInvalid:           http.StatusUnauthorized,
		apierr.CodeTokenExpired:           http.StatusUnauthorized,
		apierr.CodePermissionDenied:       http.StatusForbidden,
		apierr.CodeRotationInProgress:     http.StatusConflict,
		apierr.CodeInvalidStateTransition: http.StatusConflict,
		apierr.CodeRotationNotFound:       http.StatusNotFound,
		apierr.CodeUpstreamUnavailable:    http.StatusServiceUnavailable,
		apierr.CodeSystemError:            http.StatusInternalServerError,
	}

	for code, want := range cases {
		assert.Equal(t, want, apierr.Status(code), "code %s", code)
	}
}

func TestUnknownCodeDefaultsTo500(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, apierr.Status(apierr.ErrorCode("NOT_A_REAL_CODE")))
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	e := apierr.Wrap(apierr.CodeUpstreamUnavailable, "vault unreachable", cause)

	assert.ErrorIs(t, e, cause)
	assert.Equal(t, apierr.CodeUpstreamUnavailable, e.Code)
}

func TestToBodyNeverLeaksCauseMessage(t *testing.T) {
	cause := errors.New("secret=s3cr3t-A rejected")
	e := apierr.Wrap(apierr.CodeAuthenticationFailed, "authentication failed", cause)

	body := apierr.ToBody(e)

	assert.Equal(t, apierr.CodeAuthenticationFailed, body.ErrorCode)
	assert.NotContains(t, body.Message, "s3cr3t-A")
	assert.NotEmpty(t, body.RequestID)
	assert.NotEmpty(t, body.Timestamp)
}

func TestAsWrapsForeignErrorsAsSystemError(t *testing.T) {
	e := apierr.As(errors.New("boom"))
	assert.Equal(t, apierr.CodeSystemError, e.Code)
}

func TestAsPassesThroughExistingError(t *testing.T) {
	original := apierr.New(apierr.CodeTokenExpired, "token expired")
	assert.Same(t, original, apierr.As(original))
}

func TestAsNilIsNil(t *testing.T) {
	assert.Nil(t, apierr.As(nil))
}

func TestWriteJSONSetsStatusAndBody(t *testing.T) {
	rec := httptest.NewRecorder()
	e := apierr.New(apierr.CodeRotationNotFound, "rotation not found")

	apierr.WriteJSON(rec, e)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ROTATION_NOT_FOUND"`)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Empty(t, rec.Header().Get(apierr.TokenExpiredHeader))
}

func TestWriteJSONFlagsTokenExpired(t *testing.T) {
	rec := httptest.NewRecorder()
	e := apierr.New(apierr.CodeTokenExpired, "token expired")

	apierr.WriteJSON(rec, e)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(apierr.TokenExpiredHeader))
}
