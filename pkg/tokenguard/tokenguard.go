// Package tokenguard implements TokenGuard, the SAPI core: token
// validation against the shared signing/verification key set and, when
// enabled, one round of in-band renewal via a callback into EAPI.
package tokenguard

import (
	"context"

	"github.com/systmms/payment-authgate/internal/apierr"
	"github.com/systmms/payment-authgate/internal/logging"
	"github.com/systmms/payment-authgate/internal/metrics"
	"github.com/systmms/payment-authgate/pkg/audit"
	"github.com/systmms/payment-authgate/pkg/token"
)

// TokenGuard wraps a token.Validator with SAPI's audit and metrics
// concerns. The validation phase pipeline itself lives in pkg/token so
// both SAPI and any admin tooling share exactly one implementation of it.
type TokenGuard struct {
	validator *token.Validator
	logger    *logging.Logger
}

// New builds a TokenGuard.
func New(validator *token.Validator, logger *logging.Logger) *TokenGuard {
	return &TokenGuard{validator: validator, logger: logger}
}

// ValidateResult is TokenGuard's externally visible outcome: either the
// request may proceed (with the claims that authorize it), or it must be
// rejected with the wire error code to report.
type ValidateResult struct {
	Claims             token.Claims
	Renewed            bool
	RenewedTokenString string
}

// Validate runs the full token validation pipeline for requestID against
// tokenString, requiring requiredPermission for the operation the caller is
// about to perform. Every outcome is audited and counted.
func (g *TokenGuard) Validate(ctx context.Context, tokenString, requiredPermission, maskedClient, requestID string) (ValidateResult, error) {
	result := g.validator.Validate(ctx, tokenString, requiredPermission)

	rec := audit.New("validate_token", maskedClient, requestID)

	switch result.Kind {
	case token.KindValid:
		rec.Outcome = "success"
		if result.Renewed {
			rec.Detail = "validated after in-band renewal"
		}
		rec.Log(g.logger)
		metrics.AuthAttemptsTotal.WithLabelValues(maskedClient, "validate_success").Inc()
		return ValidateResult{
			Claims:             result.Claims,
			Renewed:            result.Renewed,
			RenewedTokenString: result.RenewedTokenString,
		}, nil

	case token.KindExpired:
		rec.Outcome = "failure"
		rec.Detail = "token expired"
		rec.Log(g.logger)
		metrics.AuthAttemptsTotal.WithLabelValues(maskedClient, "validate_expired").Inc()
		return ValidateResult{}, apierr.New(apierr.CodeTokenExpired, "token has expired")

	case token.KindForbidden:
		rec.Outcome = "failure"
		rec.Detail = "missing required permission: " + result.Reason
		rec.Log(g.logger)
		metrics.AuthAttemptsTotal.WithLabelValues(maskedClient, "validate_forbidden").Inc()
		return ValidateResult{}, apierr.New(apierr.CodePermissionDenied, "token lacks required permission")

	default: // token.KindInvalid
		rec.Outcome = "failure"
		rec.Detail = "token invalid: " + result.Reason
		rec.Log(g.logger)
		metrics.AuthAttemptsTotal.WithLabelValues(maskedClient, "validate_invalid").Inc()
		return ValidateResult{}, apierr.New(apierr.CodeTokenInvalid, "token is invalid")
	}
}
