package token

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ResultKind is the tagged-variant discriminator for ValidationResult.
type ResultKind string

const (
	KindValid      ResultKind = "VALID"
	KindInvalid    ResultKind = "INVALID"
	KindExpired    ResultKind = "EXPIRED"
	KindForbidden  ResultKind = "FORBIDDEN"
)

// Result is the outcome of Validate: exactly one of Valid, Invalid(reason),
// Expired, or Forbidden, with an optional renewed token carried alongside
// a Valid verdict reached via in-band renewal.
type Result struct {
	Kind                ResultKind
	Reason              string
	Claims              Claims
	Renewed             bool
	RenewedTokenString  string
}

// RevocationChecker reports whether a jti has been explicitly revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) bool
}

// Renewer performs in-band renewal of an expired-but-signature-valid token.
// SAPI's RenewalClient implements this by calling back into EAPI; the
// interface exists so token does not import the HTTP client that crosses
// the SAPI→EAPI process boundary.
type Renewer interface {
	Renew(ctx context.Context, expiredTokenString string) (newTokenString string, ok bool, err error)
}

// Validator runs the ordered phase pipeline from the token validation design.
type Validator struct {
	keys            *KeySet
	allowedIssuers  map[string]bool
	audience        string
	clockSkew       time.Duration
	renewalEnabled  bool
	revocation      RevocationChecker
	renewer         Renewer
}

// ValidatorConfig configures a Validator.
type ValidatorConfig struct {
	AllowedIssuers []string
	Audience       string
	ClockSkew      time.Duration // default 30s
	RenewalEnabled bool
}

// NewValidator constructs a Validator. revocation may be nil to treat
// nothing as revoked; renewer may be nil, in which case an expired token
// always returns Expired regardless of RenewalEnabled.
func NewValidator(keys *KeySet, cfg ValidatorConfig, revocation RevocationChecker, renewer Renewer) *Validator {
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 30 * time.Second
	}
	allowed := make(map[string]bool, len(cfg.AllowedIssuers))
	for _, iss := range cfg.AllowedIssuers {
		allowed[iss] = true
	}
	return &Validator{
		keys:           keys,
		allowedIssuers: allowed,
		audience:       cfg.Audience,
		clockSkew:      skew,
		renewalEnabled: cfg.RenewalEnabled,
		revocation:     revocation,
		renewer:        renewer,
	}
}

// Validate runs phases 1-8 of the token validation design against tokenString.
func (v *Validator) Validate(ctx context.Context, tokenString string, requiredPermission string) Result {
	// Phase 1: parse.
	if strings.Count(tokenString, ".") != 2 {
		return Result{Kind: KindInvalid, Reason: "malformed"}
	}

	// Phase 2: signature, tried against every accepted verification key.
	claims, sigErr := v.verifySignature(tokenString)
	if sigErr != nil {
		return Result{Kind: KindInvalid, Reason: "signature"}
	}

	// Phase 3: claims presence and identity checks.
	if reason, ok := v.checkClaims(claims); !ok {
		return Result{Kind: KindInvalid, Reason: reason}
	}

	// Phase 4: revocation.
	if v.revocation != nil && v.revocation.IsRevoked(ctx, claims.JTI) {
		return Result{Kind: KindInvalid, Reason: "revoked"}
	}

	// Phase 5/6: expiry, with optional in-band renewal.
	now := time.Now().UTC()
	expiresAt := time.Unix(claims.ExpiresAt, 0)
	if !expiresAt.After(now.Add(-v.clockSkew)) {
		if v.renewalEnabled && v.renewer != nil {
			newTokenString, ok, err := v.renewer.Renew(ctx, tokenString)
			if err == nil && ok {
				renewedClaims, sigErr := v.verifySignature(newTokenString)
				if sigErr == nil {
					if reason, ok := v.authorize(renewedClaims, requiredPermission); !ok {
						return Result{Kind: KindForbidden, Reason: reason}
					}
					return Result{
						Kind:               KindValid,
						Claims:             renewedClaims,
						Renewed:            true,
						RenewedTokenString: newTokenString,
					}
				}
			}
		}
		return Result{Kind: KindExpired}
	}

	// Phase 7: authorization.
	if reason, ok := v.authorize(claims, requiredPermission); !ok {
		return Result{Kind: KindForbidden, Reason: reason}
	}

	// Phase 8: valid.
	return Result{Kind: KindValid, Claims: claims}
}

func (v *Validator) authorize(claims Claims, requiredPermission string) (string, bool) {
	if requiredPermission == "" {
		return "", true
	}
	if !claims.hasPermission(requiredPermission) {
		return "missing_permission", false
	}
	return "", true
}

func (v *Validator) checkClaims(claims Claims) (string, bool) {
	if claims.Subject == "" || claims.ExpiresAt == 0 || claims.IssuedAt == 0 || claims.JTI == "" {
		return "missing_claims", false
	}
	if !v.allowedIssuers[claims.Issuer] {
		return "issuer_mismatch", false
	}
	if claims.Audience != v.audience {
		return "audience_mismatch", false
	}
	return "", true
}

// verifySignature tries every accepted verification key and returns the
// decoded claims for the first one whose signature matches.
func (v *Validator) verifySignature(tokenString string) (Claims, error) {
	return VerifySignature(v.keys, tokenString)
}

// VerifySignature checks tokenString's signature against every key in keys'
// overlapping verification set, ignoring expiry, and returns the decoded
// claims for the first key that matches. Used both by Validator and by
// EAPI's renewal path, which must read a recognizably-signed but expired
// token's claims before deciding whether to mint a fresh one.
func VerifySignature(keys *KeySet, tokenString string) (Claims, error) {
	verifyKeys, err := keys.verificationKeys()
	if err != nil {
		return Claims{}, err
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation())

	var lastErr error
	for _, keyBytes := range verifyKeys {
		var jc jwtClaims
		_, err := parser.ParseWithClaims(tokenString, &jc, func(*jwt.Token) (interface{}, error) {
			return keyBytes, nil
		})
		if err == nil {
			return fromJWTClaims(jc), nil
		}
		lastErr = err
	}
	return Claims{}, lastErr
}
