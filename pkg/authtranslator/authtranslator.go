// Package authtranslator implements AuthTranslator, the EAPI core:
// credential-to-token translation, request forwarding to SAPI, and
// revocation.
package authtranslator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/systmms/payment-authgate/internal/apierr"
	"github.com/systmms/payment-authgate/internal/logging"
	"github.com/systmms/payment-authgate/internal/metrics"
	"github.com/systmms/payment-authgate/pkg/audit"
	"github.com/systmms/payment-authgate/pkg/cache"
	"github.com/systmms/payment-authgate/pkg/credential"
	"github.com/systmms/payment-authgate/pkg/rotation"
	"github.com/systmms/payment-authgate/pkg/token"
	"github.com/systmms/payment-authgate/pkg/vaultclient"
)

// RateLimitConfig governs the brute-force backoff curve: after
// FailureThreshold consecutive failures within Window, responses
// are delayed by an exponentially increasing, capped duration. This is
// backoff with a counter, never a 429 and never a permanent lockout.
type RateLimitConfig struct {
	FailureThreshold int
	Window           time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
}

// DefaultRateLimitConfig is a conservative default curve.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		FailureThreshold: 5,
		Window:           time.Minute,
		BackoffBase:      200 * time.Millisecond,
		BackoffMax:       5 * time.Second,
	}
}

// AuthTranslator is the EAPI core.
type AuthTranslator struct {
	tokenCache *cache.TokenCache
	credCache  *cache.CredentialCache
	vault      vaultclient.VaultClient
	minter     *token.Minter
	revocation *token.RevocationRegistry
	usage      *rotation.UsageTracker
	logger     *logging.Logger
	rateCfg    RateLimitConfig
	forwarder  Forwarder

	sf singleflight.Group

	failuresMu sync.Mutex
	failures   map[string]*failureWindow
}

type failureWindow struct {
	count     int
	windowEnd time.Time
	limiter   *rate.Limiter
}

// New builds an AuthTranslator. usage may be nil, in which case successful
// authentications are not recorded for rotation's usage-based advancement.
func New(tokenCache *cache.TokenCache, credCache *cache.CredentialCache, vault vaultclient.VaultClient, minter *token.Minter, revocation *token.RevocationRegistry, usage *rotation.UsageTracker, rateCfg RateLimitConfig, forwarder Forwarder, logger *logging.Logger) *AuthTranslator {
	return &AuthTranslator{
		tokenCache: tokenCache,
		credCache:  credCache,
		vault:      vault,
		minter:     minter,
		revocation: revocation,
		usage:      usage,
		logger:     logger,
		rateCfg:    rateCfg,
		forwarder:  forwarder,
		failures:   make(map[string]*failureWindow),
	}
}

// AuthResult is the outcome of Authenticate.
type AuthResult struct {
	Token    token.Token
	Degraded bool
}

// Authenticate runs the full credential-to-token translation algorithm:
// cache lookup, single-flight-coalesced vault fetch, constant-time
// multi-version match, mint, cache, audit.
func (a *AuthTranslator) Authenticate(ctx context.Context, clientID, rawSecret, requestID, sourceAddr string) (AuthResult, error) {
	masked := logging.MaskClientID(clientID)

	if !credential.ValidClientID(clientID) {
		return AuthResult{}, apierr.New(apierr.CodeMalformedCredentials, "clientId is malformed")
	}
	if rawSecret == "" {
		return AuthResult{}, apierr.New(apierr.CodeMissingCredentials, "X-Client-Secret is required")
	}
	if !credential.ValidSecretLength(rawSecret) {
		return AuthResult{}, apierr.New(apierr.CodeMalformedCredentials, "X-Client-Secret exceeds maximum length")
	}

	// Step 1: cache lookup.
	if cached, ok, err := a.tokenCache.Get(ctx, clientID); err == nil && ok {
		return AuthResult{Token: cached}, nil
	}

	// Step 2: fetch credential, coalescing concurrent misses for the same
	// clientId into a single vault round-trip.
	credResult, err, _ := a.sf.Do(clientID, func() (interface{}, error) {
		return a.vault.GetCredential(ctx, clientID)
	})
	var cred credential.ClientCredential
	if err != nil {
		var verr *vaultclient.Error
		if errors.As(err, &verr) && verr.Kind == vaultclient.NotFound {
			// Unknown clientId: zero matchable versions, same as a known
			// client with no ACTIVE/DEPRECATED version left. Fall through
			// to the identical MatchAll/AUTHENTICATION_FAILED path a wrong
			// secret takes, so there is no status-code or timing oracle
			// between "unknown clientId" and "wrong secret".
			cred = credential.ClientCredential{ClientID: clientID}
		} else {
			a.recordFailure(ctx, clientID, requestID, sourceAddr, "vault unavailable")
			return AuthResult{}, apierr.Wrap(apierr.CodeUpstreamUnavailable, "credential store unavailable", err)
		}
	} else {
		cred = credResult.(credential.ClientCredential)
	}

	// Step 3/4: evaluate every matchable version without short-circuiting.
	candidates := cred.MatchableVersions()
	matchedVersion, matched := credential.MatchAll(rawSecret, candidates)

	if !matched {
		a.recordFailure(ctx, clientID, requestID, sourceAddr, "authentication failed")
		metrics.AuthAttemptsTotal.WithLabelValues(masked, "failure").Inc()
		a.applyBackoff(ctx, clientID)
		return AuthResult{}, apierr.New(apierr.CodeAuthenticationFailed, "authentication failed")
	}

	// Step 5: mint, cache, audit.
	tok, err := a.minter.Mint(clientID, cred.Permissions)
	if err != nil {
		return AuthResult{}, err
	}
	_ = a.tokenCache.Put(ctx, clientID, tok)
	a.resetFailures(clientID)
	if a.usage != nil {
		a.usage.RecordUse(ctx, clientID, matchedVersion)
	}

	metrics.AuthAttemptsTotal.WithLabelValues(masked, "success").Inc()
	rec := audit.New("authenticate", masked, requestID)
	rec.SourceAddr = sourceAddr
	rec.MatchedVersion = matchedVersion
	rec.Outcome = "success"
	rec.Detail = fmt.Sprintf("authenticated clientId=%s version=%s", masked, matchedVersion)
	rec.Log(a.logger)

	return AuthResult{Token: tok}, nil
}

// Renew implements the EAPI side of §4.4's renewal handshake: re-verify
// the expired token's signature, confirm the client is still in a
// credentialed state, and mint a fresh token carrying the same
// permissions. A refusal (ok=false) is not an error: it means the token
// was not recognizably signed by this gateway, or the client has since
// been fully deprovisioned.
func (a *AuthTranslator) Renew(ctx context.Context, expiredTokenString string) (string, bool, error) {
	claims, err := token.VerifySignature(a.minter.Keys(), expiredTokenString)
	if err != nil {
		return "", false, nil
	}

	cred, err := a.vault.GetCredential(ctx, claims.Subject)
	if err != nil {
		var verr *vaultclient.Error
		if errors.As(err, &verr) && verr.Kind == vaultclient.NotFound {
			return "", false, nil
		}
		return "", false, apierr.Wrap(apierr.CodeUpstreamUnavailable, "credential store unavailable", err)
	}
	if len(cred.MatchableVersions()) == 0 {
		return "", false, nil
	}

	tok, err := a.minter.Mint(claims.Subject, claims.Permissions)
	if err != nil {
		return "", false, err
	}
	_ = a.tokenCache.Put(ctx, claims.Subject, tok)
	return tok.TokenString, true, nil
}

func (a *AuthTranslator) recordFailure(ctx context.Context, clientID, requestID, sourceAddr, detail string) {
	rec := audit.New("authenticate", logging.MaskClientID(clientID), requestID)
	rec.SourceAddr = sourceAddr
	rec.Outcome = "failure"
	rec.Detail = detail
	rec.Log(a.logger)
}

// Revoke evicts the cached token for clientID and, if one was cached,
// inserts its jti into the shared RevocationRegistry with TTL equal to its
// remaining lifetime.
func (a *AuthTranslator) Revoke(ctx context.Context, clientID string) error {
	cached, ok, err := a.tokenCache.Get(ctx, clientID)
	if err != nil {
		return err
	}
	if ok {
		remaining := time.Until(cached.ExpiresAt())
		if err := a.revocation.Revoke(ctx, cached.Claims.JTI, remaining); err != nil {
			return err
		}
	}
	return a.tokenCache.Evict(ctx, clientID)
}
