package vaultclient

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"github.com/systmms/payment-authgate/internal/logging"
	"github.com/systmms/payment-authgate/pkg/cache"
	"github.com/systmms/payment-authgate/pkg/credential"
)

// ResilientVaultClient is the resilience layer wrapped around an inner
// VaultClient: exponential backoff with full jitter on transient failures,
// a per-operation circuit breaker, and a cache-backed fallback whenever a
// read fails, including while the breaker is open. Writes never use the
// fallback: a rotation
// must never proceed against partial vault state.
type ResilientVaultClient struct {
	inner      VaultClient
	credCache  *cache.CredentialCache
	retry      RetryConfig
	breakerCfg BreakerConfig
	breakers   map[string]*gobreaker.CircuitBreaker
	logger     *logging.Logger
}

// NewResilientVaultClient wraps inner. credCache may be nil, in which case
// reads fail outright (rather than falling back) once the breaker opens.
func NewResilientVaultClient(inner VaultClient, credCache *cache.CredentialCache, retry RetryConfig, breakerCfg BreakerConfig, logger *logging.Logger) *ResilientVaultClient {
	return &ResilientVaultClient{
		inner:      inner,
		credCache:  credCache,
		retry:      retry,
		breakerCfg: breakerCfg,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
		logger:     logger,
	}
}

func (r *ResilientVaultClient) breakerFor(op string) *gobreaker.CircuitBreaker {
	if b, ok := r.breakers[op]; ok {
		return b
	}
	windowSize := uint32(r.breakerCfg.WindowSize)
	thresholdPct := r.breakerCfg.ThresholdPct
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     op,
		Interval: 10 * time.Second,
		Timeout:  time.Duration(r.breakerCfg.OpenDurationSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < windowSize {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= thresholdPct
		},
	})
	r.breakers[op] = b
	return b
}

// withRetry runs fn, retrying transient failures with exponential backoff
// and full jitter. 4xx-shaped failures (AuthFailure, NotFound, Conflict)
// return immediately.
func (r *ResilientVaultClient) withRetry(ctx context.Context, fn func() error) error {
	maxAttempts := r.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	base := r.retry.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	factor := r.retry.Factor
	if factor <= 0 {
		factor = 2
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = base
	expBackoff.Multiplier = factor
	expBackoff.RandomizationFactor = 1.0 // full jitter
	bo := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(maxAttempts-1)), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// runThroughBreaker executes fn via the named operation's breaker,
// translating an open breaker into a CircuitOpen error.
func (r *ResilientVaultClient) runThroughBreaker(op string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := r.breakerFor(op).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, newError(CircuitOpen, op, err)
	}
	return result, err
}

func (r *ResilientVaultClient) GetCredential(ctx context.Context, clientID string) (credential.ClientCredential, error) {
	result, err := r.runThroughBreaker("getCredential", func() (interface{}, error) {
		var cred credential.ClientCredential
		err := r.withRetry(ctx, func() error {
			var innerErr error
			cred, innerErr = r.inner.GetCredential(ctx, clientID)
			return innerErr
		})
		return cred, err
	})
	if err != nil {
		if fallback, ok, fbErr := r.readFallback(ctx, clientID); ok && fbErr == nil {
			if r.logger != nil {
				r.logger.Warn("vault degraded, serving getCredential from cache clientId=%s", logging.MaskClientID(clientID))
			}
			return fallback, nil
		}
		return credential.ClientCredential{}, err
	}
	cred := result.(credential.ClientCredential)
	if r.credCache != nil {
		_ = r.credCache.Put(ctx, cred)
	}
	return cred, nil
}

func (r *ResilientVaultClient) readFallback(ctx context.Context, clientID string) (credential.ClientCredential, bool, error) {
	if r.credCache == nil {
		return credential.ClientCredential{}, false, nil
	}
	return r.credCache.Get(ctx, clientID)
}

func (r *ResilientVaultClient) GetActiveCredentialVersions(ctx context.Context, clientID string) ([]string, error) {
	result, err := r.runThroughBreaker("getActiveCredentialVersions", func() (interface{}, error) {
		var versions []string
		err := r.withRetry(ctx, func() error {
			var innerErr error
			versions, innerErr = r.inner.GetActiveCredentialVersions(ctx, clientID)
			return innerErr
		})
		return versions, err
	})
	if err != nil {
		if fallback, ok, fbErr := r.readFallback(ctx, clientID); ok && fbErr == nil {
			ids := make([]string, 0, len(fallback.Versions))
			for _, v := range fallback.MatchableVersions() {
				ids = append(ids, v.VersionID)
			}
			return ids, nil
		}
		return nil, err
	}
	return result.([]string), nil
}

// writeOp runs a write-shaped VaultClient call through the breaker with
// retry, but never through the cache fallback: a rotation must never
// proceed against partial vault state.
func (r *ResilientVaultClient) writeOp(ctx context.Context, op string, fn func() error) error {
	_, err := r.runThroughBreaker(op, func() (interface{}, error) {
		return nil, r.withRetry(ctx, fn)
	})
	return err
}

func (r *ResilientVaultClient) StoreNewCredentialVersion(ctx context.Context, clientID, hashedSecret, salt, versionID string) error {
	return r.writeOp(ctx, "storeNewCredentialVersion", func() error {
		return r.inner.StoreNewCredentialVersion(ctx, clientID, hashedSecret, salt, versionID)
	})
}

func (r *ResilientVaultClient) ConfigureCredentialTransition(ctx context.Context, clientID string, primaryVersionID string, secondaryVersionID *string) error {
	return r.writeOp(ctx, "configureCredentialTransition", func() error {
		return r.inner.ConfigureCredentialTransition(ctx, clientID, primaryVersionID, secondaryVersionID)
	})
}

func (r *ResilientVaultClient) DisableCredentialVersion(ctx context.Context, clientID, versionID string) error {
	return r.writeOp(ctx, "disableCredentialVersion", func() error {
		return r.inner.DisableCredentialVersion(ctx, clientID, versionID)
	})
}

func (r *ResilientVaultClient) RemoveCredentialVersion(ctx context.Context, clientID, versionID string) error {
	return r.writeOp(ctx, "removeCredentialVersion", func() error {
		return r.inner.RemoveCredentialVersion(ctx, clientID, versionID)
	})
}

var _ VaultClient = (*ResilientVaultClient)(nil)
