// Package vaultclient implements the gateway's view of the versioned
// secret store: an mTLS HTTP client grounded on the teacher's provider
// client, wrapped in a resilience layer (retry, circuit breaker,
// cache-backed read fallback) per the VaultClient resilience design.
package vaultclient

import (
	"context"
	"time"

	"github.com/systmms/payment-authgate/pkg/credential"
)

// VaultClient is the authoritative credential store interface. All
// operations are mTLS-authenticated; all take a caller deadline via ctx.
type VaultClient interface {
	GetCredential(ctx context.Context, clientID string) (credential.ClientCredential, error)
	StoreNewCredentialVersion(ctx context.Context, clientID, hashedSecret, salt, versionID string) error
	ConfigureCredentialTransition(ctx context.Context, clientID string, primaryVersionID string, secondaryVersionID *string) error
	DisableCredentialVersion(ctx context.Context, clientID, versionID string) error
	RemoveCredentialVersion(ctx context.Context, clientID, versionID string) error
	GetActiveCredentialVersions(ctx context.Context, clientID string) ([]string, error)
}

// Config is the mTLS and policy configuration for the HTTP vault client,
// sourced from the vault.* configuration options.
type Config struct {
	URL         string
	Account     string
	Namespace   string
	CACertPath  string
	CertPath    string
	KeyPath     string
	ReadTimeout time.Duration
	WriteTimeout time.Duration
	Retry        RetryConfig
	Breaker      BreakerConfig
}

// RetryConfig is vault.retry.{base,factor,maxAttempts}.
type RetryConfig struct {
	Base        time.Duration
	Factor      float64
	MaxAttempts int
}

// DefaultRetryConfig matches the spec's default retry policy: base 100ms,
// factor 2, max 5 attempts, full jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Base: 100 * time.Millisecond, Factor: 2, MaxAttempts: 5}
}

// BreakerConfig is vault.circuitBreaker.{thresholdPct,windowSize,openDurationSeconds}.
type BreakerConfig struct {
	ThresholdPct        float64
	WindowSize          int
	OpenDurationSeconds int
}

// DefaultBreakerConfig opens once at least 20 calls have been counted
// within the current 10s counting interval and >=50% of them failed,
// half-open probing after 30s. Counts reset at each 10s interval; there is
// no sliding window, and fewer than 20 calls in an interval never trip it.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{ThresholdPct: 0.5, WindowSize: 20, OpenDurationSeconds: 30}
}
