// Package metrics registers the Prometheus collectors observed across the
// gateway: per-clientId success/failure rate, circuit breaker state, cache
// hit rate, and rotation credential-version usage.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AuthAttemptsTotal counts authenticate() outcomes per clientId bucket
	// and result (success/failure). ClientId is masked by the caller
	// before being used as a label value.
	AuthAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_auth_attempts_total",
		Help: "AuthTranslator authenticate() outcomes by masked clientId and result.",
	}, []string{"client_id", "result"})

	// CircuitBreakerState reports 0=closed, 1=half-open, 2=open per vault operation.
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "authgate_vault_circuit_breaker_state",
		Help: "VaultClient circuit breaker state per operation (0=closed,1=half-open,2=open).",
	}, []string{"operation"})

	// CacheHitsTotal and CacheMissesTotal track TokenCache/CredentialCache
	// effectiveness per cache name.
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_cache_hits_total",
		Help: "Cache hits by cache name.",
	}, []string{"cache"})
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authgate_cache_misses_total",
		Help: "Cache misses by cache name.",
	}, []string{"cache"})

	// RotationVersionLastUsedSeconds is the usage-based-advancement gauge:
	// seconds since the old credential version was last used to
	// authenticate a given client, per (clientId, versionId).
	RotationVersionLastUsedSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "authgate_rotation_version_last_used_seconds",
		Help: "Seconds since a credential version was last used to authenticate, by clientId and versionId.",
	}, []string{"client_id", "version_id"})

	// RotationStateTotal counts rotation records currently in each state.
	RotationStateTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "authgate_rotation_state_total",
		Help: "Number of rotation records currently in each state.",
	}, []string{"state"})
)

// Register adds every collector in this package to reg. Call once at
// process startup with prometheus.DefaultRegisterer (or a test registry).
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		AuthAttemptsTotal,
		CircuitBreakerState,
		CacheHitsTotal,
		CacheMissesTotal,
		RotationVersionLastUsedSeconds,
		RotationStateTotal,
	)
}

// BreakerState enumerates the gauge values used for CircuitBreakerState.
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)
