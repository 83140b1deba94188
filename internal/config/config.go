// Package config loads the YAML configuration for each of the gateway's
// three processes (EAPI, SAPI, the rotation scheduler), one struct per
// process per the gateway's configuration surface.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigError reports a problem loading or parsing a configuration file.
type ConfigError struct {
	Field      string
	Value      string
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("config: %s=%s: %s (%s)", e.Field, e.Value, e.Message, e.Suggestion)
	}
	return fmt.Sprintf("config: %s=%s: %s", e.Field, e.Value, e.Message)
}

// TokenConfig is the token.* configuration surface.
type TokenConfig struct {
	LifetimeSeconds         int      `yaml:"lifetimeSeconds"`
	ClockSkewSeconds        int      `yaml:"clockSkewSeconds"`
	RenewalEnabled          bool     `yaml:"renewalEnabled"`
	RenewalThresholdSeconds int      `yaml:"renewalThresholdSeconds"`
	Issuer                  string   `yaml:"issuer"`
	Audience                string   `yaml:"audience"`
	AllowedIssuers          []string `yaml:"allowedIssuers"`
}

// Lifetime returns token.lifetimeSeconds as a Duration, defaulting to 3600s.
func (t TokenConfig) Lifetime() time.Duration {
	if t.LifetimeSeconds <= 0 {
		return 3600 * time.Second
	}
	return time.Duration(t.LifetimeSeconds) * time.Second
}

// ClockSkew returns token.clockSkewSeconds as a Duration, defaulting to 30s.
func (t TokenConfig) ClockSkew() time.Duration {
	if t.ClockSkewSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.ClockSkewSeconds) * time.Second
}

// RotationConfig is the rotation.* configuration surface.
type RotationConfig struct {
	DefaultTransitionPeriodMinutes int                `yaml:"defaultTransitionPeriodMinutes"`
	SchedulerIntervalMillis        int                `yaml:"schedulerIntervalMillis"`
	Advancement                    string             `yaml:"advancement"` // "timer" or "usage"
	UsageGraceMinutes              int                `yaml:"usageGraceMinutes"`
	Rollback                       RollbackConfig     `yaml:"rollback"`
	Notifications                  NotificationConfig `yaml:"notifications"`
}

// DefaultTransitionPeriod returns rotation.defaultTransitionPeriodMinutes,
// defaulting to 60 minutes.
func (r RotationConfig) DefaultTransitionPeriod() time.Duration {
	if r.DefaultTransitionPeriodMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(r.DefaultTransitionPeriodMinutes) * time.Minute
}

// SchedulerInterval returns rotation.schedulerIntervalMillis, defaulting to 300000ms.
func (r RotationConfig) SchedulerInterval() time.Duration {
	if r.SchedulerIntervalMillis <= 0 {
		return 300000 * time.Millisecond
	}
	return time.Duration(r.SchedulerIntervalMillis) * time.Millisecond
}

// UsageGrace returns rotation.usageGraceMinutes, defaulting to 15 minutes
// (the chosen conservative default for usage-based advancement).
func (r RotationConfig) UsageGrace() time.Duration {
	if r.UsageGraceMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(r.UsageGraceMinutes) * time.Minute
}

// VaultRetryConfig is vault.retry.*.
type VaultRetryConfig struct {
	BaseMillis  int     `yaml:"base"`
	Factor      float64 `yaml:"factor"`
	MaxAttempts int     `yaml:"maxAttempts"`
}

// VaultBreakerConfig is vault.circuitBreaker.*.
type VaultBreakerConfig struct {
	ThresholdPct        float64 `yaml:"thresholdPct"`
	WindowSize          int     `yaml:"windowSize"`
	OpenDurationSeconds int     `yaml:"openDurationSeconds"`
}

// VaultConfig is the vault.* configuration surface.
type VaultConfig struct {
	URL            string             `yaml:"url"`
	Account        string             `yaml:"account"`
	Namespace      string             `yaml:"namespace,omitempty"`
	CertPath       string             `yaml:"certPath"`
	KeyPath        string             `yaml:"keyPath"`
	CACertPath     string             `yaml:"caCertPath,omitempty"`
	ReadTimeoutMs  int                `yaml:"readTimeoutMs"`
	WriteTimeoutMs int                `yaml:"writeTimeoutMs"`
	Retry          VaultRetryConfig   `yaml:"retry"`
	CircuitBreaker VaultBreakerConfig `yaml:"circuitBreaker"`
}

// CacheConfig is cache.*.
type CacheConfig struct {
	TokenMaxSize         int    `yaml:"tokenMaxSize"`
	CredentialTTLSeconds int    `yaml:"credentialTtlSeconds"`
	RedisAddr            string `yaml:"redisAddr"`
	RedisDB              int    `yaml:"redisDb"`
}

// CredentialTTL returns cache.credentialTtlSeconds, defaulting to 60s.
func (c CacheConfig) CredentialTTL() time.Duration {
	if c.CredentialTTLSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.CredentialTTLSeconds) * time.Second
}

// DatabaseConfig is the RotationStore connection surface, selectable
// between Postgres and MySQL.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "mysql"
	DSN    string `yaml:"dsn"`
}

// RateLimitConfig governs the brute-force backoff curve (§7).
type RateLimitConfig struct {
	FailureThreshold int `yaml:"failureThreshold"`
	WindowSeconds    int `yaml:"windowSeconds"`
	BackoffBaseMs    int `yaml:"backoffBaseMs"`
	BackoffMaxMs     int `yaml:"backoffMaxMs"`
}

// ServerConfig is the listen address shared by every process's HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// EAPIConfig is the external-facing gateway process configuration.
type EAPIConfig struct {
	Server      ServerConfig    `yaml:"server"`
	Token       TokenConfig     `yaml:"token"`
	Vault       VaultConfig     `yaml:"vault"`
	Cache       CacheConfig     `yaml:"cache"`
	RateLimit   RateLimitConfig `yaml:"rateLimit"`
	SAPIBaseURL string          `yaml:"sapiBaseUrl"`
	Debug       bool            `yaml:"debug"`
	NoColor     bool            `yaml:"noColor"`
}

// SAPIConfig is the internal token-guard process configuration.
type SAPIConfig struct {
	Server         ServerConfig `yaml:"server"`
	Token          TokenConfig  `yaml:"token"`
	EAPIRenewalURL string       `yaml:"eapiRenewalUrl"`
	Debug          bool         `yaml:"debug"`
	NoColor        bool         `yaml:"noColor"`
}

// SchedulerConfig is the rotation scheduler process configuration, served
// by authgatectl serve alongside the admin HTTP surface.
type SchedulerConfig struct {
	Server     ServerConfig   `yaml:"server"`
	Rotation   RotationConfig `yaml:"rotation"`
	Vault      VaultConfig    `yaml:"vault"`
	Cache      CacheConfig    `yaml:"cache"`
	Database   DatabaseConfig `yaml:"database"`
	AdminToken string         `yaml:"adminToken"`
	Debug      bool           `yaml:"debug"`
	NoColor    bool           `yaml:"noColor"`
}

// Load reads and parses a YAML file at path into out, wrapping a missing
// or malformed file as a ConfigError the way the admin CLI reports it.
func Load(path string, out interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ConfigError{
				Field:      "path",
				Value:      path,
				Message:    "configuration file not found",
				Suggestion: fmt.Sprintf("create %s or pass --config with a valid path", path),
			}
		}
		return ConfigError{Field: "path", Value: path, Message: err.Error()}
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return ConfigError{
			Field:      "path",
			Value:      path,
			Message:    "invalid YAML: " + err.Error(),
			Suggestion: "check for indentation errors and missing quotes",
		}
	}
	return nil
}
