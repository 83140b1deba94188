// Command eapi is the vendor-facing payment gateway process: it
// terminates X-Client-ID/X-Client-Secret authentication, translates a
// validated client into a short-lived bearer token, and forwards the
// payment request to SAPI.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/systmms/payment-authgate/internal/config"
	"github.com/systmms/payment-authgate/internal/httpserver"
	"github.com/systmms/payment-authgate/internal/logging"
	"github.com/systmms/payment-authgate/internal/metrics"
	"github.com/systmms/payment-authgate/pkg/authtranslator"
	"github.com/systmms/payment-authgate/pkg/cache"
	"github.com/systmms/payment-authgate/pkg/rotation"
	"github.com/systmms/payment-authgate/pkg/token"
	"github.com/systmms/payment-authgate/pkg/vaultclient"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configFile string
	flag.StringVar(&configFile, "config", "eapi.yaml", "configuration file path")
	flag.Parse()

	var cfg config.EAPIConfig
	if err := config.Load(configFile, &cfg); err != nil {
		return err
	}
	logger := logging.New(cfg.Debug, cfg.NoColor)

	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Cache.RedisAddr,
		DB:   cfg.Cache.RedisDB,
	})
	tokenStore := cache.NewRedisCache(redisClient, "eapi:token")
	credStore := cache.NewRedisCache(redisClient, "eapi:cred")
	tokenCache := cache.NewTokenCache(tokenStore)
	credCache := cache.NewCredentialCache(credStore, cfg.Cache.CredentialTTL())

	retryCfg := vaultclient.DefaultRetryConfig()
	if cfg.Vault.Retry.MaxAttempts > 0 {
		retryCfg = vaultclient.RetryConfig{
			Base:        time.Duration(cfg.Vault.Retry.BaseMillis) * time.Millisecond,
			Factor:      cfg.Vault.Retry.Factor,
			MaxAttempts: cfg.Vault.Retry.MaxAttempts,
		}
	}
	breakerCfg := vaultclient.DefaultBreakerConfig()
	if cfg.Vault.CircuitBreaker.WindowSize > 0 {
		breakerCfg = vaultclient.BreakerConfig{
			ThresholdPct:        cfg.Vault.CircuitBreaker.ThresholdPct,
			WindowSize:          cfg.Vault.CircuitBreaker.WindowSize,
			OpenDurationSeconds: cfg.Vault.CircuitBreaker.OpenDurationSeconds,
		}
	}
	vaultCfg := vaultclient.Config{
		URL:          cfg.Vault.URL,
		Account:      cfg.Vault.Account,
		Namespace:    cfg.Vault.Namespace,
		CertPath:     cfg.Vault.CertPath,
		KeyPath:      cfg.Vault.KeyPath,
		CACertPath:   cfg.Vault.CACertPath,
		ReadTimeout:  time.Duration(cfg.Vault.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Vault.WriteTimeoutMs) * time.Millisecond,
		Retry:        retryCfg,
		Breaker:      breakerCfg,
	}
	httpVault, err := vaultclient.NewHTTPVaultClient(vaultCfg)
	if err != nil {
		return fmt.Errorf("construct vault client: %w", err)
	}
	vault := vaultclient.NewResilientVaultClient(httpVault, credCache, retryCfg, breakerCfg, logger)

	signingKey := []byte(os.Getenv("AUTHGATE_SIGNING_KEY"))
	if len(signingKey) == 0 {
		return fmt.Errorf("AUTHGATE_SIGNING_KEY must be set")
	}
	keys := token.NewKeySet(cfg.Token.Issuer+"-k1", signingKey)
	minter := token.NewMinter(keys, cfg.Token.Issuer, cfg.Token.Audience, cfg.Token.Lifetime())
	revocationStore := cache.NewRedisCache(redisClient, "eapi:revocation")
	revocation := token.NewRevocationRegistry(revocationStore)

	// rotation:usage is the same keyspace authgatectl serve's scheduler
	// reads from, so a version used here is visible to checkProgress there.
	usageStore := cache.NewRedisCache(redisClient, "rotation:usage")
	usage := rotation.NewUsageTracker(usageStore)

	rateCfg := authtranslator.DefaultRateLimitConfig()
	if cfg.RateLimit.FailureThreshold > 0 {
		rateCfg = authtranslator.RateLimitConfig{
			FailureThreshold: cfg.RateLimit.FailureThreshold,
			Window:           time.Duration(cfg.RateLimit.WindowSeconds) * time.Second,
			BackoffBase:      time.Duration(cfg.RateLimit.BackoffBaseMs) * time.Millisecond,
			BackoffMax:       time.Duration(cfg.RateLimit.BackoffMaxMs) * time.Millisecond,
		}
	}
	forwarder := authtranslator.NewHTTPForwarder(cfg.Token.ClockSkew() + 10*time.Second)
	translator := authtranslator.New(tokenCache, credCache, vault, minter, revocation, usage, rateCfg, forwarder, logger)

	h := &eapiHandler{
		translator:  translator,
		sapiBaseURL: cfg.SAPIBaseURL,
		logger:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/payments", h.handlePayment)
	mux.HandleFunc("GET /api/v1/payments/{id}", h.handlePayment)
	mux.HandleFunc("GET /api/v1/health", h.handleHealth)
	mux.HandleFunc("POST /internal/v1/renewals", h.handleRenewal)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8081"
	}
	srv := httpserver.New(httpserver.DefaultConfig(addr), mux)
	srv.Start()
	logger.Info("eapi listening on %s (version=%s commit=%s)", addr, version, commit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-srv.Errors():
		return err
	case sig := <-sigCh:
		logger.Info("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
