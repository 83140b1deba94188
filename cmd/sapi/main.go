// Command sapi is the internal token-guard process: it validates bearer
// tokens minted by EAPI, enforces per-operation permission requirements,
// and processes the payment request once authorized.
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
	"github.com/systmms/payment-authgate/pkg/cache"
	"github.com/systmms/payment-authgate/pkg/token"
	"github.com/systmms/payment-authgate/pkg/tokenguard"
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
	flag.StringVar(&configFile, "config", "sapi.yaml", "configuration file path")
	flag.Parse()

	var cfg config.SAPIConfig
	if err := config.Load(configFile, &cfg); err != nil {
		return err
	}
	logger := logging.New(cfg.Debug, cfg.NoColor)

	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	signingKey := []byte(os.Getenv("AUTHGATE_SIGNING_KEY"))
	if len(signingKey) == 0 {
		return fmt.Errorf("AUTHGATE_SIGNING_KEY must be set")
	}
	keys := token.NewKeySet(cfg.Token.Issuer+"-k1", signingKey)

	redisAddr := os.Getenv("AUTHGATE_REDIS_ADDR")
	revocationStore := cache.NewRedisCache(redis.NewClient(&redis.Options{Addr: redisAddr}), "sapi:revocation")
	revocation := token.NewRevocationRegistry(revocationStore)

	var renewer token.Renewer
	if cfg.Token.RenewalEnabled {
		renewer = tokenguard.NewRenewalClient(cfg.EAPIRenewalURL, 5*time.Second)
	}

	validator := token.NewValidator(keys, token.ValidatorConfig{
		AllowedIssuers: cfg.Token.AllowedIssuers,
		Audience:       cfg.Token.Audience,
		ClockSkew:      cfg.Token.ClockSkew(),
		RenewalEnabled: cfg.Token.RenewalEnabled,
	}, revocation, renewer)

	guard := tokenguard.New(validator, logger)

	h := &sapiHandler{guard: guard, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /internal/v1/payments", h.handlePayment)
	mux.HandleFunc("POST /internal/v1/tokens/validate", h.handleValidate)
	mux.HandleFunc("POST /internal/v1/tokens/renew", h.handleRenew)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8082"
	}
	srv := httpserver.New(httpserver.DefaultConfig(addr), mux)
	srv.Start()
	logger.Info("sapi listening on %s (version=%s commit=%s)", addr, version, commit)

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
