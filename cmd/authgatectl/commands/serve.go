package commands

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/systmms/payment-authgate/cmd/authgatectl/adminserver"
	"github.com/systmms/payment-authgate/internal/config"
	"github.com/systmms/payment-authgate/internal/httpserver"
	"github.com/systmms/payment-authgate/internal/logging"
	"github.com/systmms/payment-authgate/internal/metrics"
	"github.com/systmms/payment-authgate/pkg/cache"
	"github.com/systmms/payment-authgate/pkg/rotation"
	"github.com/systmms/payment-authgate/pkg/rotation/notify"
	"github.com/systmms/payment-authgate/pkg/vaultclient"
)

// NewServeCommand runs the admin HTTP surface and the background rotation
// scheduler in one process, the third process spec.md implies alongside
// EAPI and SAPI.
func NewServeCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the rotation admin API and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "scheduler.yaml", "configuration file path")
	return cmd
}

func runServe(configFile string) error {
	var cfg config.SchedulerConfig
	if err := config.Load(configFile, &cfg); err != nil {
		return err
	}
	if cfg.AdminToken == "" {
		return fmt.Errorf("adminToken must be set")
	}
	logger := logging.New(cfg.Debug, cfg.NoColor)

	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open rotation database: %w", err)
	}
	defer db.Close()
	store := rotation.NewSQLStore(db, cfg.Database.Driver)

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
	// The scheduler process has no credential-read cache of its own: a
	// nil cache forces every read through the vault, since rotation
	// decisions must never act on stale credential state.
	vault := vaultclient.NewResilientVaultClient(httpVault, nil, retryCfg, breakerCfg, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Cache.RedisAddr,
		DB:   cfg.Cache.RedisDB,
	})
	// rotation:usage is the same keyspace eapi's AuthTranslator writes to,
	// so checkProgress sees authentications recorded by the other process.
	usageStore := cache.NewRedisCache(redisClient, "rotation:usage")
	usage := rotation.NewUsageTracker(usageStore)
	advancement := rotation.ParseAdvancementMode(cfg.Rotation.Advancement)

	notifier := notify.NewManager(notify.DefaultQueueSize)
	notifier.Register(notify.NewLogProvider(logger))
	for _, wh := range cfg.Rotation.Notifications.Webhooks {
		provider, err := notify.NewWebhookProvider(wh)
		if err != nil {
			return fmt.Errorf("configure webhook %q: %w", wh.Name, err)
		}
		notifier.Register(provider)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifier.Start(ctx)

	coordinator := rotation.New(store, vault, nil, usage, advancement, notifier)
	scheduler := rotation.NewScheduler(coordinator, cfg.Rotation.SchedulerInterval(), cfg.Rotation.UsageGrace(), logger)
	scheduler.Start(ctx)

	admin := adminserver.New(coordinator, store, cfg.AdminToken)
	mux := http.NewServeMux()
	admin.Mux(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8082"
	}
	srv := httpserver.New(httpserver.DefaultConfig(addr), mux)
	srv.Start()
	logger.Info("authgatectl serve listening on %s", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-srv.Errors():
		return err
	case sig := <-sigCh:
		logger.Info("received %s, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
