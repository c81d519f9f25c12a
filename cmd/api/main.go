// Package main is the entry point for the PulseMetrics API server.
//
// It loads configuration (resolving secrets through SSM outside local mode),
// connects the database pool, assembles the usage accounting, rate limiting,
// quota, and notification subsystems, and serves HTTP with graceful shutdown
// on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"pulsemetrics/internal/api/handlers"
	"pulsemetrics/internal/auth"
	"pulsemetrics/internal/billing"
	"pulsemetrics/internal/config"
	"pulsemetrics/internal/core"
	"pulsemetrics/internal/db"
	"pulsemetrics/internal/external"
	"pulsemetrics/internal/metrics"
	"pulsemetrics/internal/notify"
	"pulsemetrics/internal/ratelimit"
	"pulsemetrics/internal/usage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Outside local mode, _SSM_PARAM-suffixed variables are resolved through
	// Parameter Store before envconfig runs.
	var provider config.SecretProvider
	if env := os.Getenv("APP_ENV"); env != "" && env != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}

	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("pulsemetrics API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	// Database.
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()
	store := db.NewStore(pool)

	// Notification hub for dashboard streams.
	hub := notify.NewHub(logger)

	// Usage accounting with threshold pushes, then the quota/advisor pair on
	// top of it. The advisor reads usage through the service it feeds, so it
	// is wired in after construction.
	catalog := billing.NewStaticPlanCatalog()
	usageSvc := usage.NewService(
		store.DailyUsage,
		store,
		store.Monthly,
		catalog,
		logger,
		usage.WithNotifier(hub),
	)
	enforcer := billing.NewQuotaEnforcer(catalog, usageSvc)
	advisor := billing.NewUpgradeAdvisor(catalog, usageSvc)
	usageSvc.SetRecommender(advisor)

	// Rate limiter. The enabled switch is read once at startup.
	limiterOpts := []ratelimit.Option{}
	if !cfg.RateLimit.Enabled {
		logger.Warn("rate limiting disabled by configuration")
		limiterOpts = append(limiterOpts, ratelimit.Disabled())
	}
	limiter := ratelimit.New(limiterOpts...)

	// External providers.
	stripeProvider := external.NewStripeProvider(
		&http.Client{Timeout: 20 * time.Second},
		external.StripeConfig{SecretKey: cfg.Billing.StripeSecretKey, Logger: logger},
	)

	authenticator := auth.NewAPIKeyAuthenticator(db.NewAPIKeyRepo(pool), logger)

	// Assemble the server chassis.
	srv, err := core.NewServer(cfg, logger, catalog, limiter)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Usage = usageSvc
	srv.Enforcer = enforcer
	srv.Hub = hub
	srv.Authenticator = authenticator
	srv.HealthProbes = append(srv.HealthProbes, &databaseProbe{pool: pool})

	usageHandler := handlers.NewUsageHandler(usageSvc, enforcer, srv.Validator, logger)
	billingHandler := handlers.NewBillingHandler(catalog, advisor, enforcer, stripeProvider, hub, srv.Validator, logger)
	notifHandler := handlers.NewNotificationHandler(hub, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		usageHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
		notifHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	// Webhooks live outside /v1; Stripe authenticates by signature.
	webhookHandler := handlers.NewWebhookHandler(
		&external.StripeVerifier{},
		hub,
		cfg.Billing.StripeWebhookSecret,
		logger,
	)
	webhookHandler.RegisterRoutes(srv.Router())

	return serve(ctx, srv, cfg, limiter, logger)
}

// serve runs the HTTP listener and the limiter sweeper until the context is
// canceled, then drains in-flight requests within the shutdown timeout.
func serve(ctx context.Context, srv *core.Server, cfg *config.Config, limiter *ratelimit.Limiter, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sweepLimiter(gctx, limiter, cfg.RateLimit.SweepInterval, logger)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// sweepLimiter periodically evicts fully expired identities from the rate
// limiter and exports the resulting state size.
func sweepLimiter(ctx context.Context, limiter *ratelimit.Limiter, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := limiter.Sweep()
			size := limiter.Size()
			metrics.RateLimitTrackedIdentities.Set(float64(size))
			if evicted > 0 {
				logger.Debug("rate limiter sweep", "evicted", evicted, "tracked", size)
			}
		}
	}
}

// databaseProbe reports database reachability for /health.
type databaseProbe struct {
	pool *pgxpool.Pool
}

func (p *databaseProbe) Name() string { return "database" }

func (p *databaseProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// newLogger creates a structured slog.Logger configured for the given log
// level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
