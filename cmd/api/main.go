// Package main is the entry point for the metergate API server.
//
// It loads configuration, connects to PostgreSQL, wires the Stripe client and
// the billing components into the HTTP chassis, and serves until a shutdown
// signal arrives.
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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"

	"metergate/internal/api/handlers"
	"metergate/internal/auth"
	"metergate/internal/billing"
	"metergate/internal/config"
	"metergate/internal/core"
	"metergate/internal/db"
	"metergate/internal/external"
	"metergate/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("metergate API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
		"meters", len(cfg.Billing.Meters),
		"plans", len(cfg.Billing.Plans),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}
	srv.OnShutdown(func(context.Context) error {
		pool.Close()
		return nil
	})

	// Repositories.
	customerRepo := db.NewBillingCustomerRepo(pool, logger)
	orgRepo := db.NewOrganizationRepo(pool, logger)
	userRepo := db.NewUserRepo(pool, logger)
	sessionRepo := db.NewSessionRepo(pool, logger)
	apiKeyRepo := db.NewAPIKeyRepo(pool, logger)
	subStateRepo := db.NewSubscriptionStateRepo(pool, logger)
	directory := db.NewTenantDirectory(userRepo, orgRepo)

	// Provider client.
	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: 20 * time.Second},
		customerRepo,
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			Logger:    logger,
		},
	)

	// Billing components.
	clock := types.RealClock{}
	meterResolver := billing.NewMeterIDResolver(stripeClient, cfg.Billing.MeterCacheTTL, clock)
	planCatalog := billing.NewPlanCatalog(cfg.Billing.Plans)
	customerResolver := billing.NewCustomerResolver(customerRepo, orgRepo, cfg.Billing.EnableOrganizations)
	ingestor := billing.NewUsageIngestor(cfg.Billing.Meters, customerResolver, stripeClient, logger)
	queryService := billing.NewUsageQueryService(cfg.Billing.Meters, meterResolver, customerResolver, stripeClient)

	// Auth and observability.
	srv.Authenticator = auth.NewTokenAuthenticator(sessionRepo, apiKeyRepo, clock, logger)
	if cfg.Observability.MetricsEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Observability.AWSRegion))
		if err != nil {
			pool.Close()
			return fmt.Errorf("loading AWS config: %w", err)
		}
		srv.Metrics = core.NewCloudWatchMetrics(
			cloudwatch.NewFromConfig(awsCfg),
			cfg.Observability.MetricsNamespace,
			logger,
		)
	}
	srv.HealthProbes = append(srv.HealthProbes, dbProbe{pool: pool})

	// Handlers.
	usageHandler := handlers.NewUsageHandler(ingestor, queryService, srv.Validator, logger)
	billingHandler := handlers.NewBillingHandler(
		stripeClient,
		customerResolver,
		planCatalog,
		directory,
		cfg,
		srv.Validator,
		logger,
	)
	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		subStateRepo,
		customerRepo,
		cfg.Billing.StripeWebhookSecret,
		logger,
	)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		usageHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
		webhookHandler.RegisterRoutes,
	)
	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// dbProbe reports database health for GET /health.
type dbProbe struct {
	pool *pgxpool.Pool
}

func (p dbProbe) Name() string { return "database" }

func (p dbProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

var _ core.HealthProbe = dbProbe{}

// runHTTPServer starts the server with graceful shutdown on SIGINT/SIGTERM.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// Compile-time assertions that the wired implementations satisfy the handler
// contracts.
var (
	_ handlers.CustomerService = (*external.StripeClient)(nil)
	_ handlers.TenantDirectory = (*db.TenantDirectory)(nil)
	_ billing.CustomerStore    = (*db.BillingCustomerRepo)(nil)
	_ billing.MembershipStore  = (*db.OrganizationRepo)(nil)
	_ billing.MeterLister      = (*external.StripeClient)(nil)
	_ billing.EventSubmitter   = (*external.StripeClient)(nil)
	_ billing.SummaryLister    = (*external.StripeClient)(nil)
)
