package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"

	"github.com/dukerupert/gullveig/internal"
	"github.com/dukerupert/gullveig/internal/events"
	"github.com/dukerupert/gullveig/internal/gateway"
	"github.com/dukerupert/gullveig/internal/ledger"
	"github.com/dukerupert/gullveig/internal/payments"
	"github.com/dukerupert/gullveig/internal/route"
	"github.com/dukerupert/gullveig/internal/scheduler"
	"github.com/dukerupert/gullveig/internal/server"
	"github.com/dukerupert/gullveig/internal/store"
	"github.com/dukerupert/gullveig/internal/subscription"
	"github.com/dukerupert/gullveig/internal/telemetry"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database/sql connection for migrations
	logger.Info("Connecting to database...")
	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer sqlDB.Close()

	// Verify database connection
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection established")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := internal.RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database migrations completed successfully")

	// Initialize pgx connection pool for application
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	st := store.NewPostgres(pool)

	// Connect to NATS for live updates and the work queue
	logger.Info("Connecting to NATS...", "url", cfg.NATS.URL)
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return fmt.Errorf("NATS connection failed: %w", err)
	}
	defer nc.Drain()
	logger.Info("NATS connection established")

	// Initialize Sentry error tracking
	sentryCleanup, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Enabled:     cfg.Sentry.Enabled,
		Environment: cfg.Env,
		Release:     cfg.Sentry.Release,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Sentry: %w", err)
	}
	defer sentryCleanup()

	// Initialize Prometheus metrics
	metrics := telemetry.InitMetrics("gullveig")

	// Initialize gateway provider
	provider := gateway.NewStripeProvider(cfg.Stripe.SecretKey, cfg.Stripe.Currency)

	// ==========================================================================
	// Wire services
	// ==========================================================================

	publisher := events.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, logger)
	led := ledger.NewService(publisher, metrics, logger)
	pay := payments.NewService(st, provider, logger)

	queue := scheduler.NewNATSQueue(nc, cfg.NATS.SubjectPrefix, cfg.Scheduler.WorkTimeout, logger)
	defer queue.Close()

	sched := scheduler.New(st, provider, nil, queue, metrics, logger)
	subs := subscription.NewService(st, led, sched, metrics, logger)
	router := route.New(led, subs)
	sched.SetRouter(router)

	reader := events.NewReader(st, provider, router, metrics, logger)

	// Start the execution workers
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start payment workers: %w", err)
	}

	// ==========================================================================
	// Background loops
	// ==========================================================================

	runner := scheduler.NewCronRunner(logger)
	defer runner.Stop()

	if err := runner.RunPeriodically("payment-poll", cfg.Scheduler.PollInterval, func(ctx context.Context) {
		if err := sched.Poll(ctx); err != nil {
			logger.Error("payment poll failed", "error", err)
			telemetry.CaptureLoopError("payment-poll", err)
		}
	}); err != nil {
		return err
	}
	if err := runner.RunPeriodically("event-reader", cfg.Scheduler.ReaderInterval, func(ctx context.Context) {
		if err := reader.Run(ctx); err != nil {
			logger.Error("event reader failed", "error", err)
			telemetry.CaptureLoopError("event-reader", err)
		}
	}); err != nil {
		return err
	}
	if err := runner.RunPeriodically("subscription-billing", cfg.Scheduler.BillingInterval, func(ctx context.Context) {
		if err := subs.DoScheduling(ctx, time.Now()); err != nil {
			logger.Error("subscription scheduling failed", "error", err)
			telemetry.CaptureLoopError("subscription-billing", err)
		}
	}); err != nil {
		return err
	}
	if err := runner.RunPeriodically("cancel-collector", cfg.Scheduler.CancelInterval, func(ctx context.Context) {
		if err := subs.CollectCancellations(ctx); err != nil {
			logger.Error("cancellation collection failed", "error", err)
			telemetry.CaptureLoopError("cancel-collector", err)
		}
	}); err != nil {
		return err
	}

	// ==========================================================================
	// HTTP server
	// ==========================================================================

	srv := server.New(st, led, subs, pay, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		errCh <- srv.Start(cfg.Port)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		logger.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
