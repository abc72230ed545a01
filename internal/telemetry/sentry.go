package telemetry

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/dukerupert/gullveig/internal/domain"
)

// SentryConfig holds configuration for Sentry error tracking
type SentryConfig struct {
	// DSN is the Sentry Data Source Name (required if Enabled is true)
	DSN string

	// Enabled controls whether Sentry is active
	Enabled bool

	// Environment identifies the deployment environment (dev, prod)
	Environment string

	// Release is the application version/release identifier
	Release string

	// SampleRate controls the percentage of errors to capture (0.0 to 1.0)
	// Default: 1.0 (capture all errors)
	SampleRate float64

	// Debug enables Sentry SDK debug logging
	Debug bool
}

var sentryEnabled bool

// InitSentry initializes the Sentry client.
// Returns a cleanup function that should be called on application shutdown.
func InitSentry(cfg SentryConfig, logger *slog.Logger) (func(), error) {
	sentryEnabled = cfg.Enabled

	if !cfg.Enabled {
		logger.Info("Sentry disabled (SENTRY_ENABLED=false or DSN not configured)")
		return func() {}, nil
	}
	if cfg.DSN == "" {
		logger.Warn("Sentry DSN not configured, disabling error tracking")
		sentryEnabled = false
		return func() {}, nil
	}

	sampleRate := cfg.SampleRate
	if sampleRate == 0 {
		sampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  sampleRate,
		Debug:       cfg.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Sentry: %w", err)
	}

	logger.Info("Sentry initialized",
		"environment", cfg.Environment,
		"release", cfg.Release,
		"sample_rate", sampleRate,
	)

	return func() {
		sentry.Flush(2 * time.Second)
	}, nil
}

// SentryEnabled returns whether Sentry is currently enabled
func SentryEnabled() bool {
	return sentryEnabled
}

// CaptureError captures an error with optional extra context.
// Domain errors are tagged with their code and operation so declines,
// conflicts and internal failures can be triaged separately.
// Safe to call even when Sentry is disabled.
func CaptureError(err error, extras map[string]interface{}) {
	if !sentryEnabled || err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		var derr *domain.Error
		if errors.As(err, &derr) {
			scope.SetTag("code", derr.Code)
			if derr.Op != "" {
				scope.SetTag("op", derr.Op)
			}
		}
		for key, value := range extras {
			scope.SetExtra(key, value)
		}
		sentry.CaptureException(err)
	})
}

// CaptureLoopError reports a background loop failure, tagged with the
// loop name. Loops run unattended, so this is their only error surface
// besides logs.
func CaptureLoopError(loop string, err error) {
	if !sentryEnabled || err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("loop", loop)
		sentry.CaptureException(err)
	})
}
