package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cardrag/internal/config"
	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
	"github.com/Aman-CERP/cardrag/internal/logging"
	"github.com/Aman-CERP/cardrag/internal/pipeline"
)

var loggingCleanup func()

// openEngine builds the query pipeline. Tests replace it with offline components.
var openEngine = func(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*pipeline.Pipeline, error) {
	return pipeline.NewFromConfig(ctx, cfg, reg)
}

// loadConfig loads --config or the project config in the working
// directory, then routes logging per the loaded settings. teeStderr is
// honored only with --debug.
func loadConfig(teeStderr bool) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		dir, wdErr := os.Getwd()
		if wdErr != nil {
			return nil, carderrors.ConfigError("determine working directory", wdErr)
		}
		cfg, err = config.Load(dir)
	}
	if err != nil {
		return nil, carderrors.ConfigError("load configuration", err)
	}

	if err := setupLogging(cfg, teeStderr); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config, teeStderr bool) error {
	_ = stopLogging(nil, nil)

	lc := logging.DefaultConfig()
	lc.Level = cfg.Server.LogLevel
	if cfg.Server.LogFile != "" {
		lc.FilePath = cfg.Server.LogFile
	}
	if debugMode {
		lc.Level = "debug"
	}
	lc.WriteToStderr = debugMode && teeStderr

	logger, cleanup, err := logging.Setup(lc)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup
	slog.Debug("logging_configured", slog.String("file", lc.FilePath), slog.String("level", lc.Level))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// withRetry runs fn once, or under the --retries backoff policy when set.
// Only retryable errors are retried.
func withRetry(ctx context.Context, fn func() error) error {
	if retries <= 0 {
		return fn()
	}
	rc := carderrors.DefaultRetryConfig()
	rc.MaxRetries = retries
	rc.Jitter = true
	return carderrors.Retry(ctx, rc, func() error {
		err := fn()
		if err != nil && carderrors.IsRetryable(err) {
			slog.Warn("retrying", slog.String("error", err.Error()))
		}
		return err
	})
}
