package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/learnaware/tutor/internal/app"
	"github.com/learnaware/tutor/internal/config"
	"github.com/learnaware/tutor/internal/database"
	"github.com/learnaware/tutor/internal/health"
	"github.com/learnaware/tutor/internal/observability"
)

var errUnhealthy = errors.New("database is not healthy")

func newDBCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dbcheck",
		Short: "Connect to the database and print its health report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, closer, err := observability.NewLogger(observability.LogConfig{
				Level:  cfg.LogLevel,
				Format: cfg.LogFormat,
				Output: cfg.LogOutput,
			})
			if err != nil {
				return err
			}
			defer closer.Close()
			return runDBCheck(cmd.Context(), cfg, logger, nil, cmd.OutOrStdout())
		},
	}
}

// runDBCheck writes the health report as JSON and fails unless the database
// is healthy.
func runDBCheck(ctx context.Context, cfg config.Config, logger zerolog.Logger, dialer database.Dialer, out io.Writer) error {
	manager := app.ConnectDatabase(ctx, cfg, logger, dialer, nil)
	defer func() {
		if err := manager.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("closing database client failed")
		}
	}()

	report := health.NewReporter(manager, logger).CheckDatabase(ctx)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if !report.Healthy() {
		return fmt.Errorf("%w: %s", errUnhealthy, report.Status)
	}
	return nil
}
