// Package cli implements the txlens command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/txlens/txlens/pkg/config"
	"github.com/txlens/txlens/pkg/logger"
	"github.com/txlens/txlens/pkg/metrics"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

// Build information, set by the main package.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func Run() ExitCode {
	rootCmd := &cobra.Command{
		Use:          "txlens",
		Short:        "Ask questions about transaction data in plain English.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "set debug logging level")
	rootCmd.PersistentFlags().String("env-file", ".env", "optional file of environment variables")
	rootCmd.PersistentFlags().String("schema-type", "", "schema type to query (overrides TXLENS_SCHEMA_TYPE)")

	rootCmd.AddCommand(
		NewAskCmd().Command(),
		NewBatchCmd().Command(),
		NewReportsCmd().Command(),
		NewServeCmd().Command(),
	)

	if err := rootCmd.Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

// setup reads the root flags, loads configuration and wires the app.
func setup(ctx context.Context, cmd *cobra.Command) (*app, error) {
	verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	envFile, err := cmd.Root().PersistentFlags().GetString("env-file")
	if err != nil {
		return nil, fmt.Errorf("failed to get env-file flag: %w", err)
	}
	schemaType, err := cmd.Root().PersistentFlags().GetString("schema-type")
	if err != nil {
		return nil, fmt.Errorf("failed to get schema-type flag: %w", err)
	}

	log := newLogger(verbose)
	metrics.BuildInfo.WithLabelValues(Version, Commit, Date).Set(1)

	cfg, err := config.LoadFromEnv(envFile)
	if err != nil {
		return nil, err
	}
	if schemaType != "" {
		cfg.SchemaType = schemaType
	}
	return newApp(ctx, log, cfg)
}

// newLogger writes to stderr so command output on stdout stays clean.
func newLogger(verbose bool) *slog.Logger {
	return logger.NewWithWriter(os.Stderr, verbose)
}
