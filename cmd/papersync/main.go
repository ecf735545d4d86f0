// Package main is the papersync command-line tool. It resolves citations,
// fetches PDFs into local files and runs library syncs without the HTTP
// server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/paper-sync-service/internal/app"
	"github.com/helixir/paper-sync-service/internal/config"
	"github.com/helixir/paper-sync-service/internal/observability"
)

var (
	cfgFile  string
	output   string
	logLevel string
)

// rootCmd is the base command for the papersync CLI.
var rootCmd = &cobra.Command{
	Use:   "papersync",
	Short: "Resolve, fetch and sync paper metadata and PDFs",
	Long: `papersync talks to the same bibliographic services and PDF sources as the
paper sync service. resolve and fetch need no database; sync reads and
updates the library in PostgreSQL.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(output)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or environment only)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", formatTable, "output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level written to stderr")
}

// environment is what every subcommand needs from configuration.
type environment struct {
	cfg        *config.Config
	logger     zerolog.Logger
	components *app.Components
}

func loadEnvironment() (*environment, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFile(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  logLevel,
		Format: "console",
		Output: "stderr",
	}).With().Str("component", "papersync").Logger()

	components, err := app.Build(cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	return &environment{cfg: cfg, logger: logger, components: components}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
