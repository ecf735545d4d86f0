// Package main applies and inspects the paper sync schema migrations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-sync-service/internal/config"
	"github.com/helixir/paper-sync-service/internal/database"
	"github.com/helixir/paper-sync-service/internal/observability"
)

type action int

const (
	actionUp action = iota + 1
	actionDown
	actionSteps
	actionVersion
	actionForce
)

type options struct {
	up      bool
	down    bool
	steps   int
	version bool
	force   int
	path    string
}

var (
	errNoAction       = errors.New("no action specified")
	errTooManyActions = errors.New("specify only one action at a time")
)

// selectAction returns the single action the flags ask for.
func (o options) selectAction() (action, error) {
	var chosen []action
	if o.up {
		chosen = append(chosen, actionUp)
	}
	if o.down {
		chosen = append(chosen, actionDown)
	}
	if o.steps != 0 {
		chosen = append(chosen, actionSteps)
	}
	if o.version {
		chosen = append(chosen, actionVersion)
	}
	if o.force >= 0 {
		chosen = append(chosen, actionForce)
	}

	switch len(chosen) {
	case 0:
		return 0, errNoAction
	case 1:
		return chosen[0], nil
	default:
		return 0, errTooManyActions
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var opts options
	flag.BoolVar(&opts.up, "up", false, "Run all pending migrations")
	flag.BoolVar(&opts.down, "down", false, "Roll back all migrations")
	flag.IntVar(&opts.steps, "steps", 0, "Run N migration steps (positive=up, negative=down)")
	flag.BoolVar(&opts.version, "version", false, "Print the current migration version")
	flag.IntVar(&opts.force, "force", -1, "Force set migration version (use to recover from failed migrations)")
	flag.StringVar(&opts.path, "path", "", "Read migrations from this directory instead of the embedded set")
	flag.Parse()

	act, err := opts.selectAction()
	if errors.Is(err, errNoAction) {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nPlease specify one of: -up, -down, -steps N, -version, -force V")
	}
	if err != nil {
		return err
	}

	// Load configuration (database settings from env/config file).
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "migrate").Logger()

	migrationDir := cfg.Database.MigrationPath
	if opts.path != "" {
		migrationDir = opts.path
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	switch act {
	case actionUp:
		logger.Info().Msg("running all pending migrations")
		err = migrator.Up()
	case actionDown:
		logger.Warn().Msg("rolling back all migrations")
		err = migrator.Down()
	case actionSteps:
		logger.Info().Int("steps", opts.steps).Msg("running migration steps")
		err = migrator.Steps(opts.steps)
	case actionForce:
		logger.Warn().Int("version", opts.force).Msg("forcing migration version")
		err = migrator.Force(opts.force)
	}
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	printVersion(migrator, logger)
	return nil
}

// printVersion logs the current migration version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
