package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ocelot-io/ocelot"
	"github.com/ocelot-io/ocelot/internal/cli"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the directory grant expander",
	Long: `Run the background worker that expands pending directory grants into
Tiger Cache bitmaps. Runs until interrupted; expansion progress is
persisted per batch, so an interrupted grant resumes where it left
off.`,
	Example: `  # Run with config from ocelot.yaml
  ocelot worker

  # Override the database
  ocelot worker --db postgres://localhost/mydb`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log, err := workerLogger()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		engine := newEngine(store, log)
		expander := ocelot.NewExpander(store, engine.TigerCache(), cfg.EngineOptions(), log)

		log.Info("expander starting",
			zap.Int("concurrency", cfg.Worker.Concurrency),
			zap.Int("batch_size", cfg.Worker.BatchSize))

		if err := expander.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return cli.GeneralError("worker failed", err)
		}
		log.Info("expander stopped")
		return nil
	},
}

// workerLogger builds the long-running worker's logger: structured
// production output by default, development output with -v.
func workerLogger() (*zap.Logger, error) {
	if quiet {
		return zap.NewNop(), nil
	}
	if verbose > 0 {
		return newLogger()
	}
	return zap.NewProduction()
}
