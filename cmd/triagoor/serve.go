package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/triagoor/pkg/api"
	"github.com/ethpandaops/triagoor/pkg/config"
	"github.com/ethpandaops/triagoor/pkg/patterns"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pattern history API",
	Long:  `Start a read-only HTTP API over the persisted failure pattern history.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	store, err := patterns.NewStore(log, &cfg.Engine.Patterns)
	if err != nil {
		return fmt.Errorf("creating pattern store: %w", err)
	}

	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("loading pattern store: %w", err)
	}

	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("Failed to close pattern store")
		}
	}()

	srv := api.NewServer(log, &cfg.API, store)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down API server")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
