package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethpandaops/triagoor/pkg/config"
	"github.com/ethpandaops/triagoor/pkg/engine"
	"github.com/ethpandaops/triagoor/pkg/event"
	"github.com/ethpandaops/triagoor/pkg/patterns"
	"github.com/ethpandaops/triagoor/pkg/tracker"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	eventsFile     string
	workerIndex    int
	metadataLabels []string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process a batch of failure events",
	Long: `Read runner-produced failure events from a JSON file, run the full
triage pipeline and write report artifacts. Only the worker with
index 0 publishes to the external tracker.`,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().StringVar(&eventsFile, "events", "",
		"Path to the failure events JSON file (required)")
	processCmd.Flags().IntVar(&workerIndex, "worker-index", 0,
		"Index of this runner worker; only index 0 publishes to the tracker")
	processCmd.Flags().StringSliceVar(&metadataLabels, "metadata.label", nil,
		"Add metadata label as key=value (can be repeated)")
}

func runProcess(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	if eventsFile == "" {
		return fmt.Errorf("events file is required (use --events)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Merge CLI metadata labels into config (CLI wins on conflict).
	for _, entry := range metadataLabels {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid metadata label %q: must be key=value", entry)
		}

		if cfg.Engine.Metadata.Labels == nil {
			cfg.Engine.Metadata.Labels = make(map[string]string, len(metadataLabels))
		}

		cfg.Engine.Metadata.Labels[k] = v
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	events, err := loadEvents(eventsFile)
	if err != nil {
		return fmt.Errorf("loading events file: %w", err)
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	store, err := patterns.NewStore(log, &cfg.Engine.Patterns)
	if err != nil {
		return fmt.Errorf("creating pattern store: %w", err)
	}

	var trk tracker.Client
	if cfg.Engine.Publish.Enabled {
		trk = tracker.NewClient(log, &cfg.Engine.Tracker)
	}

	eng := engine.New(log, cfg, store, trk, workerIndex)

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	defer func() {
		if err := eng.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop engine")
		}
	}()

	summary := eng.Process(ctx, events)

	log.WithFields(logrus.Fields{
		"events":     summary.TotalEvents,
		"malformed":  summary.Malformed,
		"unique":     summary.UniqueFailures,
		"suppressed": summary.Suppressed,
		"published":  len(summary.PublishResults),
	}).Info("Run complete")

	return nil
}

// loadEvents reads a JSON array of failure events from path.
func loadEvents(path string) ([]*event.FailureEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var events []*event.FailureEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return events, nil
}
