// Package engine wires the failure intelligence pipeline: normalize
// events, fingerprint and classify them, record cross-run history,
// compute spread and priority, publish to the tracker and write local
// report artifacts.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/triagoor/pkg/collector"
	"github.com/ethpandaops/triagoor/pkg/config"
	"github.com/ethpandaops/triagoor/pkg/crossbrowser"
	"github.com/ethpandaops/triagoor/pkg/event"
	"github.com/ethpandaops/triagoor/pkg/flakiness"
	"github.com/ethpandaops/triagoor/pkg/patterns"
	"github.com/ethpandaops/triagoor/pkg/priority"
	"github.com/ethpandaops/triagoor/pkg/publisher"
	"github.com/ethpandaops/triagoor/pkg/report"
	"github.com/ethpandaops/triagoor/pkg/tracker"
	"github.com/ethpandaops/triagoor/pkg/upload"
	"github.com/sirupsen/logrus"
)

// Engine runs the full pipeline over a batch of failure events.
type Engine interface {
	Start(ctx context.Context) error
	Stop() error

	// Process runs the pipeline over one batch of events and returns
	// the run summary. It never fails: every error mode degrades to
	// skipping the affected record and continuing, because this engine
	// is auxiliary reporting and must not abort the host test run.
	Process(ctx context.Context, events []*event.FailureEvent) *report.Summary
}

// New creates an engine. The tracker client may be nil when
// publication is disabled; workerIndex selects the publishing worker
// (only index 0 talks to the tracker).
func New(
	log logrus.FieldLogger,
	cfg *config.Config,
	store patterns.Store,
	trk tracker.Client,
	workerIndex int,
) Engine {
	e := &engine{
		log:         log.WithField("component", "engine"),
		cfg:         cfg,
		collector:   collector.New(log),
		oracle:      flakiness.NewOracle(log, cfg.Engine.Snapshots.StabilityPath, cfg.Engine.Snapshots.VisualDiffPath),
		store:       store,
		report:      report.NewWriter(log, cfg.Engine.Report.Dir),
		workerIndex: workerIndex,
	}

	if trk != nil {
		e.publisher = publisher.New(log, trk, &cfg.Engine)
	}

	return e
}

type engine struct {
	log         logrus.FieldLogger
	cfg         *config.Config
	collector   *collector.Collector
	oracle      *flakiness.Oracle
	store       patterns.Store
	publisher   *publisher.Publisher
	report      *report.Writer
	uploader    upload.Uploader
	workerIndex int
}

// Ensure interface compliance.
var _ Engine = (*engine)(nil)

// Start loads the pattern store and prepares the artifact uploader.
func (e *engine) Start(ctx context.Context) error {
	if err := e.store.Load(ctx); err != nil {
		return fmt.Errorf("loading pattern store: %w", err)
	}

	if s3cfg := e.cfg.Engine.Upload.S3; s3cfg != nil && s3cfg.Enabled {
		uploader, err := upload.NewS3Uploader(e.log, s3cfg)
		if err != nil {
			return fmt.Errorf("creating s3 uploader: %w", err)
		}

		if err := uploader.Preflight(ctx); err != nil {
			// Upload is best-effort: a dead bucket must not block triage.
			e.log.WithError(err).Warn("S3 preflight failed, disabling artifact upload")
		} else {
			e.uploader = uploader
		}
	}

	e.log.Debug("Engine started")

	return nil
}

// Stop releases pattern store resources.
func (e *engine) Stop() error {
	if err := e.store.Close(); err != nil {
		return fmt.Errorf("closing pattern store: %w", err)
	}

	e.log.Debug("Engine stopped")

	return nil
}

// Process runs the pipeline over one batch of events.
func (e *engine) Process(ctx context.Context, events []*event.FailureEvent) *report.Summary {
	now := time.Now().UTC()

	var (
		malformed  int
		order      []string
		unique     = make(map[string]*event.FailureRecord)
		browsersBy = make(map[string][]string)
		runMatrix  = make(map[string]struct{})
	)

	for _, ev := range events {
		record, err := e.collector.Normalize(ev, now)
		if err != nil {
			malformed++

			e.log.WithError(err).Warn("Skipping malformed failure event")

			continue
		}

		runMatrix[record.Browser] = struct{}{}

		verdict := e.oracle.Verdict(record.File, record.Title)
		record.IsFlaky = verdict.IsFlaky
		record.FlakyReason = verdict.Reason

		// History is updated for every event, including suppressed
		// ones, so a regression from "flaky" to "real" stays visible.
		occ, err := e.store.Record(ctx, record.Fingerprint, record.Browser, now)
		if err != nil {
			e.log.WithError(err).WithField("fingerprint", record.Fingerprint).
				Error("Failed to record occurrence, proceeding without updated history")
		}

		kept, seen := unique[record.Fingerprint]
		if !seen {
			unique[record.Fingerprint] = record
			order = append(order, record.Fingerprint)
			kept = record
		}

		if occ != nil {
			kept.IsFirstOccurrence = occ.IsFirstOccurrence
			kept.OccurrenceCount = occ.Count
			browsersBy[record.Fingerprint] = occ.Browsers
		} else if _, ok := browsersBy[record.Fingerprint]; !ok {
			browsersBy[record.Fingerprint] = []string{record.Browser}
		}
	}

	if err := e.store.Save(ctx); err != nil {
		e.log.WithError(err).Error("Failed to persist pattern store, history not updated for this run")
	}

	records := make([]*event.FailureRecord, 0, len(order))
	candidates := make([]*event.FailureRecord, 0, len(order))

	var suppressed int

	for _, fp := range order {
		record := unique[fp]

		verdict := crossbrowser.Analyze(browsersBy[fp], len(runMatrix))
		record.Spread = string(verdict.Spread)

		record.Severity = priority.Compute(priority.Facts{
			Tags:              record.Tags,
			OccurrenceCount:   record.OccurrenceCount,
			IsFirstOccurrence: record.IsFirstOccurrence,
			Spread:            verdict.Spread,
		})

		records = append(records, record)

		if e.suppress(record) {
			suppressed++

			e.log.WithFields(logrus.Fields{
				"fingerprint": record.Fingerprint,
				"title":       record.CleanTitle,
				"reason":      record.FlakyReason,
			}).Info("Suppressing record from publication")

			continue
		}

		candidates = append(candidates, record)
	}

	summary := &report.Summary{
		GeneratedAt:    now,
		Branch:         e.cfg.Engine.Metadata.Branch,
		Revision:       e.cfg.Engine.Metadata.Revision,
		TotalEvents:    len(events),
		Malformed:      malformed,
		UniqueFailures: len(records),
		Suppressed:     suppressed,
		Records:        records,
	}

	if e.shouldPublish() {
		summary.PublishResults = e.publisher.PublishAll(ctx, candidates)
	}

	e.writeArtifacts(ctx, summary)

	return summary
}

// suppress reports whether a record is excluded from publish
// candidates: either the flakiness oracle marked it, or the classifier
// labeled it flaky from timeout vocabulary.
func (e *engine) suppress(record *event.FailureRecord) bool {
	return record.IsFlaky || record.IssueType == event.IssueTypeFlaky
}

// shouldPublish gates tracker publication to the primary worker.
func (e *engine) shouldPublish() bool {
	if !e.cfg.Engine.Publish.Enabled || e.publisher == nil {
		return false
	}

	if e.workerIndex != 0 {
		e.log.WithField("worker_index", e.workerIndex).
			Debug("Non-primary worker, skipping tracker publication")

		return false
	}

	return true
}

// writeArtifacts persists the local run artifacts and optionally ships
// them to S3. Artifact failures are logged, never propagated.
func (e *engine) writeArtifacts(ctx context.Context, summary *report.Summary) {
	if err := e.report.WriteSummary(summary); err != nil {
		e.log.WithError(err).Error("Failed to write summary artifact")
	}

	if err := e.report.WriteDigest(summary); err != nil {
		e.log.WithError(err).Error("Failed to write digest artifact")
	}

	if err := e.report.WriteConfigSnapshot(e.cfg); err != nil {
		e.log.WithError(err).Error("Failed to write config snapshot artifact")
	}

	if e.uploader != nil {
		if err := e.uploader.Upload(ctx, e.cfg.Engine.Report.Dir); err != nil {
			e.log.WithError(err).Error("Failed to upload report artifacts")
		}
	}
}
