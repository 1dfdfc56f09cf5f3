// Package report writes the local run artifacts: a machine-readable
// failure summary, a plain-text digest, and a resolved-config
// snapshot. These always run, independent of tracker availability;
// the local artifact is the durable record of what happened even when
// the network path fails entirely.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/triagoor/pkg/config"
	"github.com/ethpandaops/triagoor/pkg/event"
	"github.com/ethpandaops/triagoor/pkg/publisher"
)

const (
	// SummaryFilename is the machine-readable summary artifact.
	SummaryFilename = "failure-summary.json"

	// DigestFilename is the human-readable digest artifact.
	DigestFilename = "failure-digest.txt"

	// ConfigSnapshotFilename is the resolved run configuration.
	ConfigSnapshotFilename = "run-config.yaml"
)

// Summary is the full machine-readable run artifact.
type Summary struct {
	GeneratedAt    time.Time              `json:"generated_at"`
	Branch         string                 `json:"branch,omitempty"`
	Revision       string                 `json:"revision,omitempty"`
	TotalEvents    int                    `json:"total_events"`
	Malformed      int                    `json:"malformed_events,omitempty"`
	UniqueFailures int                    `json:"unique_failures"`
	Suppressed     int                    `json:"suppressed_failures"`
	Records        []*event.FailureRecord `json:"records"`
	PublishResults []publisher.Result     `json:"publish_results,omitempty"`
}

// Writer persists run artifacts into a target directory.
type Writer struct {
	log logrus.FieldLogger
	dir string
}

// NewWriter creates a report writer rooted at dir.
func NewWriter(log logrus.FieldLogger, dir string) *Writer {
	return &Writer{
		log: log.WithField("component", "report"),
		dir: dir,
	}
}

// WriteSummary writes the JSON summary artifact.
func (w *Writer) WriteSummary(summary *Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}

	return w.writeFile(SummaryFilename, data)
}

// WriteDigest writes the plain-text digest artifact.
func (w *Writer) WriteDigest(summary *Summary) error {
	return w.writeFile(DigestFilename, []byte(renderDigest(summary)))
}

// WriteConfigSnapshot writes the resolved configuration the run used,
// with credentials redacted.
func (w *Writer) WriteConfigSnapshot(cfg *config.Config) error {
	redacted := *cfg
	redacted.Engine.Tracker.APIToken = redact(cfg.Engine.Tracker.APIToken)
	redacted.Engine.Patterns.Database.Postgres.Password = redact(
		cfg.Engine.Patterns.Database.Postgres.Password,
	)

	if s3 := cfg.Engine.Upload.S3; s3 != nil {
		s3Copy := *s3
		s3Copy.SecretAccessKey = redact(s3.SecretAccessKey)
		redacted.Engine.Upload.S3 = &s3Copy
	}

	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Errorf("marshaling config snapshot: %w", err)
	}

	return w.writeFile(ConfigSnapshotFilename, data)
}

// writeFile creates the report directory if absent and writes one
// artifact.
func (w *Writer) writeFile(name string, data []byte) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}

	w.log.WithField("path", path).Debug("Wrote report artifact")

	return nil
}

// renderDigest builds the human-readable digest text.
func renderDigest(summary *Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Failure triage digest %s\n",
		summary.GeneratedAt.UTC().Format(time.RFC3339))

	if summary.Branch != "" || summary.Revision != "" {
		fmt.Fprintf(&b, "branch %s @ %s\n", summary.Branch, summary.Revision)
	}

	fmt.Fprintf(&b, "events: %d  unique: %d  suppressed: %d  malformed: %d\n\n",
		summary.TotalEvents, summary.UniqueFailures,
		summary.Suppressed, summary.Malformed)

	records := make([]*event.FailureRecord, len(summary.Records))
	copy(records, summary.Records)

	// Highest severity first, then by recurrence.
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Severity.Rank() != records[j].Severity.Rank() {
			return records[i].Severity.Rank() > records[j].Severity.Rank()
		}

		return records[i].OccurrenceCount > records[j].OccurrenceCount
	})

	for _, r := range records {
		marker := " "
		if r.IsFlaky {
			marker = "~"
		}

		fmt.Fprintf(&b, "%s [%s] %-9s %s (%s, seen %dx)\n",
			marker, r.Fingerprint, r.Severity, r.CleanTitle,
			r.IssueType, r.OccurrenceCount)

		if r.CleanedError != "" {
			fmt.Fprintf(&b, "    %s\n", truncate(r.CleanedError, 120))
		}
	}

	if len(records) == 0 {
		b.WriteString("no failures recorded\n")
	}

	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}

func redact(s string) string {
	if s == "" {
		return ""
	}

	return "REDACTED"
}
