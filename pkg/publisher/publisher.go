// Package publisher deduplicates failure records against the external
// tracker: one open issue per fingerprint, enforced by
// search-before-create, with repeat occurrences appended as comments.
//
// Publish operations run concurrently and may outlive the natural exit
// point of a short-lived batch process, so PublishAll blocks on a
// bounded join: the total wait budget is proportional to the number of
// records, never unbounded.
package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/triagoor/pkg/config"
	"github.com/ethpandaops/triagoor/pkg/event"
	"github.com/ethpandaops/triagoor/pkg/tracker"
)

// Result records the tracker outcome for one failure record.
type Result struct {
	Fingerprint string `json:"fingerprint"`
	IssueKey    string `json:"issue_key,omitempty"`
	Created     bool   `json:"created"`
	Commented   bool   `json:"commented"`
	Skipped     bool   `json:"skipped"`
	Error       string `json:"error,omitempty"`
}

// Publisher publishes failure records to the external tracker.
type Publisher struct {
	log          logrus.FieldLogger
	tracker      tracker.Client
	meta         *config.MetadataConfig
	component    string
	concurrency  int
	settleBudget time.Duration
}

// New creates a publisher. settleBudgetPerRecord bounds the total join
// time in PublishAll at settleBudgetPerRecord multiplied by the number
// of records.
func New(
	log logrus.FieldLogger,
	client tracker.Client,
	cfg *config.EngineConfig,
) *Publisher {
	return &Publisher{
		log:          log.WithField("component", "publisher"),
		tracker:      client,
		meta:         &cfg.Metadata,
		component:    cfg.Tracker.Component,
		concurrency:  cfg.Publish.Concurrency,
		settleBudget: cfg.Publish.SettleBudgetPerRecord,
	}
}

// PublishAll publishes every record with bounded parallelism and
// blocks until all publish operations settle or the total budget
// elapses. A failure on one record is logged and skipped; it never
// blocks publication of the rest, and PublishAll itself never fails
// the run.
func (p *Publisher) PublishAll(
	ctx context.Context, records []*event.FailureRecord,
) []Result {
	if len(records) == 0 {
		return nil
	}

	budget := p.settleBudget * time.Duration(len(records))

	joinCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	results := make([]Result, len(records))

	g, gCtx := errgroup.WithContext(joinCtx)
	g.SetLimit(p.concurrency)

	for i, record := range records {
		g.Go(func() error {
			results[i] = p.publishOne(gCtx, record)

			return nil
		})
	}

	// The group never returns an error: per-record failures are
	// absorbed into their Result.
	_ = g.Wait()

	if joinCtx.Err() != nil {
		p.log.WithField("budget", budget).
			Warn("Publish settle budget elapsed before all operations completed")
	}

	return results
}

// publishOne resolves one record against the tracker: comment on the
// existing open issue for its fingerprint, or create a new one.
func (p *Publisher) publishOne(
	ctx context.Context, record *event.FailureRecord,
) Result {
	result := Result{Fingerprint: record.Fingerprint}

	rlog := p.log.WithField("fingerprint", record.Fingerprint).
		WithField("test", record.CleanTitle)

	key, found, err := p.tracker.SearchOpenIssue(ctx, record.Fingerprint)
	if err != nil {
		rlog.WithError(err).Warn("Tracker search failed, skipping record")

		result.Skipped = true
		result.Error = err.Error()

		return result
	}

	if found {
		if err := p.tracker.AddComment(ctx, key, p.commentBody(record)); err != nil {
			rlog.WithError(err).WithField("issue", key).
				Warn("Failed to comment on existing issue, skipping record")

			result.Skipped = true
			result.Error = err.Error()

			return result
		}

		rlog.WithField("issue", key).Info("Commented on existing issue")

		result.IssueKey = key
		result.Commented = true

		return result
	}

	key, err = p.tracker.CreateIssue(ctx, &tracker.CreateRequest{
		Summary:     p.summary(record),
		Description: p.description(record),
		Priority:    string(record.Severity),
		Labels:      p.labels(record),
		Component:   p.component,
	})
	if err != nil {
		rlog.WithError(err).Warn("Failed to create issue, skipping record")

		result.Skipped = true
		result.Error = err.Error()

		return result
	}

	rlog.WithField("issue", key).Info("Created new issue")

	result.IssueKey = key
	result.Created = true

	return result
}

// summary builds the one-line issue title.
func (p *Publisher) summary(record *event.FailureRecord) string {
	return fmt.Sprintf(
		"[e2e] %s fails on %s", record.CleanTitle, record.Browser,
	)
}

// description builds the plain-text issue body. The fingerprint line
// is what SearchOpenIssue matches on, so it must always be present.
func (p *Publisher) description(record *event.FailureRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "fingerprint: %s\n", record.Fingerprint)
	fmt.Fprintf(&b, "test: %s\n", record.Title)
	fmt.Fprintf(&b, "file: %s:%d\n", record.File, record.Line)
	fmt.Fprintf(&b, "browser: %s\n", record.Browser)
	fmt.Fprintf(&b, "classification: %s\n", record.IssueType)
	fmt.Fprintf(&b, "occurrences: %d\n", record.OccurrenceCount)

	if record.Spread != "" {
		fmt.Fprintf(&b, "spread: %s\n", record.Spread)
	}

	if record.CleanedError != "" {
		fmt.Fprintf(&b, "\nerror:\n%s\n", record.CleanedError)
	}

	return b.String()
}

// commentBody builds the repeat-occurrence comment: timestamp, run
// identity, and the cleaned error text.
func (p *Publisher) commentBody(record *event.FailureRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Failure recurred at %s (occurrence %d, browser %s).\n",
		record.ObservedAt.UTC().Format(time.RFC3339),
		record.OccurrenceCount,
		record.Browser,
	)

	if p.meta.Branch != "" || p.meta.Revision != "" {
		fmt.Fprintf(&b, "branch: %s revision: %s\n", p.meta.Branch, p.meta.Revision)
	}

	if record.CleanedError != "" {
		fmt.Fprintf(&b, "\nerror:\n%s\n", record.CleanedError)
	}

	return b.String()
}

// labels derives tracker labels from the record.
func (p *Publisher) labels(record *event.FailureRecord) []string {
	labels := []string{
		"e2e-failure",
		strings.ToLower(strings.ReplaceAll(string(record.IssueType), "_", "-")),
	}

	if record.Spread != "" {
		labels = append(labels, "spread-"+string(record.Spread))
	}

	return labels
}
