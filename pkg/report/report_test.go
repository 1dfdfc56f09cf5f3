package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/triagoor/pkg/config"
	"github.com/ethpandaops/triagoor/pkg/event"
)

func newWriter(t *testing.T) (*Writer, string) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	dir := filepath.Join(t.TempDir(), "triage")

	return NewWriter(log, dir), dir
}

func sampleSummary() *Summary {
	return &Summary{
		GeneratedAt:    time.Now(),
		Branch:         "main",
		Revision:       "abc1234",
		TotalEvents:    3,
		UniqueFailures: 2,
		Suppressed:     1,
		Records: []*event.FailureRecord{
			{
				Fingerprint:     "fp-medium",
				CleanTitle:      "Checkout totals",
				Severity:        event.SeverityMedium,
				IssueType:       event.IssueTypeRealBug,
				OccurrenceCount: 1,
				CleanedError:    "expected 42 to equal 41",
			},
			{
				Fingerprint:     "fp-highest",
				CleanTitle:      "Login flow",
				Severity:        event.SeverityHighest,
				IssueType:       event.IssueTypeFlaky,
				IsFlaky:         true,
				OccurrenceCount: 4,
			},
		},
	}
}

func TestWriteSummary_RoundTrips(t *testing.T) {
	w, dir := newWriter(t)
	require.NoError(t, w.WriteSummary(sampleSummary()))

	data, err := os.ReadFile(filepath.Join(dir, SummaryFilename))
	require.NoError(t, err)

	var got Summary
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 2, got.UniqueFailures)
	assert.Len(t, got.Records, 2)
}

func TestWriteDigest_OrdersBySeverity(t *testing.T) {
	w, dir := newWriter(t)
	require.NoError(t, w.WriteDigest(sampleSummary()))

	data, err := os.ReadFile(filepath.Join(dir, DigestFilename))
	require.NoError(t, err)

	digest := string(data)
	assert.Contains(t, digest, "events: 3  unique: 2  suppressed: 1")

	// Highest-severity entry is listed before the medium one, and the
	// flaky entry carries the suppression marker.
	highestIdx := indexOf(t, digest, "Login flow")
	mediumIdx := indexOf(t, digest, "Checkout totals")
	assert.Less(t, highestIdx, mediumIdx)
	assert.Contains(t, digest, "~ [fp-highest]")
}

func TestWriteDigest_EmptyRun(t *testing.T) {
	w, dir := newWriter(t)
	require.NoError(t, w.WriteDigest(&Summary{GeneratedAt: time.Now()}))

	data, err := os.ReadFile(filepath.Join(dir, DigestFilename))
	require.NoError(t, err)
	assert.Contains(t, string(data), "no failures recorded")
}

func TestWriteConfigSnapshot_RedactsSecrets(t *testing.T) {
	w, dir := newWriter(t)

	c := &config.Config{}
	c.Engine.Tracker.APIToken = "super-secret"
	c.Engine.Patterns.Database.Postgres.Password = "db-secret"
	c.Engine.Upload.S3 = &config.S3UploadConfig{
		Bucket:          "artifacts",
		SecretAccessKey: "also-secret",
	}

	require.NoError(t, w.WriteConfigSnapshot(c))

	data, err := os.ReadFile(filepath.Join(dir, ConfigSnapshotFilename))
	require.NoError(t, err)

	snapshot := string(data)
	assert.NotContains(t, snapshot, "super-secret")
	assert.NotContains(t, snapshot, "also-secret")
	assert.NotContains(t, snapshot, "db-secret")
	assert.Contains(t, snapshot, "REDACTED")
	assert.Contains(t, snapshot, "artifacts")

	// Redaction must not mutate the caller's config.
	assert.Equal(t, "db-secret", c.Engine.Patterns.Database.Postgres.Password)
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()

	idx := strings.Index(haystack, needle)
	require.GreaterOrEqual(t, idx, 0, "expected %q in digest", needle)

	return idx
}
