package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/triagoor/pkg/config"
	"github.com/ethpandaops/triagoor/pkg/event"
	"github.com/ethpandaops/triagoor/pkg/patterns"
	"github.com/ethpandaops/triagoor/pkg/tracker"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	mu       sync.Mutex
	open     map[string]string
	created  []*tracker.CreateRequest
	comments map[string][]string
}

var _ tracker.Client = (*fakeTracker)(nil)

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		open:     make(map[string]string),
		comments: make(map[string][]string),
	}
}

func (f *fakeTracker) SearchOpenIssue(_ context.Context, fingerprint string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key, found := f.open[fingerprint]

	return key, found, nil
}

func (f *fakeTracker) CreateIssue(_ context.Context, req *tracker.CreateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.created = append(f.created, req)

	return "QA-1", nil
}

func (f *fakeTracker) AddComment(_ context.Context, issueKey, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.comments[issueKey] = append(f.comments[issueKey], body)

	return nil
}

func (f *fakeTracker) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.created)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()

	return &config.Config{
		Global: config.GlobalConfig{LogLevel: "debug"},
		Engine: config.EngineConfig{
			Metadata: config.MetadataConfig{
				Branch:   "main",
				Revision: "abc123",
			},
			Patterns: config.PatternStoreConfig{
				Backend: "file",
				Path:    filepath.Join(dir, "failure-patterns.json"),
			},
			Publish: config.PublishConfig{
				Enabled:               true,
				Concurrency:           2,
				SettleBudgetPerRecord: 5 * time.Second,
			},
			Report: config.ReportConfig{
				Dir: filepath.Join(dir, "reports"),
			},
		},
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, trk tracker.Client, workerIndex int) Engine {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	store, err := patterns.NewStore(log, &cfg.Engine.Patterns)
	require.NoError(t, err)

	eng := New(log, cfg, store, trk, workerIndex)
	require.NoError(t, eng.Start(context.Background()))

	t.Cleanup(func() {
		assert.NoError(t, eng.Stop())
	})

	return eng
}

func failureEvent(title, file, browser, message string) *event.FailureEvent {
	return &event.FailureEvent{
		Title:   title,
		File:    file,
		Browser: browser,
		Errors:  []event.ErrorDetail{{Message: message}},
	}
}

func TestProcessCriticalTimeoutIsSuppressed(t *testing.T) {
	cfg := testConfig(t)
	trk := newFakeTracker()
	eng := newTestEngine(t, cfg, trk, 0)

	summary := eng.Process(context.Background(), []*event.FailureEvent{
		failureEvent(
			"Login @critical", "auth/login.spec.ts", "chromium",
			"Timeout 30000ms exceeded waiting for locator",
		),
	})

	require.Len(t, summary.Records, 1)

	record := summary.Records[0]
	assert.Equal(t, event.IssueTypeFlaky, record.IssueType)
	assert.Equal(t, event.SeverityHighest, record.Severity)
	assert.Equal(t, 1, record.OccurrenceCount)
	assert.True(t, record.IsFirstOccurrence)

	assert.Equal(t, 1, summary.Suppressed)
	assert.Empty(t, summary.PublishResults)
	assert.Zero(t, trk.createdCount())
}

func TestProcessRecurringUniversalFailureEscalates(t *testing.T) {
	cfg := testConfig(t)
	trk := newFakeTracker()
	eng := newTestEngine(t, cfg, trk, 0)

	events := []*event.FailureEvent{
		failureEvent("Cart total updates", "cart/total.spec.ts", "chromium",
			"expect(received).toBe(expected): got 41, want 42"),
		failureEvent("Cart total updates", "cart/total.spec.ts", "firefox",
			"expect(received).toBe(expected): got 41, want 42"),
		failureEvent("Cart total updates", "cart/total.spec.ts", "webkit",
			"expect(received).toBe(expected): got 41, want 42"),
		failureEvent("Cart total updates", "cart/total.spec.ts", "chromium",
			"expect(received).toBe(expected): got 41, want 42"),
	}

	summary := eng.Process(context.Background(), events)

	require.Len(t, summary.Records, 1)

	record := summary.Records[0]
	assert.Equal(t, event.IssueTypeRealBug, record.IssueType)
	assert.Equal(t, 4, record.OccurrenceCount)
	assert.False(t, record.IsFirstOccurrence)
	assert.Equal(t, "universal", record.Spread)
	assert.Equal(t, event.SeverityHighest, record.Severity)

	assert.Equal(t, 1, trk.createdCount())
	require.Len(t, summary.PublishResults, 1)
	assert.True(t, summary.PublishResults[0].Created)
}

func TestProcessHistorySurvivesSuppression(t *testing.T) {
	cfg := testConfig(t)

	stability := filepath.Join(t.TempDir(), "stability.json")
	doc := map[string]any{
		"profile-avatar": map[string]any{
			"testPath":      "profile/avatar.spec.ts",
			"testName":      "Avatar upload",
			"currentStatus": "flaky",
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(stability, data, 0644))

	cfg.Engine.Snapshots.StabilityPath = stability

	trk := newFakeTracker()
	eng := newTestEngine(t, cfg, trk, 0)

	ev := failureEvent("Avatar upload", "profile/avatar.spec.ts", "chromium",
		"expect(received).toBe(expected)")

	summary := eng.Process(context.Background(), []*event.FailureEvent{ev, ev})

	require.Len(t, summary.Records, 1)

	record := summary.Records[0]
	assert.True(t, record.IsFlaky)
	assert.NotEmpty(t, record.FlakyReason)
	assert.Equal(t, 2, record.OccurrenceCount)

	assert.Equal(t, 1, summary.Suppressed)
	assert.Empty(t, summary.PublishResults)
	assert.Zero(t, trk.createdCount())

	// History persisted despite suppression.
	stored, err := os.ReadFile(cfg.Engine.Patterns.Path)
	require.NoError(t, err)
	assert.Contains(t, string(stored), record.Fingerprint)
}

func TestProcessCommentsOnExistingIssue(t *testing.T) {
	cfg := testConfig(t)
	trk := newFakeTracker()
	eng := newTestEngine(t, cfg, trk, 0)

	// Seed the tracker with an open issue for the fingerprint of the
	// event below by running the pipeline once first.
	ev := failureEvent("Search filters", "search/filters.spec.ts", "chromium",
		"expect(count).toBe(3)")

	first := eng.Process(context.Background(), []*event.FailureEvent{ev})
	require.Len(t, first.Records, 1)

	trk.mu.Lock()
	trk.open[first.Records[0].Fingerprint] = "QA-102"
	trk.mu.Unlock()

	second := eng.Process(context.Background(), []*event.FailureEvent{ev})

	require.Len(t, second.PublishResults, 1)
	assert.Equal(t, "QA-102", second.PublishResults[0].IssueKey)
	assert.True(t, second.PublishResults[0].Commented)
	assert.False(t, second.PublishResults[0].Created)

	trk.mu.Lock()
	assert.Len(t, trk.comments["QA-102"], 1)
	trk.mu.Unlock()
}

func TestProcessSkipsMalformedEvents(t *testing.T) {
	cfg := testConfig(t)
	eng := newTestEngine(t, cfg, newFakeTracker(), 0)

	summary := eng.Process(context.Background(), []*event.FailureEvent{
		{Title: "", Browser: "chromium"},
		{Title: "No browser"},
		failureEvent("Valid failure", "a.spec.ts", "chromium", "boom"),
	})

	assert.Equal(t, 3, summary.TotalEvents)
	assert.Equal(t, 2, summary.Malformed)
	assert.Equal(t, 1, summary.UniqueFailures)
}

func TestProcessNonPrimaryWorkerDoesNotPublish(t *testing.T) {
	cfg := testConfig(t)
	trk := newFakeTracker()
	eng := newTestEngine(t, cfg, trk, 1)

	summary := eng.Process(context.Background(), []*event.FailureEvent{
		failureEvent("Cart badge", "cart/badge.spec.ts", "chromium", "boom"),
	})

	require.Len(t, summary.Records, 1)
	assert.Equal(t, 1, summary.Records[0].OccurrenceCount)
	assert.Empty(t, summary.PublishResults)
	assert.Zero(t, trk.createdCount())
}

func TestProcessWritesArtifacts(t *testing.T) {
	cfg := testConfig(t)
	eng := newTestEngine(t, cfg, newFakeTracker(), 0)

	eng.Process(context.Background(), []*event.FailureEvent{
		failureEvent("Nav menu", "nav/menu.spec.ts", "chromium", "boom"),
	})

	for _, name := range []string{
		"failure-summary.json", "failure-digest.txt", "run-config.yaml",
	} {
		_, err := os.Stat(filepath.Join(cfg.Engine.Report.Dir, name))
		assert.NoError(t, err, name)
	}
}
