// Package flakiness decides whether a failure should be suppressed
// from tracker publication based on two read-only advisory snapshots:
// a test stability history and a visual-diff flakiness report.
//
// A positive verdict only affects routing. Pattern history is always
// updated regardless, so a regression from "flaky" to "real" stays
// detectable later.
package flakiness

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Verdict is the advisory suppression decision for one failure.
type Verdict struct {
	IsFlaky bool   `json:"is_flaky"`
	Reason  string `json:"reason,omitempty"`
}

// HistoricalIssue is one prior tracked issue for a known-unstable test.
type HistoricalIssue struct {
	Browser    string `json:"browser,omitempty"`
	Issue      string `json:"issue,omitempty"`
	Fix        string `json:"fix,omitempty"`
	TrackerKey string `json:"trackerKey,omitempty"`
}

// StabilityEntry is one test's stability history, keyed by test id in
// the snapshot document.
type StabilityEntry struct {
	TestPath          string            `json:"testPath"`
	TestName          string            `json:"testName"`
	CurrentStatus     string            `json:"currentStatus"`
	ConsecutivePasses int               `json:"consecutivePasses"`
	HistoricalIssues  []HistoricalIssue `json:"historicalIssues,omitempty"`
}

// VisualEntry is one test's visual-diff statistics.
type VisualEntry struct {
	TestName string  `json:"testName"`
	IsFlaky  bool    `json:"isFlaky"`
	Mean     float64 `json:"mean"`
}

// Stability statuses that imply suppression.
const (
	StatusStable      = "stable"
	StatusFlaky       = "flaky"
	StatusQuarantined = "quarantined"
)

// Oracle answers flakiness queries from snapshots loaded once per
// process. The zero-value snapshots (missing files) answer "not flaky"
// for everything.
type Oracle struct {
	log       logrus.FieldLogger
	stability map[string]StabilityEntry
	visual    []VisualEntry
}

// NewOracle loads both snapshot documents. Missing or malformed
// snapshots degrade to empty: this engine never blocks a run over
// advisory inputs.
func NewOracle(log logrus.FieldLogger, stabilityPath, visualPath string) *Oracle {
	o := &Oracle{
		log:       log.WithField("component", "flakiness"),
		stability: make(map[string]StabilityEntry),
	}

	if stabilityPath != "" {
		if err := loadJSON(stabilityPath, &o.stability); err != nil {
			o.log.WithError(err).WithField("path", stabilityPath).
				Warn("Failed to load stability snapshot, continuing without it")

			o.stability = make(map[string]StabilityEntry)
		}
	}

	if visualPath != "" {
		if err := loadJSON(visualPath, &o.visual); err != nil {
			o.log.WithError(err).WithField("path", visualPath).
				Warn("Failed to load visual-diff snapshot, continuing without it")

			o.visual = nil
		}
	}

	return o
}

// loadJSON reads and unmarshals a snapshot document.
func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing snapshot: %w", err)
	}

	return nil
}

// Verdict reports whether the given test is known to be flaky. The
// stability snapshot is consulted first by path/title substring match;
// the visual-diff snapshot is consulted second by canonical test id.
// Stability entries are checked in key order so the reason text is the
// same on every run when more than one entry matches.
func (o *Oracle) Verdict(testPath, testTitle string) Verdict {
	ids := make([]string, 0, len(o.stability))
	for id := range o.stability {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		entry := o.stability[id]
		if entry.CurrentStatus != StatusFlaky &&
			entry.CurrentStatus != StatusQuarantined {
			continue
		}

		if matches(testPath, entry.TestPath) || matches(testTitle, entry.TestName) {
			return Verdict{
				IsFlaky: true,
				Reason: fmt.Sprintf(
					"stability snapshot marks %q as %s", id, entry.CurrentStatus,
				),
			}
		}
	}

	id := CanonicalTestID(testTitle)

	for _, entry := range o.visual {
		if !entry.IsFlaky {
			continue
		}

		if entry.TestName == id || strings.Contains(id, entry.TestName) {
			return Verdict{
				IsFlaky: true,
				Reason: fmt.Sprintf(
					"visual-diff snapshot marks %q as flaky (mean diff %.2f)",
					entry.TestName, entry.Mean,
				),
			}
		}
	}

	return Verdict{}
}

// matches reports whether candidate is a non-empty substring of value.
func matches(value, candidate string) bool {
	return candidate != "" && strings.Contains(value, candidate)
}

// CanonicalTestID derives a short, stable identifier from a test
// title: tag markers removed, lowercased, word runs joined by dashes.
func CanonicalTestID(title string) string {
	fields := strings.Fields(title)
	words := make([]string, 0, len(fields))

	for _, f := range fields {
		if strings.HasPrefix(f, "@") {
			continue
		}

		var b strings.Builder

		for _, r := range strings.ToLower(f) {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				b.WriteRune(r)
			}
		}

		if b.Len() > 0 {
			words = append(words, b.String())
		}
	}

	return strings.Join(words, "-")
}
