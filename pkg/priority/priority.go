// Package priority computes tracker severity from failure facts.
//
// Escalation is monotonic: each step raises the severity by at most
// one level and never lowers it, so re-running with a superset of the
// same facts can never yield a lower severity.
package priority

import (
	"github.com/ethpandaops/triagoor/pkg/crossbrowser"
	"github.com/ethpandaops/triagoor/pkg/event"
)

// occurrenceEscalationThreshold is the count above which recurrence
// escalates severity.
const occurrenceEscalationThreshold = 3

// Facts are the inputs to a priority computation.
type Facts struct {
	Tags              []string
	OccurrenceCount   int
	IsFirstOccurrence bool
	Spread            crossbrowser.Spread
}

// Base returns the severity implied by the tag set alone.
func Base(tags []string) event.Severity {
	for _, tag := range tags {
		switch tag {
		case "critical", "blocker":
			return event.SeverityHighest
		}
	}

	for _, tag := range tags {
		if tag == "security" {
			return event.SeverityHigh
		}
	}

	return event.SeverityMedium
}

// Compute derives the final severity: the tag-based base, escalated
// one level for universal cross-browser spread, one more level for
// recurrence, and forced to Highest for a critical first occurrence.
func Compute(f Facts) event.Severity {
	severity := Base(f.Tags)

	if f.Spread == crossbrowser.SpreadUniversal {
		severity = severity.Escalate()
	}

	if f.OccurrenceCount > occurrenceEscalationThreshold {
		severity = severity.Escalate()
	}

	if f.IsFirstOccurrence && hasTag(f.Tags, "critical") {
		severity = event.SeverityHighest
	}

	return severity
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}

	return false
}
