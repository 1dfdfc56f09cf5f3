// Package event defines the shared data types flowing through the
// failure intelligence pipeline.
package event

import "time"

// IssueType is the heuristic taxonomy label attached to a failure.
type IssueType string

const (
	IssueTypeRealBug  IssueType = "REAL_BUG"
	IssueTypeTestBug  IssueType = "TEST_BUG"
	IssueTypeFlaky    IssueType = "FLAKY"
	IssueTypeEnvIssue IssueType = "ENV_ISSUE"
)

// Severity is the computed priority of a failure for tracker routing.
type Severity string

const (
	SeverityLow     Severity = "Low"
	SeverityMedium  Severity = "Medium"
	SeverityHigh    Severity = "High"
	SeverityHighest Severity = "Highest"
)

// severityRank orders severities for escalation comparisons.
var severityRank = map[Severity]int{
	SeverityLow:     0,
	SeverityMedium:  1,
	SeverityHigh:    2,
	SeverityHighest: 3,
}

// Rank returns the numeric ordering of a severity. Unknown severities
// rank below Low.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}

	return -1
}

// Escalate returns the severity one level above s, capped at Highest.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	case SeverityHigh, SeverityHighest:
		return SeverityHighest
	default:
		return s
	}
}

// ErrorDetail is a single structured error reported by the test runner.
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// FailureEvent is one failed or timed-out test as emitted by the
// external runner. Events are consumed immediately and never persisted.
type FailureEvent struct {
	Title      string        `json:"title"`
	File       string        `json:"file"`
	Line       int           `json:"line,omitempty"`
	Errors     []ErrorDetail `json:"errors"`
	Browser    string        `json:"browser"`
	Duration   time.Duration `json:"duration,omitempty"`
	RetryCount int           `json:"retry_count,omitempty"`
	Status     string        `json:"status,omitempty"`
}

// ErrorMessage returns the first error message of the event, or an
// empty string when the runner attached no structured errors.
func (e *FailureEvent) ErrorMessage() string {
	if len(e.Errors) == 0 {
		return ""
	}

	return e.Errors[0].Message
}

// FailureRecord is the canonical, derived view of a FailureEvent after
// normalization, fingerprinting and classification. It lives for the
// process run only; cross-run state is held by the pattern store.
type FailureRecord struct {
	Fingerprint       string    `json:"fingerprint"`
	Title             string    `json:"title"`
	CleanTitle        string    `json:"clean_title"`
	File              string    `json:"file"`
	Line              int       `json:"line,omitempty"`
	Browser           string    `json:"browser"`
	CleanedError      string    `json:"cleaned_error"`
	Tags              []string  `json:"tags,omitempty"`
	IssueType         IssueType `json:"issue_type"`
	IsFlaky           bool      `json:"is_flaky"`
	FlakyReason       string    `json:"flaky_reason,omitempty"`
	IsFirstOccurrence bool      `json:"is_first_occurrence"`
	OccurrenceCount   int       `json:"occurrence_count"`
	Severity          Severity  `json:"severity,omitempty"`
	Spread            string    `json:"spread,omitempty"`
	RetryCount        int       `json:"retry_count,omitempty"`
	ObservedAt        time.Time `json:"observed_at"`
}

// HasTag reports whether the record carries the given tag.
func (r *FailureRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}

	return false
}
