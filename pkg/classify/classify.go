// Package classify assigns heuristic taxonomy labels to test failures.
//
// Classification is advisory: it changes tracker routing and priority
// only, never the correctness of the underlying test result.
package classify

import (
	"strings"

	"github.com/ethpandaops/triagoor/pkg/event"
)

// rule is one ordered classification heuristic. The first rule whose
// predicate matches wins.
type rule struct {
	name  string
	match func(title, cleanedError string) bool
	label event.IssueType
}

// containsAny reports whether s contains any of the given substrings,
// case-insensitively.
func containsAny(s string, subs []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}

	return false
}

// titleDenylist marks tests whose titles self-identify as scaffolding
// or test-quality probes rather than product coverage.
var titleDenylist = []string{"demo", "check", "verify", "debug", "sandbox"}

// timeoutVocabulary marks wait/timeout failures, the strongest flake signal.
var timeoutVocabulary = []string{"timeout", "timed out", "waitfor"}

// infraVocabulary marks network and infrastructure failures.
var infraVocabulary = []string{
	"econnrefused",
	"connection refused",
	"enotfound",
	"getaddrinfo",
	"dns",
	"502 bad gateway",
	"503 service unavailable",
	"net::err",
}

// rules are evaluated in order; new heuristics are added to the list,
// never nested into conditionals.
var rules = []rule{
	{
		name: "test-quality marker in title",
		match: func(title, _ string) bool {
			return containsAny(title, titleDenylist)
		},
		label: event.IssueTypeTestBug,
	},
	{
		name: "timeout vocabulary",
		match: func(_, cleanedError string) bool {
			return containsAny(cleanedError, timeoutVocabulary)
		},
		label: event.IssueTypeFlaky,
	},
	{
		name: "network vocabulary",
		match: func(_, cleanedError string) bool {
			return containsAny(cleanedError, infraVocabulary)
		},
		label: event.IssueTypeEnvIssue,
	},
}

// Classify returns the taxonomy label for a failure given its test
// title and cleaned error text. Ambiguity is not an error: anything
// unmatched defaults to a real bug.
func Classify(testTitle, cleanedError string) event.IssueType {
	for _, r := range rules {
		if r.match(testTitle, cleanedError) {
			return r.label
		}
	}

	return event.IssueTypeRealBug
}
