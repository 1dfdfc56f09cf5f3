// Package collector normalizes raw runner failure events into
// canonical failure records.
package collector

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/triagoor/pkg/classify"
	"github.com/ethpandaops/triagoor/pkg/event"
	"github.com/ethpandaops/triagoor/pkg/signature"
)

// ErrMalformedEvent marks events missing required fields. Callers log
// and skip the record; a malformed event never aborts the run.
var ErrMalformedEvent = errors.New("malformed failure event")

// tagMarkers matches embedded tag markers such as "@critical" in test
// titles.
var tagMarkers = regexp.MustCompile(`@([a-zA-Z0-9_-]+)`)

// Collector derives FailureRecords from FailureEvents.
type Collector struct {
	log logrus.FieldLogger
}

// New creates a collector.
func New(log logrus.FieldLogger) *Collector {
	return &Collector{
		log: log.WithField("component", "collector"),
	}
}

// Normalize validates an event and derives its canonical record:
// fingerprint, tag set, cleaned error text and taxonomy label.
// Occurrence fields are filled later by the pattern store.
func (c *Collector) Normalize(ev *event.FailureEvent, now time.Time) (*event.FailureRecord, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrMalformedEvent)
	}

	if strings.TrimSpace(ev.Title) == "" {
		return nil, fmt.Errorf("%w: missing test title (file=%q)", ErrMalformedEvent, ev.File)
	}

	if strings.TrimSpace(ev.Browser) == "" {
		return nil, fmt.Errorf("%w: missing browser (title=%q)", ErrMalformedEvent, ev.Title)
	}

	rawError := ev.ErrorMessage()
	cleaned := signature.Clean(rawError)

	record := &event.FailureRecord{
		Fingerprint:  signature.Fingerprint(ev.Title, rawError),
		Title:        ev.Title,
		CleanTitle:   StripTags(ev.Title),
		File:         ev.File,
		Line:         ev.Line,
		Browser:      ev.Browser,
		CleanedError: cleaned,
		Tags:         ExtractTags(ev.Title),
		IssueType:    classify.Classify(ev.Title, cleaned),
		RetryCount:   ev.RetryCount,
		ObservedAt:   now,
	}

	return record, nil
}

// ExtractTags returns the tag markers embedded in a test title,
// without the "@" prefix, in order of appearance and deduplicated.
func ExtractTags(title string) []string {
	matches := tagMarkers.FindAllStringSubmatch(title, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	tags := make([]string, 0, len(matches))

	for _, m := range matches {
		tag := strings.ToLower(m[1])
		if _, ok := seen[tag]; ok {
			continue
		}

		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}

	return tags
}

// StripTags removes tag markers from a title and collapses the
// leftover whitespace.
func StripTags(title string) string {
	stripped := tagMarkers.ReplaceAllString(title, "")

	return strings.Join(strings.Fields(stripped), " ")
}
