// Package patterns persists cross-run failure history keyed by
// fingerprint.
//
// Two backends implement the same Store interface: a shared JSON
// document (full read-modify-write, documented last-writer-wins under
// parallel workers) and a database (sqlite or postgres) that
// serializes updates and closes the lost-update window.
package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/triagoor/pkg/config"
)

// Entry is the persisted occurrence history for one fingerprint.
type Entry struct {
	FirstFailure time.Time `json:"firstFailure"`
	LastFailure  time.Time `json:"lastFailure"`
	Count        int       `json:"count"`
	Browsers     []string  `json:"browsers"`
}

// Occurrence is the result of recording one failure occurrence.
type Occurrence struct {
	IsFirstOccurrence bool
	Count             int

	// Browsers is the full browser set seen for the fingerprint,
	// including the one just recorded.
	Browsers []string
}

// Store is the durable fingerprint-to-history map.
//
// Load never fails the run: a missing document yields an empty map and
// a corrupt one is logged and reset. Count is monotonically
// non-decreasing per fingerprint and increments by exactly one per
// Record call; Browsers is a set union.
type Store interface {
	// Load reads the persisted document into memory (file backend) or
	// opens the database connection and runs migrations (db backend).
	Load(ctx context.Context) error

	// Record registers one failure occurrence for the fingerprint.
	Record(ctx context.Context, fingerprint, browser string, now time.Time) (*Occurrence, error)

	// Save persists the full map. A no-op for the db backend, which
	// persists on every Record.
	Save(ctx context.Context) error

	// Get returns the entry for a fingerprint, or nil when absent.
	Get(ctx context.Context, fingerprint string) (*Entry, error)

	// All returns a snapshot of every entry keyed by fingerprint.
	All(ctx context.Context) (map[string]*Entry, error)

	// Close releases backend resources.
	Close() error
}

// NewStore creates a pattern store for the configured backend.
func NewStore(log logrus.FieldLogger, cfg *config.PatternStoreConfig) (Store, error) {
	switch cfg.Backend {
	case "file":
		return NewFileStore(log, cfg.Path), nil
	case "db":
		return NewDBStore(log, &cfg.Database), nil
	default:
		return nil, fmt.Errorf("unsupported pattern store backend: %s", cfg.Backend)
	}
}

// unionBrowser adds browser to set if absent, preserving order.
func unionBrowser(set []string, browser string) []string {
	for _, b := range set {
		if b == browser {
			return set
		}
	}

	return append(set, browser)
}
