package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// fileStore persists the pattern map as a single JSON document.
//
// Save is a full-document write with no locking: concurrent writers
// from parallel worker processes can lose each other's updates
// (last-writer-wins). That is an accepted advisory-metrics limitation;
// the db backend exists for callers that need stronger guarantees.
type fileStore struct {
	log  logrus.FieldLogger
	path string

	mu      sync.Mutex
	entries map[string]*Entry
}

// Compile-time interface check.
var _ Store = (*fileStore)(nil)

// NewFileStore creates a JSON-document-backed pattern store.
func NewFileStore(log logrus.FieldLogger, path string) Store {
	return &fileStore{
		log:     log.WithField("component", "patterns"),
		path:    path,
		entries: make(map[string]*Entry),
	}
}

// Load reads the document. A missing file yields an empty map; a
// malformed document is logged and reset to empty, never fatal.
func (s *fileStore) Load(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*Entry)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		s.log.WithError(err).WithField("path", s.path).
			Warn("Failed to read pattern store, starting fresh")

		return nil
	}

	if err := json.Unmarshal(data, &s.entries); err != nil {
		s.log.WithError(err).WithField("path", s.path).
			Warn("Pattern store is corrupt, starting fresh")

		s.entries = make(map[string]*Entry)
	}

	return nil
}

// Record registers one occurrence in the in-memory map. Call Save to
// persist.
func (s *fileStore) Record(
	_ context.Context, fingerprint, browser string, now time.Time,
) (*Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[fingerprint]
	if !ok {
		entry = &Entry{
			FirstFailure: now,
			LastFailure:  now,
			Count:        1,
			Browsers:     []string{browser},
		}
		s.entries[fingerprint] = entry

		return &Occurrence{
			IsFirstOccurrence: true,
			Count:             1,
			Browsers:          append([]string(nil), entry.Browsers...),
		}, nil
	}

	entry.Count++
	entry.LastFailure = now
	entry.Browsers = unionBrowser(entry.Browsers, browser)

	return &Occurrence{
		Count:    entry.Count,
		Browsers: append([]string(nil), entry.Browsers...),
	}, nil
}

// Save writes the full map, creating the parent directory if absent.
func (s *fileStore) Save(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating pattern store directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling pattern store: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing pattern store: %w", err)
	}

	return nil
}

// Get returns the entry for a fingerprint, or nil when absent.
func (s *fileStore) Get(_ context.Context, fingerprint string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[fingerprint]
	if !ok {
		return nil, nil
	}

	cp := *entry
	cp.Browsers = append([]string(nil), entry.Browsers...)

	return &cp, nil
}

// All returns a snapshot of every entry.
func (s *fileStore) All(_ context.Context) (map[string]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*Entry, len(s.entries))

	for fp, entry := range s.entries {
		cp := *entry
		cp.Browsers = append([]string(nil), entry.Browsers...)
		out[fp] = &cp
	}

	return out, nil
}

// Close is a no-op for the file backend.
func (s *fileStore) Close() error {
	return nil
}
