package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePatterns returns every persisted fingerprint entry.
func (s *server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.All(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list pattern entries")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing patterns"})

		return
	}

	writeJSON(w, http.StatusOK, entries)
}

// handlePattern returns one fingerprint's history, or 404.
func (s *server) handlePattern(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")

	entry, err := s.store.Get(r.Context(), fingerprint)
	if err != nil {
		s.log.WithError(err).WithField("fingerprint", fingerprint).
			Error("Failed to load pattern entry")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"loading pattern"})

		return
	}

	if entry == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"unknown fingerprint"})

		return
	}

	writeJSON(w, http.StatusOK, entry)
}
