// Package service exposes the HTTP surface: auth, document CRUD, the batch
// delta-sync endpoint, and read endpoints for catch-up and balances.
package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/splitsync/splitsync/internal/collab"
	"github.com/splitsync/splitsync/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// respondError maps engine and storage errors to HTTP statuses. Concurrency
// conflicts never come through here; they are first-class response shapes,
// not errors.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, collab.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func respondForbidden(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, errorResponse{Error: "not a participant of this document"})
}
