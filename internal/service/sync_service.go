package service

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/splitsync/splitsync/internal/collab"
	"github.com/splitsync/splitsync/internal/middleware"
	"github.com/splitsync/splitsync/internal/models"
	"github.com/splitsync/splitsync/internal/room"
	"github.com/splitsync/splitsync/internal/storage"
)

// SyncService reconciles offline delta batches against the current
// document. A batch is all-or-nothing: either everything in it applies as
// one version bump, or the whole batch is rejected with a conflict report
// and the merged document so the client can rebase.
type SyncService struct {
	engine *collab.Engine
	store  storage.Store
	rooms  *room.Manager
	logger *slog.Logger
}

// NewSyncService creates a new sync service.
func NewSyncService(engine *collab.Engine, store storage.Store, rooms *room.Manager, logger *slog.Logger) *SyncService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncService{
		engine: engine,
		store:  store,
		rooms:  rooms,
		logger: logger,
	}
}

type syncAccepted struct {
	Success            bool                      `json:"success"`
	NewVersion         int64                     `json:"newVersion"`
	IdentifierMappings models.IdentifierMappings `json:"identifierMappings"`
}

type syncRejected struct {
	Success        bool              `json:"success"`
	CurrentVersion int64             `json:"currentVersion"`
	Conflicts      []models.Conflict `json:"conflicts"`
	MergedDocument *models.Document  `json:"mergedDocument"`
}

// Sync applies a delta batch produced while the client was offline.
func (s *SyncService) Sync(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "documentID")
	userID := middleware.GetUserID(r.Context())

	ok, err := s.store.IsParticipant(r.Context(), docID, userID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !ok {
		respondForbidden(w)
		return
	}

	var batch models.DeltaBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	batch.DocumentID = docID

	result, err := s.engine.SyncBatch(r.Context(), &batch, userID, batch.ClientID)
	if err != nil {
		respondError(w, err)
		return
	}

	if !result.Accepted() {
		s.logger.Info("batch rejected",
			"document_id", docID,
			"base_version", batch.BaseVersion,
			"current_version", result.Rejected.CurrentVersion,
			"conflicts", len(result.Rejected.Conflicts))
		writeJSON(w, http.StatusConflict, syncRejected{
			CurrentVersion: result.Rejected.CurrentVersion,
			Conflicts:      result.Rejected.Conflicts,
			MergedDocument: result.Rejected.MergedDocument,
		})
		return
	}

	s.logger.Info("batch applied",
		"document_id", docID,
		"user_id", userID,
		"new_version", result.NewVersion)

	// The submitter's acknowledgement is written first; only then do room
	// members hear about the change and pull the ops they are missing.
	writeJSON(w, http.StatusOK, syncAccepted{
		Success:            true,
		NewVersion:         result.NewVersion,
		IdentifierMappings: result.Mappings,
	})

	s.rooms.Broadcast(docID, room.Notification{
		Type:       room.NotificationType,
		DocumentID: docID,
		NewVersion: result.NewVersion,
		UpdatedBy:  userID,
	}, "")
}
