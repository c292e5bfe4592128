package service

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/splitsync/splitsync/internal/calculator"
	"github.com/splitsync/splitsync/internal/collab"
	"github.com/splitsync/splitsync/internal/middleware"
	"github.com/splitsync/splitsync/internal/models"
	"github.com/splitsync/splitsync/internal/storage"
)

// DocumentService exposes document CRUD, the operation log, and derived
// balances over HTTP. All routes require an authenticated participant.
type DocumentService struct {
	engine *collab.Engine
	store  storage.Store
	logger *slog.Logger
}

// NewDocumentService creates a new document service.
func NewDocumentService(engine *collab.Engine, store storage.Store, logger *slog.Logger) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		engine: engine,
		store:  store,
		logger: logger,
	}
}

type createDocumentRequest struct {
	Title       string   `json:"title"`
	Currency    string   `json:"currency"`
	MemberNames []string `json:"memberNames"`
}

// Create creates a new document owned by the authenticated user.
func (s *DocumentService) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	doc, err := s.engine.CreateDocument(r.Context(), req.Title, req.Currency, userID, req.MemberNames)
	if err != nil {
		respondError(w, err)
		return
	}

	s.logger.Info("document created", "document_id", doc.ID, "user_id", userID)
	writeJSON(w, http.StatusCreated, doc)
}

// List returns all documents the authenticated user participates in.
func (s *DocumentService) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	docs, err := s.store.ListDocumentsByUser(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// Get returns the full document snapshot at its current version.
func (s *DocumentService) Get(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "documentID")
	if !s.authorize(w, r, docID) {
		return
	}

	doc, err := s.store.GetDocument(r.Context(), docID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Operations returns the operation log entries after the given version, in
// ascending version order. Clients use this to catch up after a change
// notification or a rejected submission.
func (s *DocumentService) Operations(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "documentID")
	if !s.authorize(w, r, docID) {
		return
	}

	after := int64(0)
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "after must be a non-negative integer"})
			return
		}
		after = v
	}

	doc, err := s.store.GetDocument(r.Context(), docID)
	if err != nil {
		respondError(w, err)
		return
	}
	if after < doc.CompactedAtVersion {
		writeJSON(w, http.StatusGone, errorResponse{Error: "operation log compacted; refetch the document"})
		return
	}

	ops, err := s.engine.OperationsSince(r.Context(), docID, after)
	if err != nil {
		respondError(w, err)
		return
	}
	if ops == nil {
		ops = []*models.Operation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"operations":     ops,
		"currentVersion": doc.Version,
	})
}

type balancesResponse struct {
	DocumentID string                     `json:"documentId"`
	Version    int64                      `json:"version"`
	Balances   []calculator.MemberBalance `json:"balances"`
	Transfers  []calculator.Transfer      `json:"suggestedTransfers"`
}

// Balances returns per-member net balances and suggested settlement
// transfers derived from the current document state.
func (s *DocumentService) Balances(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "documentID")
	if !s.authorize(w, r, docID) {
		return
	}

	doc, err := s.store.GetDocument(r.Context(), docID)
	if err != nil {
		respondError(w, err)
		return
	}

	balances, transfers, err := calculator.DocumentBalances(doc)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balancesResponse{
		DocumentID: doc.ID,
		Version:    doc.Version,
		Balances:   balances,
		Transfers:  transfers,
	})
}

// authorize checks that the authenticated user participates in the document,
// writing the error response itself when they do not.
func (s *DocumentService) authorize(w http.ResponseWriter, r *http.Request, docID string) bool {
	userID := middleware.GetUserID(r.Context())
	ok, err := s.store.IsParticipant(r.Context(), docID, userID)
	if err != nil {
		respondError(w, err)
		return false
	}
	if !ok {
		respondForbidden(w)
		return false
	}
	return true
}
