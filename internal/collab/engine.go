package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splitsync/splitsync/internal/metrics"
	"github.com/splitsync/splitsync/internal/models"
	"github.com/splitsync/splitsync/internal/storage"
)

// Rejection reasons surfaced to clients.
const (
	ReasonVersionMismatch = "version_mismatch"
	ReasonLogCompacted    = "log_compacted"
)

// SubmitRequest is one live operation from a connected client.
type SubmitRequest struct {
	DocumentID  string
	ClientID    string
	UserID      string
	Type        models.OpType
	TargetID    string
	Payload     json.RawMessage
	BaseVersion int64
}

// Rejection carries everything a rejected caller needs to self-heal: the
// authoritative version and the operations it is missing. If the log has
// been compacted past the caller's base version, MissingOperations is nil
// and the caller must refetch the full document.
type Rejection struct {
	ClientID          string              `json:"clientId,omitempty"`
	Reason            string              `json:"reason"`
	CurrentVersion    int64               `json:"currentVersion"`
	MissingOperations []*models.Operation `json:"missingOperations"`
}

// SubmitResult is the outcome of a live operation: either the committed
// operation record or a rejection.
type SubmitResult struct {
	Operation *models.Operation
	Rejected  *Rejection
}

// Accepted reports whether the operation was committed.
func (r *SubmitResult) Accepted() bool { return r.Operation != nil }

// BatchRejection is the self-healing response for a rejected delta batch:
// the conflict report plus the full authoritative document, so the caller
// can rebase without a second round trip.
type BatchRejection struct {
	CurrentVersion int64             `json:"currentVersion"`
	Conflicts      []models.Conflict `json:"conflicts"`
	MergedDocument *models.Document  `json:"mergedDocument"`
}

// BatchResult is the outcome of a delta batch.
type BatchResult struct {
	NewVersion int64
	Mappings   models.IdentifierMappings
	Rejected   *BatchRejection
}

// Accepted reports whether the batch was committed.
func (r *BatchResult) Accepted() bool { return r.Rejected == nil }

// Engine is the sync coordinator: the single writer path for documents. It
// serializes all writers to one document behind a per-document mutex while
// writers to different documents proceed in parallel, and runs the version
// gate, mutation applier, and log writer as one atomic unit per commit.
type Engine struct {
	store  storage.Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates an engine backed by the given store.
func NewEngine(store storage.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockDocument acquires the per-document writer lock and returns the unlock
// function. Lock entries are never evicted; one mutex per live document id is
// cheap at bill scale.
func (e *Engine) lockDocument(documentID string) func() {
	e.mu.Lock()
	l, ok := e.locks[documentID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[documentID] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// CreateDocument creates a new document at version 1 with the given member
// names and writes the creation entry so the log is gapless from 1.
func (e *Engine) CreateDocument(ctx context.Context, title, currency, createdBy string, memberNames []string) (*models.Document, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: document title required", ErrValidation)
	}
	now := time.Now().Unix()
	doc := &models.Document{
		ID:        uuid.New().String(),
		Title:     title,
		Currency:  currency,
		Version:   1,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, name := range memberNames {
		if name == "" {
			return nil, fmt.Errorf("%w: member name required", ErrValidation)
		}
		doc.Members = append(doc.Members, models.Member{
			ID:   uuid.New().String(),
			Name: name,
		})
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	op := &models.Operation{
		ID:         uuid.New().String(),
		DocumentID: doc.ID,
		Version:    1,
		Type:       models.OpDocumentCreate,
		Payload:    payload,
		UserID:     createdBy,
		CreatedAt:  now,
	}

	if err := e.store.CreateDocument(ctx, doc, op); err != nil {
		return nil, err
	}
	e.logger.Info("document created", "document_id", doc.ID, "created_by", createdBy)
	return doc, nil
}

// Submit runs one live operation through the pipeline:
// version gate -> mutation applier -> log writer, atomically per document.
// The caller receives the committed operation before any broadcast is sent;
// fan-out is the caller's responsibility so that ordering holds.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.DocumentID == "" {
		return nil, fmt.Errorf("%w: document id required", ErrValidation)
	}

	unlock := e.lockDocument(req.DocumentID)
	defer unlock()

	doc, err := e.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}

	if gate := checkVersion(req.BaseVersion, doc.Version); !gate.accepted {
		rej, err := e.buildRejection(ctx, doc, req.BaseVersion, req.ClientID)
		if err != nil {
			return nil, err
		}
		metrics.VersionConflicts.WithLabelValues("live").Inc()
		e.logger.Debug("operation rejected",
			"document_id", doc.ID,
			"base_version", req.BaseVersion,
			"current_version", doc.Version,
			"client_id", req.ClientID,
		)
		return &SubmitResult{Rejected: rej}, nil
	}

	now := time.Now().Unix()
	payload, targetID, err := applyOperation(doc, req.Type, req.TargetID, req.Payload, req.UserID, now)
	if err != nil {
		return nil, err
	}

	prev := doc.Version
	doc.Version++
	doc.UpdatedAt = now

	op := &models.Operation{
		ID:         uuid.New().String(),
		DocumentID: doc.ID,
		Version:    doc.Version,
		Type:       req.Type,
		TargetID:   targetID,
		Payload:    payload,
		ClientID:   req.ClientID,
		UserID:     req.UserID,
		CreatedAt:  now,
	}

	if err := e.store.CommitMutation(ctx, doc, prev, []*models.Operation{op}); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			// Backstop only: the per-document lock should make this
			// unreachable. Reload and report the fresh version.
			return e.rejectAfterCommitRace(ctx, req.DocumentID, req.BaseVersion, req.ClientID, "live")
		}
		return nil, err
	}

	metrics.OperationsApplied.Inc()
	e.logger.Info("operation committed",
		"document_id", doc.ID,
		"version", op.Version,
		"op_type", op.Type,
		"client_id", req.ClientID,
	)
	return &SubmitResult{Operation: op}, nil
}

// SyncBatch reconciles an offline-accumulated delta batch. The version gate
// is evaluated once for the whole batch; acceptance produces exactly one
// version bump and one composite log entry. Rejection applies nothing and
// returns the conflict report plus the full authoritative document.
func (e *Engine) SyncBatch(ctx context.Context, batch *models.DeltaBatch, userID, clientID string) (*BatchResult, error) {
	if batch.DocumentID == "" {
		return nil, fmt.Errorf("%w: document id required", ErrValidation)
	}

	unlock := e.lockDocument(batch.DocumentID)
	defer unlock()

	doc, err := e.store.GetDocument(ctx, batch.DocumentID)
	if err != nil {
		return nil, err
	}

	if gate := checkVersion(batch.BaseVersion, doc.Version); !gate.accepted {
		metrics.VersionConflicts.WithLabelValues("batch").Inc()
		e.logger.Debug("batch rejected",
			"document_id", doc.ID,
			"base_version", batch.BaseVersion,
			"current_version", doc.Version,
		)
		return &BatchResult{Rejected: &BatchRejection{
			CurrentVersion: doc.Version,
			Conflicts:      buildConflictReport(doc, batch),
			MergedDocument: doc,
		}}, nil
	}

	now := time.Now().Unix()
	mappings, err := applyBatch(doc, batch, userID, now)
	if err != nil {
		return nil, err
	}

	prev := doc.Version
	doc.Version++
	doc.UpdatedAt = now

	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	op := &models.Operation{
		ID:         uuid.New().String(),
		DocumentID: doc.ID,
		Version:    doc.Version,
		Type:       models.OpBatchSync,
		Payload:    payload,
		ClientID:   clientID,
		UserID:     userID,
		CreatedAt:  now,
	}

	if err := e.store.CommitMutation(ctx, doc, prev, []*models.Operation{op}); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			fresh, gerr := e.store.GetDocument(ctx, batch.DocumentID)
			if gerr != nil {
				return nil, gerr
			}
			metrics.VersionConflicts.WithLabelValues("batch").Inc()
			return &BatchResult{Rejected: &BatchRejection{
				CurrentVersion: fresh.Version,
				Conflicts:      buildConflictReport(fresh, batch),
				MergedDocument: fresh,
			}}, nil
		}
		return nil, err
	}

	metrics.BatchesApplied.Inc()
	e.logger.Info("batch committed",
		"document_id", doc.ID,
		"version", doc.Version,
		"members_mapped", len(mappings.Members),
		"expenses_mapped", len(mappings.Expenses),
	)
	return &BatchResult{NewVersion: doc.Version, Mappings: mappings}, nil
}

// OperationsSince returns the catch-up operations after the given version.
func (e *Engine) OperationsSince(ctx context.Context, documentID string, afterVersion int64) ([]*models.Operation, error) {
	return e.store.OperationsSince(ctx, documentID, afterVersion)
}

// Compact prunes the operation log, keeping the most recent keepLast entries.
// Clients that fall behind the watermark refetch the document instead of
// catching up from the log.
func (e *Engine) Compact(ctx context.Context, documentID string, keepLast int64) error {
	unlock := e.lockDocument(documentID)
	defer unlock()

	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	target := doc.Version - keepLast
	if target <= doc.CompactedAtVersion {
		return nil
	}
	if err := e.store.PruneOperations(ctx, documentID, target); err != nil {
		return err
	}
	e.logger.Info("operation log compacted", "document_id", documentID, "below_version", target)
	return nil
}

func (e *Engine) buildRejection(ctx context.Context, doc *models.Document, baseVersion int64, clientID string) (*Rejection, error) {
	rej := &Rejection{
		ClientID:       clientID,
		Reason:         ReasonVersionMismatch,
		CurrentVersion: doc.Version,
	}
	if baseVersion < doc.CompactedAtVersion {
		rej.Reason = ReasonLogCompacted
		return rej, nil
	}
	missing, err := e.store.OperationsSince(ctx, doc.ID, baseVersion)
	if err != nil {
		return nil, err
	}
	rej.MissingOperations = missing
	return rej, nil
}

func (e *Engine) rejectAfterCommitRace(ctx context.Context, documentID string, baseVersion int64, clientID, path string) (*SubmitResult, error) {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	rej, err := e.buildRejection(ctx, doc, baseVersion, clientID)
	if err != nil {
		return nil, err
	}
	metrics.VersionConflicts.WithLabelValues(path).Inc()
	return &SubmitResult{Rejected: rej}, nil
}
