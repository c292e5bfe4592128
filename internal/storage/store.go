// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/splitsync/splitsync/internal/models"
)

// ErrNotFound is returned when a document, operation, or user does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned by CommitMutation when the stored document
// version no longer matches the expected version. Under the engine's
// per-document lock this should not happen; it is the storage-level backstop
// against lost updates.
var ErrVersionConflict = errors.New("version conflict")

// Store defines the interface for document storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the sync engine or service layer.
type Store interface {
	// CreateDocument persists a new document aggregate together with its
	// initial log entry, in one transaction.
	CreateDocument(ctx context.Context, doc *models.Document, op *models.Operation) error

	// GetDocument retrieves a full document aggregate (members, expenses,
	// items, settlement marks) by id. Returns ErrNotFound if absent.
	GetDocument(ctx context.Context, documentID string) (*models.Document, error)

	// ListDocumentsByUser returns the documents the user participates in,
	// newest first, without child entities loaded.
	ListDocumentsByUser(ctx context.Context, userID string) ([]*models.Document, error)

	// CommitMutation persists the mutated aggregate and appends the given
	// operations in one transaction. The document row is updated with a
	// compare-and-set on expectedVersion; if the stored version differs the
	// whole transaction rolls back with ErrVersionConflict. Nothing is
	// observable until commit: an applied-but-unlogged state cannot persist.
	CommitMutation(ctx context.Context, doc *models.Document, expectedVersion int64, ops []*models.Operation) error

	// OperationsSince returns the document's log entries with version
	// greater than afterVersion, in ascending version order.
	OperationsSince(ctx context.Context, documentID string, afterVersion int64) ([]*models.Operation, error)

	// PruneOperations deletes log entries with version at or below
	// belowVersion and records belowVersion as the document's compaction
	// watermark.
	PruneOperations(ctx context.Context, documentID string, belowVersion int64) error

	// IsParticipant reports whether the user created the document or is
	// linked to one of its live members. It is the single authorization
	// rule shared by mutations and room joins.
	IsParticipant(ctx context.Context, documentID, userID string) (bool, error)

	// User persistence, consumed by the authenticator.
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// Close releases any resources held by the store.
	Close() error
}
