package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/splitsync/splitsync/internal/models"
)

// OperationsSince returns log entries with version > afterVersion in
// ascending version order.
func (s *SQLiteStore) OperationsSince(ctx context.Context, documentID string, afterVersion int64) ([]*models.Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, version, op_type, target_id, payload, client_id, user_id, created_at
		 FROM operations
		 WHERE document_id = ? AND version > ?
		 ORDER BY version ASC`,
		documentID, afterVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []*models.Operation
	for rows.Next() {
		op := &models.Operation{}
		var payload string
		if err := rows.Scan(&op.ID, &op.DocumentID, &op.Version, &op.Type, &op.TargetID,
			&payload, &op.ClientID, &op.UserID, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		if payload != "" {
			op.Payload = []byte(payload)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operations: %w", err)
	}
	return ops, nil
}

// PruneOperations deletes log entries at or below belowVersion and records
// the compaction watermark on the document.
func (s *SQLiteStore) PruneOperations(ctx context.Context, documentID string, belowVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM operations WHERE document_id = ? AND version <= ?",
		documentID, belowVersion,
	); err != nil {
		return fmt.Errorf("failed to prune operations: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET compacted_at_version = ? WHERE id = ? AND compacted_at_version < ?",
		belowVersion, documentID, belowVersion,
	); err != nil {
		return fmt.Errorf("failed to update compaction watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DocumentIDs returns the ids of all documents. Used by the compaction
// janitor to walk the corpus.
func (s *SQLiteStore) DocumentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM documents")
	if err != nil {
		return nil, fmt.Errorf("failed to query document ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate document ids: %w", err)
	}
	return ids, nil
}

// insertOperations appends log records inside an open transaction. The
// UNIQUE(document_id, version) constraint makes duplicate versions a hard
// write failure rather than silent divergence.
func insertOperations(ctx context.Context, tx *sql.Tx, ops []*models.Operation) error {
	for _, op := range ops {
		payload := ""
		if len(op.Payload) > 0 {
			payload = string(op.Payload)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO operations (id, document_id, version, op_type, target_id, payload, client_id, user_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			op.ID, op.DocumentID, op.Version, string(op.Type), op.TargetID, payload, op.ClientID, op.UserID, op.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert operation: %w", err)
		}
	}
	return nil
}
