package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/splitsync/splitsync/internal/models"
	"github.com/splitsync/splitsync/internal/storage"
)

// CreateDocument persists a new document aggregate and its initial log entry.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *models.Document, op *models.Operation) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now().Unix()
	if doc.CreatedAt == 0 {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt == 0 {
		doc.UpdatedAt = now
	}
	if doc.Version == 0 {
		doc.Version = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, currency, version, compacted_at_version, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Currency, doc.Version, doc.CompactedAtVersion, doc.CreatedBy, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	if err := writeChildren(ctx, tx, doc); err != nil {
		return err
	}

	if op != nil {
		op.DocumentID = doc.ID
		if err := insertOperations(ctx, tx, []*models.Operation{op}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetDocument retrieves a full document aggregate by ID.
func (s *SQLiteStore) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	doc := &models.Document{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, currency, version, compacted_at_version, created_by, created_at, updated_at
		 FROM documents WHERE id = ?`,
		documentID,
	).Scan(&doc.ID, &doc.Title, &doc.Currency, &doc.Version, &doc.CompactedAtVersion, &doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", documentID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	if err := s.loadMembers(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.loadExpenses(ctx, doc); err != nil {
		return nil, err
	}
	if err := s.loadSettlementMarks(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocumentsByUser returns document headers the user participates in,
// newest first. Child collections are not loaded.
func (s *SQLiteStore) ListDocumentsByUser(ctx context.Context, userID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT d.id, d.title, d.currency, d.version, d.compacted_at_version, d.created_by, d.created_at, d.updated_at
		 FROM documents d
		 LEFT JOIN members m ON m.document_id = d.id AND m.deleted = 0
		 WHERE d.created_by = ? OR m.user_id = ?
		 ORDER BY d.updated_at DESC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc := &models.Document{}
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Currency, &doc.Version, &doc.CompactedAtVersion,
			&doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

// CommitMutation persists the mutated aggregate and appends log entries in a
// single transaction. The version column is advanced with a compare-and-set;
// zero affected rows means another writer got there first and the whole unit
// rolls back with storage.ErrVersionConflict.
func (s *SQLiteStore) CommitMutation(ctx context.Context, doc *models.Document, expectedVersion int64, ops []*models.Operation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE documents
		 SET title = ?, currency = ?, version = ?, compacted_at_version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		doc.Title, doc.Currency, doc.Version, doc.CompactedAtVersion, doc.UpdatedAt,
		doc.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("document %s at version %d: %w", doc.ID, expectedVersion, storage.ErrVersionConflict)
	}

	// Children are small; rewrite them wholesale rather than diffing rows.
	if err := deleteChildren(ctx, tx, doc.ID); err != nil {
		return err
	}
	if err := writeChildren(ctx, tx, doc); err != nil {
		return err
	}

	if err := insertOperations(ctx, tx, ops); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsParticipant reports whether the user created the document or is linked to
// one of its live members.
func (s *SQLiteStore) IsParticipant(ctx context.Context, documentID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM documents d
		 LEFT JOIN members m ON m.document_id = d.id AND m.deleted = 0
		 WHERE d.id = ? AND (d.created_by = ? OR m.user_id = ?)
		 LIMIT 1`,
		documentID, userID, userID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) loadMembers(ctx context.Context, doc *models.Document) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, user_id, deleted FROM members WHERE document_id = ? ORDER BY rowid",
		doc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.Member
		var deleted int
		if err := rows.Scan(&m.ID, &m.Name, &m.UserID, &deleted); err != nil {
			return fmt.Errorf("failed to scan member: %w", err)
		}
		m.Deleted = deleted != 0
		doc.Members = append(doc.Members, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate members: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadExpenses(ctx context.Context, doc *models.Document) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, description, amount, payer_id, deleted, created_at FROM expenses WHERE document_id = ? ORDER BY rowid",
		doc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get expenses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.Expense
		var deleted int
		if err := rows.Scan(&e.ID, &e.Description, &e.Amount, &e.PayerID, &deleted, &e.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan expense: %w", err)
		}
		e.Deleted = deleted != 0
		doc.Expenses = append(doc.Expenses, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate expenses: %w", err)
	}

	for i := range doc.Expenses {
		e := &doc.Expenses[i]
		if err := s.loadExpenseParticipants(ctx, e); err != nil {
			return err
		}
		if err := s.loadItems(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) loadExpenseParticipants(ctx context.Context, e *models.Expense) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT member_id FROM expense_participants WHERE expense_id = ? ORDER BY position",
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get expense participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var memberID string
		if err := rows.Scan(&memberID); err != nil {
			return fmt.Errorf("failed to scan expense participant: %w", err)
		}
		e.Participants = append(e.Participants, memberID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate expense participants: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadItems(ctx context.Context, e *models.Expense) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, description, amount FROM expense_items WHERE expense_id = ? ORDER BY position",
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get expense items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it models.ExpenseItem
		if err := rows.Scan(&it.ID, &it.Description, &it.Amount); err != nil {
			return fmt.Errorf("failed to scan expense item: %w", err)
		}
		e.Items = append(e.Items, it)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate expense items: %w", err)
	}

	for i := range e.Items {
		it := &e.Items[i]
		prows, err := s.db.QueryContext(ctx,
			"SELECT member_id FROM item_participants WHERE item_id = ? ORDER BY position",
			it.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to get item participants: %w", err)
		}
		for prows.Next() {
			var memberID string
			if err := prows.Scan(&memberID); err != nil {
				prows.Close()
				return fmt.Errorf("failed to scan item participant: %w", err)
			}
			it.Participants = append(it.Participants, memberID)
		}
		if err := prows.Err(); err != nil {
			prows.Close()
			return fmt.Errorf("failed to iterate item participants: %w", err)
		}
		prows.Close()
	}
	return nil
}

func (s *SQLiteStore) loadSettlementMarks(ctx context.Context, doc *models.Document) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT payer_id, payee_id, created_by, created_at FROM settlement_marks WHERE document_id = ? ORDER BY rowid",
		doc.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get settlement marks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.SettlementMark
		if err := rows.Scan(&m.PayerID, &m.PayeeID, &m.CreatedBy, &m.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan settlement mark: %w", err)
		}
		doc.SettlementMarks = append(doc.SettlementMarks, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate settlement marks: %w", err)
	}
	return nil
}

func deleteChildren(ctx context.Context, tx *sql.Tx, documentID string) error {
	stmts := []string{
		"DELETE FROM item_participants WHERE item_id IN (SELECT id FROM expense_items WHERE document_id = ?)",
		"DELETE FROM expense_items WHERE document_id = ?",
		"DELETE FROM expense_participants WHERE expense_id IN (SELECT id FROM expenses WHERE document_id = ?)",
		"DELETE FROM expenses WHERE document_id = ?",
		"DELETE FROM members WHERE document_id = ?",
		"DELETE FROM settlement_marks WHERE document_id = ?",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, documentID); err != nil {
			return fmt.Errorf("failed to clear children: %w", err)
		}
	}
	return nil
}

func writeChildren(ctx context.Context, tx *sql.Tx, doc *models.Document) error {
	for i := range doc.Members {
		m := &doc.Members[i]
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO members (id, document_id, name, user_id, deleted) VALUES (?, ?, ?, ?, ?)",
			m.ID, doc.ID, m.Name, m.UserID, boolToInt(m.Deleted),
		); err != nil {
			return fmt.Errorf("failed to insert member: %w", err)
		}
	}

	for i := range doc.Expenses {
		e := &doc.Expenses[i]
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO expenses (id, document_id, description, amount, payer_id, deleted, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			e.ID, doc.ID, e.Description, e.Amount, e.PayerID, boolToInt(e.Deleted), e.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert expense: %w", err)
		}
		for pos, memberID := range e.Participants {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO expense_participants (expense_id, member_id, position) VALUES (?, ?, ?)",
				e.ID, memberID, pos,
			); err != nil {
				return fmt.Errorf("failed to insert expense participant: %w", err)
			}
		}
		for pos := range e.Items {
			it := &e.Items[pos]
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO expense_items (id, expense_id, document_id, description, amount, position) VALUES (?, ?, ?, ?, ?, ?)",
				it.ID, e.ID, doc.ID, it.Description, it.Amount, pos,
			); err != nil {
				return fmt.Errorf("failed to insert expense item: %w", err)
			}
			for ppos, memberID := range it.Participants {
				if _, err := tx.ExecContext(ctx,
					"INSERT INTO item_participants (item_id, member_id, position) VALUES (?, ?, ?)",
					it.ID, memberID, ppos,
				); err != nil {
					return fmt.Errorf("failed to insert item participant: %w", err)
				}
			}
		}
	}

	for i := range doc.SettlementMarks {
		m := &doc.SettlementMarks[i]
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO settlement_marks (document_id, payer_id, payee_id, created_by, created_at) VALUES (?, ?, ?, ?, ?)",
			doc.ID, m.PayerID, m.PayeeID, m.CreatedBy, m.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert settlement mark: %w", err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
