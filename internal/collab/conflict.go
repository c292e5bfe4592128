package collab

import (
	"slices"

	"github.com/splitsync/splitsync/internal/models"
)

// buildConflictReport compares a rejected batch's intended updates against
// the current authoritative document. Only fields the batch attempted to
// touch are ever reported; resolution is always server-wins. Adds are never
// conflicts (the client rebuilds its batch against the merged document), and
// entities the server has deleted produce a single structural entry with the
// entity staying deleted.
func buildConflictReport(doc *models.Document, batch *models.DeltaBatch) []models.Conflict {
	var conflicts []models.Conflict

	if batch.Members != nil {
		for _, p := range batch.Members.Update {
			m := doc.LiveMember(p.ID)
			if m == nil {
				conflicts = append(conflicts, structuralConflict(models.KindMember, p.ID, p))
				continue
			}
			if p.Name != nil && *p.Name != m.Name {
				conflicts = append(conflicts, fieldConflict(models.KindMember, m.ID, "name", *p.Name, m.Name))
			}
			if p.UserID != nil && *p.UserID != m.UserID {
				conflicts = append(conflicts, fieldConflict(models.KindMember, m.ID, "userId", *p.UserID, m.UserID))
			}
		}
	}

	if batch.Expenses != nil {
		for _, p := range batch.Expenses.Update {
			e := doc.LiveExpense(p.ID)
			if e == nil {
				conflicts = append(conflicts, structuralConflict(models.KindExpense, p.ID, p))
				continue
			}
			if p.Description != nil && *p.Description != e.Description {
				conflicts = append(conflicts, fieldConflict(models.KindExpense, e.ID, "description", *p.Description, e.Description))
			}
			if p.Amount != nil && *p.Amount != e.Amount {
				conflicts = append(conflicts, fieldConflict(models.KindExpense, e.ID, "amount", *p.Amount, e.Amount))
			}
			if p.PayerID != nil && *p.PayerID != e.PayerID {
				conflicts = append(conflicts, fieldConflict(models.KindExpense, e.ID, "payerId", *p.PayerID, e.PayerID))
			}
			if p.Participants != nil && !slices.Equal(*p.Participants, e.Participants) {
				conflicts = append(conflicts, fieldConflict(models.KindExpense, e.ID, "participants", *p.Participants, e.Participants))
			}
		}
	}

	if batch.ExpenseItems != nil {
		for _, p := range batch.ExpenseItems.Update {
			owner, it := doc.ItemByID(p.ID)
			if it == nil || owner.Deleted {
				conflicts = append(conflicts, structuralConflict(models.KindExpenseItem, p.ID, p))
				continue
			}
			if p.Description != nil && *p.Description != it.Description {
				conflicts = append(conflicts, fieldConflict(models.KindExpenseItem, it.ID, "description", *p.Description, it.Description))
			}
			if p.Amount != nil && *p.Amount != it.Amount {
				conflicts = append(conflicts, fieldConflict(models.KindExpenseItem, it.ID, "amount", *p.Amount, it.Amount))
			}
			if p.Participants != nil && !slices.Equal(*p.Participants, it.Participants) {
				conflicts = append(conflicts, fieldConflict(models.KindExpenseItem, it.ID, "participants", *p.Participants, it.Participants))
			}
		}
	}

	// Settlement marks are two-state and order-independent; mark/unmark races
	// resolve by latest-applied-wins and are never field conflicts.

	if batch.DocumentMeta != nil {
		p := batch.DocumentMeta
		if p.Title != nil && *p.Title != doc.Title {
			conflicts = append(conflicts, fieldConflict(models.KindDocument, doc.ID, "title", *p.Title, doc.Title))
		}
		if p.Currency != nil && *p.Currency != doc.Currency {
			conflicts = append(conflicts, fieldConflict(models.KindDocument, doc.ID, "currency", *p.Currency, doc.Currency))
		}
	}

	return conflicts
}

func fieldConflict(kind, id, field string, submitted, server any) models.Conflict {
	return models.Conflict{
		EntityKind:     kind,
		EntityID:       id,
		Field:          field,
		SubmittedValue: submitted,
		ServerValue:    server,
		Resolution:     models.ResolutionServerWins,
		ResolvedValue:  server,
	}
}

// structuralConflict reports an update against an entity the server no longer
// has; the entity stays deleted and the submitted change is dropped.
func structuralConflict(kind, id string, submitted any) models.Conflict {
	return models.Conflict{
		EntityKind:     kind,
		EntityID:       id,
		SubmittedValue: submitted,
		ServerValue:    nil,
		Resolution:     models.ResolutionServerWins,
		ResolvedValue:  nil,
	}
}
