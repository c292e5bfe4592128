package collab

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/splitsync/splitsync/internal/models"
)

// resolver maps client-local ids to the canonical ids assigned earlier in the
// same batch pass. Ids with no mapping pass through unchanged, so canonical
// ids submitted by the client resolve to themselves.
type resolver struct {
	mappings models.IdentifierMappings
}

func (r resolver) member(id string) string {
	if c, ok := r.mappings.Members[id]; ok {
		return c
	}
	return id
}

func (r resolver) expense(id string) string {
	if c, ok := r.mappings.Expenses[id]; ok {
		return c
	}
	return id
}

func (r resolver) item(id string) string {
	if c, ok := r.mappings.ExpenseItems[id]; ok {
		return c
	}
	return id
}

func (r resolver) memberList(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = r.member(id)
	}
	return out
}

// emptyResolver is used on the live single-operation path, where all
// references are already canonical.
func emptyResolver() resolver {
	return resolver{mappings: models.NewIdentifierMappings()}
}

// applyOperation mutates the aggregate with one typed operation. It returns
// the normalized payload (assigned canonical ids included, so lagging clients
// can replay the log) and the operation's target id. Unknown operation types
// are rejected, never silently ignored.
func applyOperation(doc *models.Document, opType models.OpType, targetID string, payload json.RawMessage, userID string, now int64) (json.RawMessage, string, error) {
	r := emptyResolver()

	switch opType {
	case models.OpMemberAdd:
		var p models.MemberPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, "", err
		}
		m, err := addMember(doc, p)
		if err != nil {
			return nil, "", err
		}
		p.ID = m.ID
		return marshalPayload(p), m.ID, nil

	case models.OpMemberUpdate:
		var p models.MemberPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, "", err
		}
		if err := updateMember(doc, targetID, p); err != nil {
			return nil, "", err
		}
		p.ID = targetID
		return marshalPayload(p), targetID, nil

	case models.OpMemberDelete:
		if err := deleteMember(doc, targetID); err != nil {
			return nil, "", err
		}
		return nil, targetID, nil

	case models.OpExpenseAdd:
		var p models.ExpensePayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, "", err
		}
		e, err := addExpense(doc, p, r, now)
		if err != nil {
			return nil, "", err
		}
		p.ID = e.ID
		return marshalPayload(p), e.ID, nil

	case models.OpExpenseUpdate:
		var p models.ExpensePayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, "", err
		}
		if err := updateExpense(doc, targetID, p, r); err != nil {
			return nil, "", err
		}
		p.ID = targetID
		return marshalPayload(p), targetID, nil

	case models.OpExpenseDelete:
		if err := deleteExpense(doc, targetID); err != nil {
			return nil, "", err
		}
		return nil, targetID, nil

	case models.OpItemAdd:
		var p models.ItemPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, "", err
		}
		it, err := addItem(doc, p, r)
		if err != nil {
			return nil, "", err
		}
		p.ID = it.ID
		return marshalPayload(p), it.ID, nil

	case models.OpItemUpdate:
		var p models.ItemPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, "", err
		}
		if err := updateItem(doc, targetID, p, r); err != nil {
			return nil, "", err
		}
		p.ID = targetID
		return marshalPayload(p), targetID, nil

	case models.OpItemDelete:
		if err := deleteItem(doc, targetID); err != nil {
			return nil, "", err
		}
		return nil, targetID, nil

	case models.OpSettlementMark:
		var p models.SettlementPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, "", err
		}
		if err := markSettlement(doc, p, r, userID, now); err != nil {
			return nil, "", err
		}
		return marshalPayload(p), "", nil

	case models.OpSettlementUnmark:
		var p models.SettlementPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, "", err
		}
		if err := unmarkSettlement(doc, p, r); err != nil {
			return nil, "", err
		}
		return marshalPayload(p), "", nil

	case models.OpDocumentUpdate:
		var p models.DocumentPayload
		if err := decodePayload(payload, &p); err != nil {
			return nil, "", err
		}
		updateDocumentMeta(doc, p)
		return marshalPayload(p), "", nil

	default:
		return nil, "", fmt.Errorf("%w: unknown operation type %q", ErrValidation, opType)
	}
}

// applyBatch mutates the aggregate with a whole delta batch. Kinds apply in
// order members, expenses, expense items, settlements, document metadata, so
// a later kind can reference local ids created by an earlier one. Within a
// kind the order is add, update, delete.
func applyBatch(doc *models.Document, batch *models.DeltaBatch, userID string, now int64) (models.IdentifierMappings, error) {
	mappings := models.NewIdentifierMappings()
	r := resolver{mappings: mappings}

	if batch.Members != nil {
		for _, p := range batch.Members.Add {
			m, err := addMember(doc, p)
			if err != nil {
				return mappings, err
			}
			if p.LocalID != "" {
				mappings.Members[p.LocalID] = m.ID
			}
		}
		for _, p := range batch.Members.Update {
			if err := updateMember(doc, r.member(p.ID), p); err != nil {
				return mappings, err
			}
		}
		for _, id := range batch.Members.Delete {
			if err := deleteMember(doc, r.member(id)); err != nil {
				return mappings, err
			}
		}
	}

	if batch.Expenses != nil {
		for _, p := range batch.Expenses.Add {
			e, err := addExpense(doc, p, r, now)
			if err != nil {
				return mappings, err
			}
			if p.LocalID != "" {
				mappings.Expenses[p.LocalID] = e.ID
			}
		}
		for _, p := range batch.Expenses.Update {
			if err := updateExpense(doc, r.expense(p.ID), p, r); err != nil {
				return mappings, err
			}
		}
		for _, id := range batch.Expenses.Delete {
			if err := deleteExpense(doc, r.expense(id)); err != nil {
				return mappings, err
			}
		}
	}

	if batch.ExpenseItems != nil {
		for _, p := range batch.ExpenseItems.Add {
			it, err := addItem(doc, p, r)
			if err != nil {
				return mappings, err
			}
			if p.LocalID != "" {
				mappings.ExpenseItems[p.LocalID] = it.ID
			}
		}
		for _, p := range batch.ExpenseItems.Update {
			if err := updateItem(doc, r.item(p.ID), p, r); err != nil {
				return mappings, err
			}
		}
		for _, id := range batch.ExpenseItems.Delete {
			if err := deleteItem(doc, r.item(id)); err != nil {
				return mappings, err
			}
		}
	}

	if batch.Settlements != nil {
		for _, p := range batch.Settlements.Add {
			if err := markSettlement(doc, p, r, userID, now); err != nil {
				return mappings, err
			}
		}
		for _, p := range batch.Settlements.Delete {
			if err := unmarkSettlement(doc, p, r); err != nil {
				return mappings, err
			}
		}
	}

	if batch.DocumentMeta != nil {
		updateDocumentMeta(doc, *batch.DocumentMeta)
	}

	return mappings, nil
}

func addMember(doc *models.Document, p models.MemberPayload) (*models.Member, error) {
	if p.Name == nil || *p.Name == "" {
		return nil, fmt.Errorf("%w: member name required", ErrValidation)
	}
	m := models.Member{
		ID:   uuid.New().String(),
		Name: *p.Name,
	}
	if p.UserID != nil {
		m.UserID = *p.UserID
	}
	doc.Members = append(doc.Members, m)
	return &doc.Members[len(doc.Members)-1], nil
}

func updateMember(doc *models.Document, id string, p models.MemberPayload) error {
	m := doc.LiveMember(id)
	if m == nil {
		return fmt.Errorf("%w: member %s does not exist", ErrValidation, id)
	}
	if p.Name != nil {
		if *p.Name == "" {
			return fmt.Errorf("%w: member name cannot be empty", ErrValidation)
		}
		m.Name = *p.Name
	}
	if p.UserID != nil {
		m.UserID = *p.UserID
	}
	return nil
}

// deleteMember soft-deletes the member and purges every dangling reference to
// it in the same pass: expense participants, payer references, item
// participants, and settlement marks involving the member.
func deleteMember(doc *models.Document, id string) error {
	m := doc.LiveMember(id)
	if m == nil {
		return fmt.Errorf("%w: member %s does not exist", ErrValidation, id)
	}
	m.Deleted = true

	for i := range doc.Expenses {
		e := &doc.Expenses[i]
		e.Participants = removeID(e.Participants, id)
		if e.PayerID == id {
			e.PayerID = ""
		}
		for j := range e.Items {
			e.Items[j].Participants = removeID(e.Items[j].Participants, id)
		}
	}

	kept := doc.SettlementMarks[:0]
	for _, mark := range doc.SettlementMarks {
		if mark.PayerID != id && mark.PayeeID != id {
			kept = append(kept, mark)
		}
	}
	doc.SettlementMarks = kept
	return nil
}

func addExpense(doc *models.Document, p models.ExpensePayload, r resolver, now int64) (*models.Expense, error) {
	if p.Description == nil || *p.Description == "" {
		return nil, fmt.Errorf("%w: expense description required", ErrValidation)
	}
	if p.Amount == nil {
		return nil, fmt.Errorf("%w: expense amount required", ErrValidation)
	}
	e := models.Expense{
		ID:          uuid.New().String(),
		Description: *p.Description,
		Amount:      *p.Amount,
		CreatedAt:   now,
	}
	if p.PayerID != nil && *p.PayerID != "" {
		payer := r.member(*p.PayerID)
		if doc.LiveMember(payer) == nil {
			return nil, fmt.Errorf("%w: payer %s is not a live member", ErrValidation, payer)
		}
		e.PayerID = payer
	}
	if p.Participants != nil {
		participants, err := resolveParticipants(doc, r, *p.Participants)
		if err != nil {
			return nil, err
		}
		e.Participants = participants
	}
	doc.Expenses = append(doc.Expenses, e)
	return &doc.Expenses[len(doc.Expenses)-1], nil
}

func updateExpense(doc *models.Document, id string, p models.ExpensePayload, r resolver) error {
	e := doc.LiveExpense(id)
	if e == nil {
		return fmt.Errorf("%w: expense %s does not exist", ErrValidation, id)
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.PayerID != nil {
		payer := r.member(*p.PayerID)
		if payer != "" && doc.LiveMember(payer) == nil {
			return fmt.Errorf("%w: payer %s is not a live member", ErrValidation, payer)
		}
		e.PayerID = payer
	}
	if p.Participants != nil {
		participants, err := resolveParticipants(doc, r, *p.Participants)
		if err != nil {
			return err
		}
		e.Participants = participants
	}
	return nil
}

func deleteExpense(doc *models.Document, id string) error {
	e := doc.LiveExpense(id)
	if e == nil {
		return fmt.Errorf("%w: expense %s does not exist", ErrValidation, id)
	}
	e.Deleted = true
	return nil
}

func addItem(doc *models.Document, p models.ItemPayload, r resolver) (*models.ExpenseItem, error) {
	if p.ExpenseID == "" {
		return nil, fmt.Errorf("%w: item expense id required", ErrValidation)
	}
	if p.Description == nil || *p.Description == "" {
		return nil, fmt.Errorf("%w: item description required", ErrValidation)
	}
	if p.Amount == nil {
		return nil, fmt.Errorf("%w: item amount required", ErrValidation)
	}
	e := doc.LiveExpense(r.expense(p.ExpenseID))
	if e == nil {
		return nil, fmt.Errorf("%w: expense %s does not exist", ErrValidation, p.ExpenseID)
	}
	it := models.ExpenseItem{
		ID:          uuid.New().String(),
		Description: *p.Description,
		Amount:      *p.Amount,
	}
	if p.Participants != nil {
		participants, err := resolveParticipants(doc, r, *p.Participants)
		if err != nil {
			return nil, err
		}
		it.Participants = participants
	}
	e.Items = append(e.Items, it)
	return &e.Items[len(e.Items)-1], nil
}

func updateItem(doc *models.Document, id string, p models.ItemPayload, r resolver) error {
	e, it := doc.ItemByID(id)
	if it == nil || e.Deleted {
		return fmt.Errorf("%w: item %s does not exist", ErrValidation, id)
	}
	if p.Description != nil {
		it.Description = *p.Description
	}
	if p.Amount != nil {
		it.Amount = *p.Amount
	}
	if p.Participants != nil {
		participants, err := resolveParticipants(doc, r, *p.Participants)
		if err != nil {
			return err
		}
		it.Participants = participants
	}
	return nil
}

func deleteItem(doc *models.Document, id string) error {
	e, it := doc.ItemByID(id)
	if it == nil {
		return fmt.Errorf("%w: item %s does not exist", ErrValidation, id)
	}
	kept := e.Items[:0]
	for i := range e.Items {
		if e.Items[i].ID != id {
			kept = append(kept, e.Items[i])
		}
	}
	e.Items = kept
	return nil
}

// markSettlement is idempotent: marking an already-marked pair is a no-op,
// not an error.
func markSettlement(doc *models.Document, p models.SettlementPayload, r resolver, userID string, now int64) error {
	payer, payee := r.member(p.PayerID), r.member(p.PayeeID)
	if doc.LiveMember(payer) == nil {
		return fmt.Errorf("%w: payer %s is not a live member", ErrValidation, payer)
	}
	if doc.LiveMember(payee) == nil {
		return fmt.Errorf("%w: payee %s is not a live member", ErrValidation, payee)
	}
	if doc.HasSettlementMark(payer, payee) {
		return nil
	}
	doc.SettlementMarks = append(doc.SettlementMarks, models.SettlementMark{
		PayerID:   payer,
		PayeeID:   payee,
		CreatedBy: userID,
		CreatedAt: now,
	})
	return nil
}

// unmarkSettlement is idempotent: unmarking an absent pair is a no-op.
func unmarkSettlement(doc *models.Document, p models.SettlementPayload, r resolver) error {
	payer, payee := r.member(p.PayerID), r.member(p.PayeeID)
	kept := doc.SettlementMarks[:0]
	for _, mark := range doc.SettlementMarks {
		if mark.PayerID != payer || mark.PayeeID != payee {
			kept = append(kept, mark)
		}
	}
	doc.SettlementMarks = kept
	return nil
}

func updateDocumentMeta(doc *models.Document, p models.DocumentPayload) {
	if p.Title != nil {
		doc.Title = *p.Title
	}
	if p.Currency != nil {
		doc.Currency = *p.Currency
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: payload required", ErrValidation)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", ErrValidation, err)
	}
	return nil
}

func marshalPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Payload types marshal without error by construction.
		return nil
	}
	return b
}

// resolveParticipants canonicalizes a participant list and validates it:
// every entry must be a live member, and a member may appear at most once.
// Duplicates are rejected here so they never reach the unique participant
// rows at commit.
func resolveParticipants(doc *models.Document, r resolver, ids []string) ([]string, error) {
	participants := r.memberList(ids)
	seen := make(map[string]struct{}, len(participants))
	for _, id := range participants {
		if doc.LiveMember(id) == nil {
			return nil, fmt.Errorf("%w: participant %s is not a live member", ErrValidation, id)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: participant %s listed more than once", ErrValidation, id)
		}
		seen[id] = struct{}{}
	}
	return participants, nil
}

func removeID(ids []string, id string) []string {
	kept := ids[:0]
	for _, x := range ids {
		if x != id {
			kept = append(kept, x)
		}
	}
	return kept
}
