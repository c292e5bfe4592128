package models

// Entity kind names used in conflict reports and identifier mappings.
const (
	KindMember      = "member"
	KindExpense     = "expense"
	KindExpenseItem = "expenseItem"
	KindDocument    = "document"
)

// MemberPayload is the mutation payload for member operations. Pointer fields
// that are nil were not submitted and must not be touched on update.
type MemberPayload struct {
	// ID is the canonical id. Filled in by the server on add.
	ID string `json:"id,omitempty"`

	// LocalID is the client-chosen temporary id on add; it keys the entry in
	// the response's identifier mappings.
	LocalID string `json:"localId,omitempty"`

	Name   *string `json:"name,omitempty"`
	UserID *string `json:"userId,omitempty"`
}

// ExpensePayload is the mutation payload for expense operations.
type ExpensePayload struct {
	ID      string `json:"id,omitempty"`
	LocalID string `json:"localId,omitempty"`

	Description  *string   `json:"description,omitempty"`
	Amount       *float64  `json:"amount,omitempty"`
	PayerID      *string   `json:"payerId,omitempty"`
	Participants *[]string `json:"participants,omitempty"`
}

// ItemPayload is the mutation payload for expense item operations.
type ItemPayload struct {
	ID      string `json:"id,omitempty"`
	LocalID string `json:"localId,omitempty"`

	// ExpenseID is the owning expense; on add inside a batch it may be a
	// local id of an expense added in the same batch.
	ExpenseID string `json:"expenseId,omitempty"`

	Description  *string   `json:"description,omitempty"`
	Amount       *float64  `json:"amount,omitempty"`
	Participants *[]string `json:"participants,omitempty"`
}

// SettlementPayload identifies a (payer, payee) settlement mark.
type SettlementPayload struct {
	PayerID string `json:"payerId"`
	PayeeID string `json:"payeeId"`
}

// DocumentPayload is the mutation payload for document metadata updates.
type DocumentPayload struct {
	Title    *string `json:"title,omitempty"`
	Currency *string `json:"currency,omitempty"`
}

// MemberChanges groups member changes inside a delta batch.
type MemberChanges struct {
	Add    []MemberPayload `json:"add,omitempty"`
	Update []MemberPayload `json:"update,omitempty"`
	Delete []string        `json:"delete,omitempty"`
}

// ExpenseChanges groups expense changes inside a delta batch.
type ExpenseChanges struct {
	Add    []ExpensePayload `json:"add,omitempty"`
	Update []ExpensePayload `json:"update,omitempty"`
	Delete []string         `json:"delete,omitempty"`
}

// ItemChanges groups expense item changes inside a delta batch.
type ItemChanges struct {
	Add    []ItemPayload `json:"add,omitempty"`
	Update []ItemPayload `json:"update,omitempty"`
	Delete []string      `json:"delete,omitempty"`
}

// SettlementChanges groups settlement mark changes inside a delta batch.
// Marks are identified by pair rather than by id, so deletion carries pairs.
type SettlementChanges struct {
	Add    []SettlementPayload `json:"add,omitempty"`
	Delete []SettlementPayload `json:"delete,omitempty"`
}

// DeltaBatch is a grouped set of offline-accumulated changes submitted as one
// atomic unit against a single base version. Kinds apply in order: members,
// expenses, expense items, settlements, document metadata.
type DeltaBatch struct {
	DocumentID   string             `json:"documentId,omitempty"`
	ClientID     string             `json:"clientId,omitempty"`
	BaseVersion  int64              `json:"baseVersion"`
	Members      *MemberChanges     `json:"members,omitempty"`
	Expenses     *ExpenseChanges    `json:"expenses,omitempty"`
	ExpenseItems *ItemChanges       `json:"expenseItems,omitempty"`
	Settlements  *SettlementChanges `json:"settlements,omitempty"`
	DocumentMeta *DocumentPayload   `json:"documentMeta,omitempty"`
}

// IdentifierMappings maps client-chosen local ids to the canonical ids
// assigned when a batch (or single add operation) created new entities.
type IdentifierMappings struct {
	Members      map[string]string `json:"members"`
	Expenses     map[string]string `json:"expenses"`
	ExpenseItems map[string]string `json:"expenseItems"`
}

// NewIdentifierMappings returns an empty, non-nil mapping set.
func NewIdentifierMappings() IdentifierMappings {
	return IdentifierMappings{
		Members:      make(map[string]string),
		Expenses:     make(map[string]string),
		ExpenseItems: make(map[string]string),
	}
}

// ResolutionServerWins is the only conflict resolution policy: the
// authoritative server value is kept and the client resubmits if it still
// wants its change.
const ResolutionServerWins = "server_wins"

// Conflict reports one field-level disagreement between a rejected batch and
// the authoritative document state. Field is empty for structural conflicts
// (the targeted entity no longer exists).
type Conflict struct {
	EntityKind     string `json:"entityKind"`
	EntityID       string `json:"entityId"`
	Field          string `json:"field,omitempty"`
	SubmittedValue any    `json:"submittedValue"`
	ServerValue    any    `json:"serverValue"`
	Resolution     string `json:"resolution"`
	ResolvedValue  any    `json:"resolvedValue"`
}
