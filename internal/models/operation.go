package models

import "encoding/json"

// OpType tags the kind of mutation an operation performed. The wire
// representation stays an open string so newer clients can ship new kinds
// without breaking older servers at the decode layer; the sync engine
// dispatches over the closed set below and rejects anything else.
type OpType string

const (
	OpMemberAdd    OpType = "member_add"
	OpMemberUpdate OpType = "member_update"
	OpMemberDelete OpType = "member_delete"

	OpExpenseAdd    OpType = "expense_add"
	OpExpenseUpdate OpType = "expense_update"
	OpExpenseDelete OpType = "expense_delete"

	OpItemAdd    OpType = "item_add"
	OpItemUpdate OpType = "item_update"
	OpItemDelete OpType = "item_delete"

	OpSettlementMark   OpType = "settlement_mark"
	OpSettlementUnmark OpType = "settlement_unmark"

	OpDocumentUpdate OpType = "document_update"

	// OpDocumentCreate is written by the server when a document is created,
	// so the log covers version 1. Clients cannot submit it.
	OpDocumentCreate OpType = "document_create"

	// OpBatchSync is the composite log entry written for an accepted delta
	// batch. Clients cannot submit it directly.
	OpBatchSync OpType = "batch_sync"
)

// Operation is one immutable entry in a document's operation log.
type Operation struct {
	// ID is the canonical identifier for the operation (UUID format).
	ID string `json:"id"`

	// DocumentID is the document this operation belongs to.
	DocumentID string `json:"documentId"`

	// Version is the document version after this operation was applied.
	// (documentID, version) is unique; versions are gapless from 1.
	Version int64 `json:"version"`

	// Type tags the mutation kind.
	Type OpType `json:"opType"`

	// TargetID is the canonical id of the entity the operation targeted,
	// when it has one.
	TargetID string `json:"targetId,omitempty"`

	// Payload is the mutation payload, normalized on write so that assigned
	// canonical ids are present and lagging clients can replay it.
	Payload json.RawMessage `json:"payload,omitempty"`

	// ClientID identifies the submitting client connection or device.
	ClientID string `json:"clientId,omitempty"`

	// UserID is the authenticated user who authored the operation, if any.
	UserID string `json:"authorUserId,omitempty"`

	// CreatedAt is the Unix timestamp when the operation was committed.
	CreatedAt int64 `json:"createdAt"`
}
