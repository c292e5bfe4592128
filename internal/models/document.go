package models

// Document is the aggregate root for one collaboratively edited bill.
// It owns all child entities and the tail of its operation log.
type Document struct {
	// ID is the canonical identifier for the document (UUID format).
	ID string `json:"id"`

	// Title is the human-readable name of the bill.
	Title string `json:"title"`

	// Currency is the ISO currency code for all amounts on the bill.
	Currency string `json:"currency,omitempty"`

	// Version is the optimistic-concurrency token. It increases by exactly
	// one per committed mutation (single operation or whole delta batch) and
	// never repeats for a given document.
	Version int64 `json:"version"`

	// CompactedAtVersion is the watermark below which operation log entries
	// may have been pruned. Clients older than this must refetch the full
	// document instead of catching up from the log.
	CompactedAtVersion int64 `json:"compactedAtVersion"`

	// CreatedBy is the user ID of the document creator.
	CreatedBy string `json:"createdBy,omitempty"`

	// CreatedAt and UpdatedAt are Unix timestamps.
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`

	// Members are the people splitting this bill.
	Members []Member `json:"members"`

	// Expenses are the bill's expenses, each with optional line items.
	Expenses []Expense `json:"expenses"`

	// SettlementMarks records which (payer, payee) transfers have been
	// marked as settled.
	SettlementMarks []SettlementMark `json:"settlementMarks"`
}

// Member is one person on a document.
type Member struct {
	// ID is the canonical identifier for the member (UUID format).
	ID string `json:"id"`

	// Name is the display name of the member.
	Name string `json:"name"`

	// UserID optionally links the member to a registered user account.
	UserID string `json:"userId,omitempty"`

	// Deleted marks the member as removed without purging the record, so
	// operation-log replay can still resolve the id.
	Deleted bool `json:"deleted,omitempty"`
}

// Expense is one expense on a document.
type Expense struct {
	// ID is the canonical identifier for the expense (UUID format).
	ID string `json:"id"`

	// Description is the name of the expense (e.g., "Lunch").
	Description string `json:"description"`

	// Amount is the total amount of the expense.
	Amount float64 `json:"amount"`

	// PayerID references the member who paid. Empty if unknown.
	PayerID string `json:"payerId,omitempty"`

	// Participants are the member ids splitting this expense.
	Participants []string `json:"participants"`

	// Items are optional line items; when present they refine how the
	// expense is split.
	Items []ExpenseItem `json:"items,omitempty"`

	// Deleted marks the expense as removed.
	Deleted bool `json:"deleted,omitempty"`

	// CreatedAt is the Unix timestamp when the expense was added.
	CreatedAt int64 `json:"createdAt,omitempty"`
}

// ExpenseItem is a single line item on an expense, shared among the listed
// participants.
type ExpenseItem struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	Amount       float64  `json:"amount"`
	Participants []string `json:"participants"`
}

// SettlementMark records that the transfer from payer to payee has been
// marked settled. Its identity is the (document, payer, payee) triple; marks
// are idempotent set membership, not versioned entities.
type SettlementMark struct {
	PayerID   string `json:"payerId"`
	PayeeID   string `json:"payeeId"`
	CreatedBy string `json:"createdBy,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

// MemberByID returns the member with the given id, deleted or not.
func (d *Document) MemberByID(id string) *Member {
	for i := range d.Members {
		if d.Members[i].ID == id {
			return &d.Members[i]
		}
	}
	return nil
}

// LiveMember returns the member with the given id if it exists and is not
// deleted.
func (d *Document) LiveMember(id string) *Member {
	if m := d.MemberByID(id); m != nil && !m.Deleted {
		return m
	}
	return nil
}

// ExpenseByID returns the expense with the given id, deleted or not.
func (d *Document) ExpenseByID(id string) *Expense {
	for i := range d.Expenses {
		if d.Expenses[i].ID == id {
			return &d.Expenses[i]
		}
	}
	return nil
}

// LiveExpense returns the expense with the given id if it exists and is not
// deleted.
func (d *Document) LiveExpense(id string) *Expense {
	if e := d.ExpenseByID(id); e != nil && !e.Deleted {
		return e
	}
	return nil
}

// ItemByID returns the item with the given id and its owning expense.
func (d *Document) ItemByID(id string) (*Expense, *ExpenseItem) {
	for i := range d.Expenses {
		e := &d.Expenses[i]
		for j := range e.Items {
			if e.Items[j].ID == id {
				return e, &e.Items[j]
			}
		}
	}
	return nil, nil
}

// HasSettlementMark reports whether the (payer, payee) pair is marked settled.
func (d *Document) HasSettlementMark(payerID, payeeID string) bool {
	for i := range d.SettlementMarks {
		if d.SettlementMarks[i].PayerID == payerID && d.SettlementMarks[i].PayeeID == payeeID {
			return true
		}
	}
	return false
}
