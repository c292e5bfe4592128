package calculator

import (
	"fmt"
	"sort"

	"github.com/splitsync/splitsync/internal/models"
)

// MemberBalance is the aggregate balance for one document member.
type MemberBalance struct {
	MemberID   string  `json:"memberId"`
	NetBalance float64 `json:"netBalance"` // Positive = owed money, negative = owes money
	TotalPaid  float64 `json:"totalPaid"`
	TotalOwed  float64 `json:"totalOwed"`
}

// Transfer is one suggested settle-up payment. Settled reflects whether the
// (from, to) pair carries a settlement mark on the document.
type Transfer struct {
	FromID  string  `json:"fromId"`
	ToID    string  `json:"toId"`
	Amount  float64 `json:"amount"`
	Settled bool    `json:"settled"`
}

// epsilon absorbs floating point noise when matching debts.
const epsilon = 0.01

// DocumentBalances computes per-member balances across all live expenses on
// the document and a minimal set of suggested transfers to settle them,
// using greedy debtor/creditor matching. Deleted expenses and expenses
// without a payer are skipped.
func DocumentBalances(doc *models.Document) ([]MemberBalance, []Transfer, error) {
	balances := make(map[string]*MemberBalance)
	touch := func(id string) *MemberBalance {
		b, ok := balances[id]
		if !ok {
			b = &MemberBalance{MemberID: id}
			balances[id] = b
		}
		return b
	}

	for i := range doc.Expenses {
		e := &doc.Expenses[i]
		if e.Deleted || e.PayerID == "" || len(e.Participants) == 0 {
			continue
		}

		lines := make([]Line, 0, len(e.Items))
		subtotal := 0.0
		for j := range e.Items {
			lines = append(lines, Line{
				Description: e.Items[j].Description,
				Amount:      e.Items[j].Amount,
				AssignedTo:  e.Items[j].Participants,
			})
			subtotal += e.Items[j].Amount
		}
		if len(lines) == 0 {
			subtotal = e.Amount
		}

		shares, err := SplitExpense(lines, e.Amount, subtotal, e.Participants)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to split expense %s: %w", e.ID, err)
		}

		touch(e.PayerID).TotalPaid += e.Amount
		for memberID, share := range shares {
			touch(memberID).TotalOwed += share.Total
		}
	}

	var memberBalances []MemberBalance
	for _, b := range balances {
		b.NetBalance = b.TotalPaid - b.TotalOwed
		memberBalances = append(memberBalances, *b)
	}
	// Deterministic output order for API responses and tests.
	sort.Slice(memberBalances, func(i, j int) bool {
		return memberBalances[i].MemberID < memberBalances[j].MemberID
	})

	transfers := suggestTransfers(memberBalances, doc)
	return memberBalances, transfers, nil
}

// suggestTransfers greedily matches debtors to creditors so the number of
// transfers stays small.
func suggestTransfers(memberBalances []MemberBalance, doc *models.Document) []Transfer {
	var debtors, creditors []MemberBalance
	for _, b := range memberBalances {
		if b.NetBalance < -epsilon {
			debtors = append(debtors, b)
		} else if b.NetBalance > epsilon {
			creditors = append(creditors, b)
		}
	}

	owed := make(map[string]float64)
	due := make(map[string]float64)
	for _, d := range debtors {
		owed[d.MemberID] = -d.NetBalance
	}
	for _, c := range creditors {
		due[c.MemberID] = c.NetBalance
	}

	var transfers []Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		from := debtors[i].MemberID
		to := creditors[j].MemberID

		amount := owed[from]
		if due[to] < amount {
			amount = due[to]
		}
		if amount > epsilon {
			transfers = append(transfers, Transfer{
				FromID:  from,
				ToID:    to,
				Amount:  amount,
				Settled: doc.HasSettlementMark(from, to),
			})
		}

		owed[from] -= amount
		due[to] -= amount
		if owed[from] < epsilon {
			i++
		}
		if due[to] < epsilon {
			j++
		}
	}
	return transfers
}
