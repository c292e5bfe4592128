package calculator

import (
	"testing"

	"github.com/splitsync/splitsync/internal/models"
)

func TestDocumentBalances(t *testing.T) {
	t.Run("single expense split equally", func(t *testing.T) {
		doc := &models.Document{
			Members: []models.Member{{ID: "m1", Name: "Alice"}, {ID: "m2", Name: "Bob"}},
			Expenses: []models.Expense{
				{ID: "e1", Amount: 30.0, PayerID: "m1", Participants: []string{"m1", "m2"}},
			},
		}

		balances, transfers, err := DocumentBalances(doc)
		if err != nil {
			t.Fatalf("DocumentBalances failed: %v", err)
		}
		if len(balances) != 2 {
			t.Fatalf("expected 2 balances, got %d", len(balances))
		}
		// Sorted by member id: m1 first.
		if balances[0].MemberID != "m1" || !approxEqual(balances[0].NetBalance, 15.0) {
			t.Errorf("m1 balance = %+v, want net +15", balances[0])
		}
		if balances[1].MemberID != "m2" || !approxEqual(balances[1].NetBalance, -15.0) {
			t.Errorf("m2 balance = %+v, want net -15", balances[1])
		}

		if len(transfers) != 1 {
			t.Fatalf("expected 1 transfer, got %d", len(transfers))
		}
		tr := transfers[0]
		if tr.FromID != "m2" || tr.ToID != "m1" || !approxEqual(tr.Amount, 15.0) {
			t.Errorf("transfer = %+v, want m2 -> m1 for 15", tr)
		}
		if tr.Settled {
			t.Error("transfer should not be marked settled")
		}
	})

	t.Run("itemized expense with fees", func(t *testing.T) {
		doc := &models.Document{
			Members: []models.Member{{ID: "m1"}, {ID: "m2"}},
			Expenses: []models.Expense{
				{
					ID: "e1", Amount: 33.0, PayerID: "m1",
					Participants: []string{"m1", "m2"},
					Items: []models.ExpenseItem{
						{ID: "i1", Amount: 20.0, Participants: []string{"m1", "m2"}},
						{ID: "i2", Amount: 10.0, Participants: []string{"m2"}},
					},
				},
			},
		}

		balances, _, err := DocumentBalances(doc)
		if err != nil {
			t.Fatalf("DocumentBalances failed: %v", err)
		}
		// m2 owes 20/2 + 10 = 20 plus 10% fees = 22; m1 paid 33 and owes 11.
		if !approxEqual(balances[0].NetBalance, 22.0) {
			t.Errorf("m1 net = %f, want 22.0", balances[0].NetBalance)
		}
		if !approxEqual(balances[1].NetBalance, -22.0) {
			t.Errorf("m2 net = %f, want -22.0", balances[1].NetBalance)
		}
	})

	t.Run("deleted and payerless expenses are skipped", func(t *testing.T) {
		doc := &models.Document{
			Members: []models.Member{{ID: "m1"}, {ID: "m2"}},
			Expenses: []models.Expense{
				{ID: "e1", Amount: 100.0, PayerID: "m1", Participants: []string{"m1", "m2"}, Deleted: true},
				{ID: "e2", Amount: 50.0, Participants: []string{"m1", "m2"}},
			},
		}

		balances, transfers, err := DocumentBalances(doc)
		if err != nil {
			t.Fatalf("DocumentBalances failed: %v", err)
		}
		if len(balances) != 0 {
			t.Errorf("expected no balances, got %d", len(balances))
		}
		if len(transfers) != 0 {
			t.Errorf("expected no transfers, got %d", len(transfers))
		}
	})

	t.Run("settlement mark flags the matching transfer", func(t *testing.T) {
		doc := &models.Document{
			Members: []models.Member{{ID: "m1"}, {ID: "m2"}},
			Expenses: []models.Expense{
				{ID: "e1", Amount: 40.0, PayerID: "m1", Participants: []string{"m1", "m2"}},
			},
			SettlementMarks: []models.SettlementMark{
				{PayerID: "m2", PayeeID: "m1"},
			},
		}

		_, transfers, err := DocumentBalances(doc)
		if err != nil {
			t.Fatalf("DocumentBalances failed: %v", err)
		}
		if len(transfers) != 1 {
			t.Fatalf("expected 1 transfer, got %d", len(transfers))
		}
		if !transfers[0].Settled {
			t.Error("expected transfer to be marked settled")
		}
	})

	t.Run("three members settle with two transfers", func(t *testing.T) {
		doc := &models.Document{
			Members: []models.Member{{ID: "m1"}, {ID: "m2"}, {ID: "m3"}},
			Expenses: []models.Expense{
				{ID: "e1", Amount: 90.0, PayerID: "m1", Participants: []string{"m1", "m2", "m3"}},
			},
		}

		_, transfers, err := DocumentBalances(doc)
		if err != nil {
			t.Fatalf("DocumentBalances failed: %v", err)
		}
		if len(transfers) != 2 {
			t.Fatalf("expected 2 transfers, got %d", len(transfers))
		}
		total := transfers[0].Amount + transfers[1].Amount
		if !approxEqual(total, 60.0) {
			t.Errorf("transfers total = %f, want 60.0", total)
		}
		for _, tr := range transfers {
			if tr.ToID != "m1" {
				t.Errorf("transfer to %s, want m1", tr.ToID)
			}
		}
	})
}
