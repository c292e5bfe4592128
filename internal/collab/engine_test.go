package collab

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/splitsync/splitsync/internal/models"
	"github.com/splitsync/splitsync/internal/storage"
	"github.com/splitsync/splitsync/internal/storage/sqlite"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "splitsync-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := sqlite.New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewEngine(store, nil)
}

func mustCreateDocument(t *testing.T, e *Engine, memberNames ...string) *models.Document {
	t.Helper()
	doc, err := e.CreateDocument(context.Background(), "Dinner", "USD", "user-1", memberNames)
	if err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	return doc
}

func memberAddPayload(t *testing.T, name string) json.RawMessage {
	t.Helper()
	p, err := json.Marshal(models.MemberPayload{Name: &name})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return p
}

func TestCreateDocument(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	doc := mustCreateDocument(t, e, "Alice", "Bob")
	if doc.Version != 1 {
		t.Errorf("expected version 1, got %d", doc.Version)
	}
	if len(doc.Members) != 2 {
		t.Errorf("expected 2 members, got %d", len(doc.Members))
	}

	// The creation itself is version 1 of the log, so the log is gapless
	// from the start.
	ops, err := e.OperationsSince(ctx, doc.ID, 0)
	if err != nil {
		t.Fatalf("OperationsSince failed: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(ops))
	}
	if ops[0].Type != models.OpDocumentCreate || ops[0].Version != 1 {
		t.Errorf("expected document_create at version 1, got %s at %d", ops[0].Type, ops[0].Version)
	}

	t.Run("empty title rejected", func(t *testing.T) {
		if _, err := e.CreateDocument(ctx, "", "USD", "user-1", nil); !errors.Is(err, ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestSubmit(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	doc := mustCreateDocument(t, e, "Alice", "Bob")

	t.Run("accepted operation bumps version by one", func(t *testing.T) {
		res, err := e.Submit(ctx, SubmitRequest{
			DocumentID:  doc.ID,
			ClientID:    "client-a",
			UserID:      "user-1",
			Type:        models.OpMemberAdd,
			Payload:     memberAddPayload(t, "Carol"),
			BaseVersion: 1,
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if !res.Accepted() {
			t.Fatalf("expected acceptance, got rejection: %+v", res.Rejected)
		}
		if res.Operation.Version != 2 {
			t.Errorf("expected operation at version 2, got %d", res.Operation.Version)
		}
		if res.Operation.ClientID != "client-a" {
			t.Errorf("expected echoed client id, got %q", res.Operation.ClientID)
		}

		// The normalized payload carries the canonical id the server
		// assigned, so replaying clients converge on the same state.
		var p models.MemberPayload
		if err := json.Unmarshal(res.Operation.Payload, &p); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if p.ID == "" {
			t.Error("expected canonical id in committed payload")
		}
	})

	t.Run("stale base version rejected with missing operations", func(t *testing.T) {
		res, err := e.Submit(ctx, SubmitRequest{
			DocumentID:  doc.ID,
			ClientID:    "client-b",
			UserID:      "user-1",
			Type:        models.OpMemberAdd,
			Payload:     memberAddPayload(t, "Dave"),
			BaseVersion: 1, // document is at 2 now
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if res.Accepted() {
			t.Fatal("expected rejection")
		}
		rej := res.Rejected
		if rej.Reason != ReasonVersionMismatch {
			t.Errorf("expected %s, got %s", ReasonVersionMismatch, rej.Reason)
		}
		if rej.CurrentVersion != 2 {
			t.Errorf("expected current version 2, got %d", rej.CurrentVersion)
		}
		if len(rej.MissingOperations) != 1 || rej.MissingOperations[0].Version != 2 {
			t.Errorf("expected the version-2 operation, got %+v", rej.MissingOperations)
		}
		if rej.ClientID != "client-b" {
			t.Errorf("expected echoed client id, got %q", rej.ClientID)
		}
	})

	t.Run("rejection leaves document untouched", func(t *testing.T) {
		got, err := e.store.GetDocument(ctx, doc.ID)
		if err != nil {
			t.Fatalf("GetDocument failed: %v", err)
		}
		if got.Version != 2 {
			t.Errorf("expected version 2, got %d", got.Version)
		}
		if len(got.Members) != 3 {
			t.Errorf("expected 3 members, got %d", len(got.Members))
		}
	})

	t.Run("unknown operation type is a validation error", func(t *testing.T) {
		_, err := e.Submit(ctx, SubmitRequest{
			DocumentID:  doc.ID,
			UserID:      "user-1",
			Type:        models.OpType("frobnicate"),
			Payload:     json.RawMessage(`{}`),
			BaseVersion: 2,
		})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("duplicate participants are a validation error", func(t *testing.T) {
		alice := doc.Members[0].ID
		desc, amount := "Tapas", 30.0
		payload, err := json.Marshal(models.ExpensePayload{
			Description:  &desc,
			Amount:       &amount,
			Participants: &[]string{alice, alice},
		})
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		_, err = e.Submit(ctx, SubmitRequest{
			DocumentID:  doc.ID,
			UserID:      "user-1",
			Type:        models.OpExpenseAdd,
			Payload:     payload,
			BaseVersion: 2,
		})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("unknown document", func(t *testing.T) {
		_, err := e.Submit(ctx, SubmitRequest{
			DocumentID:  "nonexistent",
			UserID:      "user-1",
			Type:        models.OpMemberAdd,
			Payload:     memberAddPayload(t, "Eve"),
			BaseVersion: 1,
		})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSubmitVersionsAreGapless(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	doc := mustCreateDocument(t, e, "Alice")

	names := []string{"Bob", "Carol", "Dave", "Eve"}
	for i, name := range names {
		res, err := e.Submit(ctx, SubmitRequest{
			DocumentID:  doc.ID,
			UserID:      "user-1",
			Type:        models.OpMemberAdd,
			Payload:     memberAddPayload(t, name),
			BaseVersion: int64(1 + i),
		})
		if err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
		if !res.Accepted() {
			t.Fatalf("Submit %d rejected: %+v", i, res.Rejected)
		}
	}

	ops, err := e.OperationsSince(ctx, doc.ID, 0)
	if err != nil {
		t.Fatalf("OperationsSince failed: %v", err)
	}
	if len(ops) != 5 {
		t.Fatalf("expected 5 operations, got %d", len(ops))
	}
	for i, op := range ops {
		if op.Version != int64(i+1) {
			t.Errorf("operation %d has version %d, want %d", i, op.Version, i+1)
		}
	}
}

func TestConcurrentSubmitsSameBase(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	doc := mustCreateDocument(t, e, "Alice")

	const writers = 8
	results := make([]*SubmitResult, writers)
	errs := make([]error, writers)
	payload := memberAddPayload(t, "Racer")

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Submit(ctx, SubmitRequest{
				DocumentID:  doc.ID,
				ClientID:    "client",
				UserID:      "user-1",
				Type:        models.OpMemberAdd,
				Payload:     payload,
				BaseVersion: 1,
			})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for i := 0; i < writers; i++ {
		if errs[i] != nil {
			t.Fatalf("Submit %d errored: %v", i, errs[i])
		}
		if results[i].Accepted() {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("expected exactly 1 accepted write, got %d", accepted)
	}

	got, err := e.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("expected version 2, got %d", got.Version)
	}
}

func TestMemberDeletePurgesReferences(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	doc := mustCreateDocument(t, e, "Alice", "Bob")
	alice, bob := doc.Members[0].ID, doc.Members[1].ID

	// Expense paid by Bob, split between both.
	desc, amount := "Lunch", 24.0
	payload, _ := json.Marshal(models.ExpensePayload{
		Description:  &desc,
		Amount:       &amount,
		PayerID:      &bob,
		Participants: &[]string{alice, bob},
	})
	res, err := e.Submit(ctx, SubmitRequest{
		DocumentID: doc.ID, UserID: "user-1",
		Type: models.OpExpenseAdd, Payload: payload, BaseVersion: 1,
	})
	if err != nil || !res.Accepted() {
		t.Fatalf("expense add failed: %v %+v", err, res)
	}

	// Mark Bob -> Alice settled so the purge has a mark to drop.
	markPayload, _ := json.Marshal(models.SettlementPayload{PayerID: bob, PayeeID: alice})
	res, err = e.Submit(ctx, SubmitRequest{
		DocumentID: doc.ID, UserID: "user-1",
		Type: models.OpSettlementMark, Payload: markPayload, BaseVersion: 2,
	})
	if err != nil || !res.Accepted() {
		t.Fatalf("settlement mark failed: %v %+v", err, res)
	}

	res, err = e.Submit(ctx, SubmitRequest{
		DocumentID: doc.ID, UserID: "user-1",
		Type: models.OpMemberDelete, TargetID: bob, BaseVersion: 3,
	})
	if err != nil || !res.Accepted() {
		t.Fatalf("member delete failed: %v %+v", err, res)
	}

	got, err := e.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.LiveMember(bob) != nil {
		t.Error("expected bob to be deleted")
	}
	if got.MemberByID(bob) == nil {
		t.Error("expected bob to remain resolvable for log replay")
	}
	ex := got.Expenses[0]
	if ex.PayerID != "" {
		t.Errorf("expected payer cleared, got %q", ex.PayerID)
	}
	if len(ex.Participants) != 1 || ex.Participants[0] != alice {
		t.Errorf("expected only alice as participant, got %v", ex.Participants)
	}
	if len(got.SettlementMarks) != 0 {
		t.Errorf("expected settlement marks purged, got %d", len(got.SettlementMarks))
	}
}

func TestSettlementMarkIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	doc := mustCreateDocument(t, e, "Alice", "Bob")
	alice, bob := doc.Members[0].ID, doc.Members[1].ID

	payload, _ := json.Marshal(models.SettlementPayload{PayerID: bob, PayeeID: alice})
	for v := int64(1); v <= 2; v++ {
		res, err := e.Submit(ctx, SubmitRequest{
			DocumentID: doc.ID, UserID: "user-1",
			Type: models.OpSettlementMark, Payload: payload, BaseVersion: v,
		})
		if err != nil || !res.Accepted() {
			t.Fatalf("mark at base %d failed: %v %+v", v, err, res)
		}
	}

	got, err := e.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if len(got.SettlementMarks) != 1 {
		t.Errorf("expected 1 settlement mark, got %d", len(got.SettlementMarks))
	}
}

func TestCompaction(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	doc := mustCreateDocument(t, e, "Alice")

	for v := int64(1); v <= 9; v++ {
		res, err := e.Submit(ctx, SubmitRequest{
			DocumentID: doc.ID, UserID: "user-1",
			Type: models.OpMemberAdd, Payload: memberAddPayload(t, "X"), BaseVersion: v,
		})
		if err != nil || !res.Accepted() {
			t.Fatalf("Submit at base %d failed: %v", v, err)
		}
	}

	// Keep the last 3 of 10 versions: watermark lands at 7.
	if err := e.Compact(ctx, doc.ID, 3); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	got, err := e.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.CompactedAtVersion != 7 {
		t.Errorf("expected watermark 7, got %d", got.CompactedAtVersion)
	}

	t.Run("stale base below watermark gets log_compacted", func(t *testing.T) {
		res, err := e.Submit(ctx, SubmitRequest{
			DocumentID: doc.ID, UserID: "user-1",
			Type: models.OpMemberAdd, Payload: memberAddPayload(t, "Y"), BaseVersion: 4,
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if res.Accepted() {
			t.Fatal("expected rejection")
		}
		if res.Rejected.Reason != ReasonLogCompacted {
			t.Errorf("expected %s, got %s", ReasonLogCompacted, res.Rejected.Reason)
		}
		if res.Rejected.MissingOperations != nil {
			t.Error("expected nil missing operations below the watermark")
		}
	})

	t.Run("stale base above watermark still catches up from log", func(t *testing.T) {
		res, err := e.Submit(ctx, SubmitRequest{
			DocumentID: doc.ID, UserID: "user-1",
			Type: models.OpMemberAdd, Payload: memberAddPayload(t, "Z"), BaseVersion: 8,
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if res.Accepted() {
			t.Fatal("expected rejection")
		}
		if res.Rejected.Reason != ReasonVersionMismatch {
			t.Errorf("expected %s, got %s", ReasonVersionMismatch, res.Rejected.Reason)
		}
		if len(res.Rejected.MissingOperations) != 2 {
			t.Errorf("expected 2 missing operations, got %d", len(res.Rejected.MissingOperations))
		}
	})

	t.Run("repeat compaction is a no-op", func(t *testing.T) {
		if err := e.Compact(ctx, doc.ID, 5); err != nil {
			t.Fatalf("Compact failed: %v", err)
		}
		got, err := e.store.GetDocument(ctx, doc.ID)
		if err != nil {
			t.Fatalf("GetDocument failed: %v", err)
		}
		if got.CompactedAtVersion != 7 {
			t.Errorf("watermark moved backwards: %d", got.CompactedAtVersion)
		}
	})
}
