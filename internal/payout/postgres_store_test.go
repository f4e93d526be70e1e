//go:build integration

package payout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mensahlabs/rentlink/internal/testutil"
)

func pendingRequest(id, providerID string, amount Amount, createdAt time.Time) *Request {
	return &Request{
		ID:            id,
		ProviderID:    providerID,
		Amount:        amount,
		Method:        MethodMTN,
		AccountNumber: "0244123456",
		AccountName:   "Kwame Mensah",
		Status:        StatusPending,
		Reference:     "PAY-20260831-TEST",
		CreatedAt:     createdAt,
		SettleAt:      createdAt.Add(time.Minute),
	}
}

func TestPostgresStore_CreditAndBalance(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	balance, err := store.Balance(ctx, "prov-unknown")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 0 {
		t.Errorf("Balance for unknown provider = %s, want 0.00", balance)
	}

	if err := store.Credit(ctx, "prov-1", 1000_00, "earnings"); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := store.Credit(ctx, "prov-1", 540_00, "earnings"); err != nil {
		t.Fatalf("Credit upsert: %v", err)
	}

	balance, err = store.Balance(ctx, "prov-1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance.String() != "1540.00" {
		t.Errorf("Balance = %s, want 1540.00", balance)
	}
}

func TestPostgresStore_DebitAndCreate(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.Credit(ctx, "prov-1", 1540_00, "earnings"); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	now := time.Now().Truncate(time.Microsecond)
	if err := store.DebitAndCreate(ctx, pendingRequest("po_test_1", "prov-1", 500_00, now)); err != nil {
		t.Fatalf("DebitAndCreate: %v", err)
	}

	balance, _ := store.Balance(ctx, "prov-1")
	if balance.String() != "1040.00" {
		t.Errorf("Balance after debit = %s, want 1040.00", balance)
	}

	got, err := store.Get(ctx, "po_test_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %s, want PENDING", got.Status)
	}
	if got.Amount.String() != "500.00" {
		t.Errorf("Amount = %s, want 500.00", got.Amount)
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", got.CompletedAt)
	}

	// Overdraw: no debit, no request row.
	err = store.DebitAndCreate(ctx, pendingRequest("po_test_2", "prov-1", 2000_00, now))
	var insufficient *InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("DebitAndCreate overdraw = %v, want InsufficientFundsError", err)
	}
	if insufficient.Balance.String() != "1040.00" {
		t.Errorf("error balance = %s, want 1040.00", insufficient.Balance)
	}
	if _, err := store.Get(ctx, "po_test_2"); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("Get after refused debit = %v, want ErrRequestNotFound", err)
	}
	balance, _ = store.Balance(ctx, "prov-1")
	if balance.String() != "1040.00" {
		t.Errorf("Balance after refused debit = %s, want 1040.00", balance)
	}
}

func TestPostgresStore_UpdateRefusesTerminalRows(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.Credit(ctx, "prov-1", 1000_00, "earnings"); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	now := time.Now().Truncate(time.Microsecond)
	request := pendingRequest("po_terminal", "prov-1", 100_00, now)
	if err := store.DebitAndCreate(ctx, request); err != nil {
		t.Fatalf("DebitAndCreate: %v", err)
	}

	request.Status = StatusCompleted
	request.CompletedAt = &now
	if err := store.Update(ctx, request); err != nil {
		t.Fatalf("Update to COMPLETED: %v", err)
	}

	// A second transition must not overwrite the terminal row.
	request.Status = StatusFailed
	if err := store.Update(ctx, request); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("Update terminal row = %v, want ErrAlreadySettled", err)
	}
	got, _ := store.Get(ctx, "po_terminal")
	if got.Status != StatusCompleted {
		t.Errorf("Status after refused update = %s, want COMPLETED", got.Status)
	}

	if err := store.Update(ctx, pendingRequest("po_missing", "prov-1", 100_00, now)); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("Update missing row = %v, want ErrRequestNotFound", err)
	}
}

func TestPostgresStore_FailAndRefund(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.Credit(ctx, "prov-1", 1540_00, "earnings"); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	now := time.Now().Truncate(time.Microsecond)
	request := pendingRequest("po_fail", "prov-1", 500_00, now)
	if err := store.DebitAndCreate(ctx, request); err != nil {
		t.Fatalf("DebitAndCreate: %v", err)
	}

	request.Status = StatusFailed
	request.FailureReason = "network rejected the account"
	request.CompletedAt = &now
	if err := store.FailAndRefund(ctx, request); err != nil {
		t.Fatalf("FailAndRefund: %v", err)
	}

	balance, _ := store.Balance(ctx, "prov-1")
	if balance.String() != "1540.00" {
		t.Errorf("Balance after refund = %s, want 1540.00", balance)
	}
	got, _ := store.Get(ctx, "po_fail")
	if got.Status != StatusFailed {
		t.Errorf("Status = %s, want FAILED", got.Status)
	}
	if got.FailureReason != "network rejected the account" {
		t.Errorf("FailureReason = %q", got.FailureReason)
	}

	// A duplicate failure must not refund twice.
	if err := store.FailAndRefund(ctx, request); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("second FailAndRefund = %v, want ErrAlreadySettled", err)
	}
	balance, _ = store.Balance(ctx, "prov-1")
	if balance.String() != "1540.00" {
		t.Errorf("Balance after duplicate refund = %s, want 1540.00", balance)
	}
}

func TestPostgresStore_ListByProviderAndListDue(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := store.Credit(ctx, "prov-1", 1000_00, "earnings"); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	now := time.Now().Truncate(time.Microsecond)
	overdue := pendingRequest("po_due", "prov-1", 100_00, now.Add(-time.Hour))
	overdue.SettleAt = now.Add(-time.Minute)
	future := pendingRequest("po_future", "prov-1", 100_00, now)
	future.SettleAt = now.Add(time.Hour)

	for _, r := range []*Request{overdue, future} {
		if err := store.DebitAndCreate(ctx, r); err != nil {
			t.Fatalf("DebitAndCreate %s: %v", r.ID, err)
		}
	}

	list, err := store.ListByProvider(ctx, "prov-1", 10)
	if err != nil {
		t.Fatalf("ListByProvider: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListByProvider count = %d, want 2", len(list))
	}
	if list[0].ID != "po_future" {
		t.Errorf("first request = %q, want po_future (newest first)", list[0].ID)
	}

	list, err = store.ListByProvider(ctx, "prov-1", 1)
	if err != nil {
		t.Fatalf("ListByProvider limit: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("limited count = %d, want 1", len(list))
	}

	due, err := store.ListDue(ctx, now, 100)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 1 || due[0].ID != "po_due" {
		t.Fatalf("ListDue = %+v, want only po_due", due)
	}
}
