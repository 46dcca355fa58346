package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/storage"
)

func newLedger(t *testing.T) (*LedgerService, *storage.Store, *recordingNotifier) {
	t.Helper()
	s := newTestStore(t)
	mustAddAccount(t, s, "cash", 1000)
	mustAddAccount(t, s, "bank", 0)
	mustAddCategory(t, s, "food", core.CategoryExpense)
	n := &recordingNotifier{}
	return NewLedgerService(s, n, nil), s, n
}

func TestPostTransactionAdjustsBalance(t *testing.T) {
	ctx := context.Background()
	ledger, s, n := newLedger(t)

	tx, err := ledger.PostTransaction(ctx, core.Transaction{
		UserID: testUser, Type: core.TransactionExpense, CategoryID: "food",
		Amount: decimal.NewFromInt(200), AccountID: "cash", Date: day(2024, 5, 3),
	})
	if err != nil {
		t.Fatalf("PostTransaction() error = %v", err)
	}
	if tx.ID == "" {
		t.Error("PostTransaction() left the id empty")
	}
	if got := balanceOf(t, s, "cash"); !got.Equal(decimal.NewFromInt(800)) {
		t.Errorf("cash balance = %s, want 800", got)
	}

	if _, err := ledger.PostTransaction(ctx, core.Transaction{
		UserID: testUser, Type: core.TransactionIncome, Amount: decimal.RequireFromString("49.99"),
		AccountID: "cash", Date: day(2024, 5, 4),
	}); err != nil {
		t.Fatalf("PostTransaction(income) error = %v", err)
	}
	if got := balanceOf(t, s, "cash"); !got.Equal(decimal.RequireFromString("849.99")) {
		t.Errorf("cash balance = %s, want 849.99", got)
	}
	if n.count() != 4 {
		t.Errorf("notices = %d, want 4", n.count())
	}
}

func TestPostTransactionRejects(t *testing.T) {
	ctx := context.Background()
	ledger, s, _ := newLedger(t)

	tests := []struct {
		name string
		tx   core.Transaction
		want error
	}{
		{
			name: "transfer leg",
			tx: core.Transaction{UserID: testUser, Type: core.TransactionDebit,
				Amount: decimal.NewFromInt(5), AccountID: "cash", Date: day(2024, 5, 3)},
			want: core.ErrInvalidInput,
		},
		{
			name: "zero amount",
			tx: core.Transaction{UserID: testUser, Type: core.TransactionExpense,
				Amount: decimal.Zero, AccountID: "cash", Date: day(2024, 5, 3)},
			want: core.ErrInvalidAmount,
		},
		{
			name: "negative amount",
			tx: core.Transaction{UserID: testUser, Type: core.TransactionExpense,
				Amount: decimal.NewFromInt(-5), AccountID: "cash", Date: day(2024, 5, 3)},
			want: core.ErrInvalidAmount,
		},
		{
			name: "unknown account",
			tx: core.Transaction{UserID: testUser, Type: core.TransactionExpense,
				Amount: decimal.NewFromInt(5), AccountID: "nowhere", Date: day(2024, 5, 3)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.PostTransaction(ctx, tt.tx)
			if err == nil {
				t.Fatal("PostTransaction() succeeded, want error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("PostTransaction() error = %v, want %v", err, tt.want)
			}
		})
	}

	if got := balanceOf(t, s, "cash"); !got.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("cash balance = %s after rejected posts, want 1000", got)
	}
	rows, err := storage.NewTransactionRepository(s).GetByUserID(ctx, testUser)
	if err != nil {
		t.Fatalf("GetByUserID() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("transactions = %d after rejected posts, want 0", len(rows))
	}
}

func TestPostTransferWritesLinkedPair(t *testing.T) {
	ctx := context.Background()
	ledger, s, _ := newLedger(t)

	debit, credit, err := ledger.PostTransfer(ctx, TransferInput{
		UserID: testUser, FromAccountID: "cash", ToAccountID: "bank",
		Amount: decimal.NewFromInt(300), Date: day(2024, 6, 1), Notes: "savings",
	})
	if err != nil {
		t.Fatalf("PostTransfer() error = %v", err)
	}
	if debit.LinkedTransactionID != credit.ID || credit.LinkedTransactionID != debit.ID {
		t.Errorf("legs not mutually linked: debit->%q credit->%q", debit.LinkedTransactionID, credit.LinkedTransactionID)
	}

	if got := balanceOf(t, s, "cash"); !got.Equal(decimal.NewFromInt(700)) {
		t.Errorf("cash balance = %s, want 700", got)
	}
	if got := balanceOf(t, s, "bank"); !got.Equal(decimal.NewFromInt(300)) {
		t.Errorf("bank balance = %s, want 300", got)
	}

	repo := storage.NewTransactionRepository(s)
	for _, id := range []string{debit.ID, credit.ID} {
		legs, err := repo.GetLinked(ctx, id)
		if err != nil {
			t.Fatalf("GetLinked(%s) error = %v", id, err)
		}
		if len(legs) != 2 {
			t.Errorf("GetLinked(%s) returned %d rows, want both legs", id, len(legs))
		}
	}

	stored, err := repo.GetByID(ctx, debit.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetByID(debit) = %v, %v", stored, err)
	}
	if stored.Type != core.TransactionDebit || stored.AccountID != "cash" || stored.LinkedTransactionID != credit.ID {
		t.Errorf("stored debit = %+v", stored)
	}
}

func TestPostTransferRejectsSameAccount(t *testing.T) {
	ledger, s, _ := newLedger(t)

	_, _, err := ledger.PostTransfer(context.Background(), TransferInput{
		UserID: testUser, FromAccountID: "cash", ToAccountID: "cash",
		Amount: decimal.NewFromInt(10), Date: day(2024, 6, 1),
	})
	if !errors.Is(err, core.ErrTransferSameAccount) {
		t.Fatalf("PostTransfer() error = %v, want ErrTransferSameAccount", err)
	}
	if got := balanceOf(t, s, "cash"); !got.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("cash balance = %s, want 1000", got)
	}
}

func TestPostTransferRollsBackOnMissingAccount(t *testing.T) {
	ctx := context.Background()
	ledger, s, n := newLedger(t)

	_, _, err := ledger.PostTransfer(ctx, TransferInput{
		UserID: testUser, FromAccountID: "cash", ToAccountID: "missing",
		Amount: decimal.NewFromInt(10), Date: day(2024, 6, 1),
	})
	if err == nil {
		t.Fatal("PostTransfer() to a missing account succeeded")
	}
	if got := balanceOf(t, s, "cash"); !got.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("cash balance = %s after rollback, want 1000", got)
	}
	rows, _ := storage.NewTransactionRepository(s).GetByUserID(ctx, testUser)
	if len(rows) != 0 {
		t.Errorf("transactions after rollback = %d, want 0", len(rows))
	}
	if n.count() != 0 {
		t.Errorf("notices after rollback = %d, want 0", n.count())
	}
}

func TestUpdateTransferLegMirrorsPartner(t *testing.T) {
	ctx := context.Background()
	ledger, s, _ := newLedger(t)

	debit, credit, err := ledger.PostTransfer(ctx, TransferInput{
		UserID: testUser, FromAccountID: "cash", ToAccountID: "bank",
		Amount: decimal.NewFromInt(300), Date: day(2024, 6, 1),
	})
	if err != nil {
		t.Fatalf("PostTransfer() error = %v", err)
	}

	credit.Amount = decimal.NewFromInt(400)
	credit.Date = day(2024, 6, 2)
	credit.Notes = "corrected"
	if _, err := ledger.UpdateTransaction(ctx, credit); err != nil {
		t.Fatalf("UpdateTransaction() error = %v", err)
	}

	partner, err := storage.NewTransactionRepository(s).GetByID(ctx, debit.ID)
	if err != nil || partner == nil {
		t.Fatalf("GetByID(debit) = %v, %v", partner, err)
	}
	if !partner.Amount.Equal(decimal.NewFromInt(400)) || !partner.Date.Equal(day(2024, 6, 2)) || partner.Notes != "corrected" {
		t.Errorf("partner leg not mirrored: %+v", partner)
	}
	if partner.LinkedTransactionID != credit.ID {
		t.Errorf("partner link = %q, want %q", partner.LinkedTransactionID, credit.ID)
	}

	if got := balanceOf(t, s, "cash"); !got.Equal(decimal.NewFromInt(600)) {
		t.Errorf("cash balance = %s, want 600", got)
	}
	if got := balanceOf(t, s, "bank"); !got.Equal(decimal.NewFromInt(400)) {
		t.Errorf("bank balance = %s, want 400", got)
	}

	credit.Type = core.TransactionDebit
	if _, err := ledger.UpdateTransaction(ctx, credit); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("UpdateTransaction(credit -> debit) error = %v, want ErrInvalidInput", err)
	}
}

func TestUpdateTransferLegRejectsMismatchedPartner(t *testing.T) {
	ctx := context.Background()
	ledger, s, _ := newLedger(t)

	debit, credit, err := ledger.PostTransfer(ctx, TransferInput{
		UserID: testUser, FromAccountID: "cash", ToAccountID: "bank",
		Amount: decimal.NewFromInt(50), Date: day(2024, 6, 1),
	})
	if err != nil {
		t.Fatalf("PostTransfer() error = %v", err)
	}
	// Corrupt the pair so the credit leg points at another credit.
	if _, err := s.DB().ExecContext(ctx, `UPDATE transactions SET type = 'credit' WHERE id = ?`, debit.ID); err != nil {
		t.Fatalf("corrupt debit leg: %v", err)
	}

	credit.Amount = decimal.NewFromInt(60)
	if _, err := ledger.UpdateTransaction(ctx, credit); !errors.Is(err, core.ErrNotTransferLeg) {
		t.Errorf("UpdateTransaction() error = %v, want ErrNotTransferLeg", err)
	}
	if got := balanceOf(t, s, "bank"); !got.Equal(decimal.NewFromInt(50)) {
		t.Errorf("bank balance = %s, want 50 after rollback", got)
	}
}

func TestUpdateTransactionMovesBalanceBetweenAccounts(t *testing.T) {
	ctx := context.Background()
	ledger, s, _ := newLedger(t)

	tx, err := ledger.PostTransaction(ctx, core.Transaction{
		UserID: testUser, Type: core.TransactionExpense, CategoryID: "food",
		Amount: decimal.NewFromInt(100), AccountID: "cash", Date: day(2024, 5, 3),
	})
	if err != nil {
		t.Fatalf("PostTransaction() error = %v", err)
	}

	tx.AccountID = "bank"
	tx.Amount = decimal.NewFromInt(40)
	if _, err := ledger.UpdateTransaction(ctx, tx); err != nil {
		t.Fatalf("UpdateTransaction() error = %v", err)
	}
	if got := balanceOf(t, s, "cash"); !got.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("cash balance = %s, want 1000", got)
	}
	if got := balanceOf(t, s, "bank"); !got.Equal(decimal.NewFromInt(-40)) {
		t.Errorf("bank balance = %s, want -40", got)
	}

	tx.Type = core.TransactionCredit
	if _, err := ledger.UpdateTransaction(ctx, tx); !errors.Is(err, core.ErrNotTransferLeg) {
		t.Errorf("UpdateTransaction(expense -> credit) error = %v, want ErrNotTransferLeg", err)
	}

	tx.Type = core.TransactionExpense
	tx.ID = "missing"
	if _, err := ledger.UpdateTransaction(ctx, tx); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("UpdateTransaction(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteTransferLegRemovesBoth(t *testing.T) {
	ctx := context.Background()
	ledger, s, _ := newLedger(t)

	debit, credit, err := ledger.PostTransfer(ctx, TransferInput{
		UserID: testUser, FromAccountID: "cash", ToAccountID: "bank",
		Amount: decimal.NewFromInt(250), Date: day(2024, 6, 1),
	})
	if err != nil {
		t.Fatalf("PostTransfer() error = %v", err)
	}

	if err := ledger.DeleteTransaction(ctx, debit.ID, testUser); err != nil {
		t.Fatalf("DeleteTransaction() error = %v", err)
	}

	repo := storage.NewTransactionRepository(s)
	for _, id := range []string{debit.ID, credit.ID} {
		got, err := repo.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID(%s) error = %v", id, err)
		}
		if got != nil {
			t.Errorf("leg %s still present after delete", id)
		}
	}
	if got := balanceOf(t, s, "cash"); !got.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("cash balance = %s, want 1000", got)
	}
	if got := balanceOf(t, s, "bank"); !got.Equal(decimal.Zero) {
		t.Errorf("bank balance = %s, want 0", got)
	}

	if err := ledger.DeleteTransaction(ctx, debit.ID, testUser); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second DeleteTransaction() error = %v, want ErrNotFound", err)
	}
}

func TestNotifierFailureDoesNotFailPost(t *testing.T) {
	ledger, s, n := newLedger(t)
	n.err = errors.New("broker down")

	_, err := ledger.PostTransaction(context.Background(), core.Transaction{
		UserID: testUser, Type: core.TransactionExpense, Amount: decimal.NewFromInt(1),
		AccountID: "cash", Date: day(2024, 5, 3),
	})
	if err != nil {
		t.Fatalf("PostTransaction() error = %v, want nil despite notifier failure", err)
	}
	if got := balanceOf(t, s, "cash"); !got.Equal(decimal.NewFromInt(999)) {
		t.Errorf("cash balance = %s, want 999", got)
	}
}
