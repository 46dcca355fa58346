package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
)

func TestDirtyFlagFollowsMutations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustAddUser(t, s, testUser)
	accounts := NewAccountRepository(s)
	acc := mustAddAccount(t, s, "acc-1", testUser, 100)

	unsynced, err := s.GetUnsynced(ctx, TableAccounts)
	if err != nil {
		t.Fatalf("GetUnsynced() error = %v", err)
	}
	if !containsID(unsynced, acc.ID) {
		t.Fatal("new account missing from unsynced rows")
	}

	if err := s.MarkSynced(ctx, TableAccounts, acc.ID); err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}
	unsynced, _ = s.GetUnsynced(ctx, TableAccounts)
	if containsID(unsynced, acc.ID) {
		t.Fatal("account still unsynced after MarkSynced")
	}
	got, _ := accounts.GetByID(ctx, acc.ID)
	if got == nil || !got.Synced {
		t.Fatalf("GetByID() = %+v, want synced row", got)
	}

	acc.Name = "Wallet"
	if err := accounts.Update(ctx, acc); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	unsynced, _ = s.GetUnsynced(ctx, TableAccounts)
	if !containsID(unsynced, acc.ID) {
		t.Error("updated account missing from unsynced rows")
	}
}

func TestDirtyFlagEveryTable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustAddUser(t, s, testUser)
	mustAddAccount(t, s, "acc-1", testUser, 0)
	mustAddCategory(t, s, "cat-1", testUser, core.CategoryExpense)

	if err := NewSubcategoryRepository(s).Add(ctx, core.Subcategory{
		ID: "sub-1", UserID: testUser, Name: "Groceries", ParentCategoryID: "cat-1",
	}); err != nil {
		t.Fatalf("add subcategory: %v", err)
	}
	mustAddTransaction(t, s, core.Transaction{ID: "tx-1", UserID: testUser, Type: core.TransactionExpense,
		CategoryID: "cat-1", Amount: decimal.NewFromInt(5), AccountID: "acc-1", Date: day(2024, 5, 1)})
	if err := NewBudgetRepository(s).Add(ctx, core.Budget{ID: "bud-1", UserID: testUser, CategoryID: "cat-1",
		BudgetLimit: decimal.NewFromInt(10), Month: 4, Year: 2024}); err != nil {
		t.Fatalf("add budget: %v", err)
	}
	if err := NewSubscriptionRepository(s).Add(ctx, core.Subscription{ID: "sub-tv", UserID: testUser,
		Name: "TV", Amount: decimal.NewFromInt(9)}); err != nil {
		t.Fatalf("add subscription: %v", err)
	}
	if err := NewGoalRepository(s).Add(ctx, core.Goal{ID: "goal-1", UserID: testUser, Title: "Trip",
		TargetAmount: decimal.NewFromInt(100), TargetDate: day(2025, 1, 1), AccountID: "acc-1"}); err != nil {
		t.Fatalf("add goal: %v", err)
	}
	if err := NewUserInterestRepository(s).Add(ctx, core.UserInterest{ID: "int-1", UserID: testUser,
		Interest: "travel"}); err != nil {
		t.Fatalf("add interest: %v", err)
	}

	want := map[Table]string{
		TableUsers:         "row-" + testUser,
		TableUserInterests: "int-1",
		TableCategories:    "cat-1",
		TableSubcategories: "sub-1",
		TableAccounts:      "acc-1",
		TableTransactions:  "tx-1",
		TableBudgets:       "bud-1",
		TableSubscriptions: "sub-tv",
		TableGoals:         "goal-1",
	}
	for table, id := range want {
		rows, err := s.GetUnsynced(ctx, table)
		if err != nil {
			t.Fatalf("GetUnsynced(%s) error = %v", table, err)
		}
		if !containsID(rows, id) {
			t.Errorf("GetUnsynced(%s) missing %s", table, id)
		}
		if err := s.MarkSynced(ctx, table, id); err != nil {
			t.Fatalf("MarkSynced(%s) error = %v", table, err)
		}
	}

	counts, err := s.CountUnsynced(ctx)
	if err != nil {
		t.Fatalf("CountUnsynced() error = %v", err)
	}
	for table, n := range counts {
		if n != 0 {
			t.Errorf("CountUnsynced()[%s] = %d, want 0", table, n)
		}
	}
}

func TestMarkSyncedIfUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustAddUser(t, s, testUser)
	acc := mustAddAccount(t, s, "acc-1", testUser, 10)

	rows, err := s.GetUnsynced(ctx, TableAccounts)
	if err != nil || len(rows) != 1 {
		t.Fatalf("GetUnsynced() = %v, %v", rows, err)
	}
	snapshot := rows[0]

	acc.Name = "Edited after upload"
	if err := NewAccountRepository(s).Update(ctx, acc); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	marked, err := s.MarkSyncedIfUnchanged(ctx, TableAccounts, snapshot)
	if err != nil {
		t.Fatalf("MarkSyncedIfUnchanged() error = %v", err)
	}
	if marked {
		t.Fatal("stale snapshot marked synced")
	}

	rows, _ = s.GetUnsynced(ctx, TableAccounts)
	marked, err = s.MarkSyncedIfUnchanged(ctx, TableAccounts, rows[0])
	if err != nil {
		t.Fatalf("MarkSyncedIfUnchanged() error = %v", err)
	}
	if !marked {
		t.Fatal("current snapshot not marked synced")
	}
}

func TestParseTable(t *testing.T) {
	for _, table := range AllTables {
		got, err := ParseTable(table.String())
		if err != nil {
			t.Fatalf("ParseTable(%q) error = %v", table.String(), err)
		}
		if got != table {
			t.Errorf("ParseTable(%q) = %v, want %v", table.String(), got, table)
		}
	}

	if _, err := ParseTable("sqlite_master"); !errors.Is(err, core.ErrUnknownTable) {
		t.Errorf("ParseTable(sqlite_master) error = %v, want ErrUnknownTable", err)
	}
	if _, err := (&Store{}).GetUnsynced(context.Background(), Table(99)); !errors.Is(err, core.ErrUnknownTable) {
		t.Errorf("GetUnsynced(99) error = %v, want ErrUnknownTable", err)
	}
}

func TestDeleteMarksReferencingRowsDirty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustAddUser(t, s, testUser)
	mustAddAccount(t, s, "acc-1", testUser, 0)
	mustAddCategory(t, s, "food", testUser, core.CategoryExpense)
	mustAddCategory(t, s, "home", testUser, core.CategoryExpense)
	subs := NewSubcategoryRepository(s)
	for _, sub := range []core.Subcategory{
		{ID: "groceries", UserID: testUser, Name: "Groceries", ParentCategoryID: "food"},
		{ID: "rent", UserID: testUser, Name: "Rent", ParentCategoryID: "home"},
	} {
		if err := subs.Add(ctx, sub); err != nil {
			t.Fatalf("add subcategory: %v", err)
		}
	}
	mustAddTransaction(t, s, core.Transaction{ID: "tx-food", UserID: testUser, Type: core.TransactionExpense,
		CategoryID: "food", SubCategoryID: "groceries", Amount: decimal.NewFromInt(5), AccountID: "acc-1", Date: day(2024, 5, 1)})
	mustAddTransaction(t, s, core.Transaction{ID: "tx-rent", UserID: testUser, Type: core.TransactionExpense,
		CategoryID: "home", SubCategoryID: "rent", Amount: decimal.NewFromInt(500), AccountID: "acc-1", Date: day(2024, 5, 2)})
	if err := NewSubscriptionRepository(s).Add(ctx, core.Subscription{ID: "sub-box", UserID: testUser,
		Name: "Veg box", Amount: decimal.NewFromInt(20), CategoryID: "food"}); err != nil {
		t.Fatalf("add subscription: %v", err)
	}
	for _, tx := range []string{"tx-food", "tx-rent"} {
		if err := s.MarkSynced(ctx, TableTransactions, tx); err != nil {
			t.Fatalf("MarkSynced(%s) error = %v", tx, err)
		}
	}
	if err := s.MarkSynced(ctx, TableSubscriptions, "sub-box"); err != nil {
		t.Fatalf("MarkSynced(sub-box) error = %v", err)
	}

	if err := NewCategoryRepository(s).Delete(ctx, "food", testUser); err != nil {
		t.Fatalf("Delete(category) error = %v", err)
	}
	if err := subs.Delete(ctx, "rent", testUser); err != nil {
		t.Fatalf("Delete(subcategory) error = %v", err)
	}

	txs := NewTransactionRepository(s)
	food, _ := txs.GetByID(ctx, "tx-food")
	if food == nil || food.CategoryID != "" || food.SubCategoryID != "" || food.Synced {
		t.Errorf("tx-food after category delete = %+v, want cleared references and dirty", food)
	}
	rent, _ := txs.GetByID(ctx, "tx-rent")
	if rent == nil || rent.CategoryID != "home" || rent.SubCategoryID != "" || rent.Synced {
		t.Errorf("tx-rent after subcategory delete = %+v, want cleared subcategory and dirty", rent)
	}
	unsynced, err := s.GetUnsynced(ctx, TableTransactions)
	if err != nil {
		t.Fatalf("GetUnsynced() error = %v", err)
	}
	if !containsID(unsynced, "tx-food") || !containsID(unsynced, "tx-rent") {
		t.Errorf("unsynced transactions = %v, want both rows", unsynced)
	}
	unsynced, _ = s.GetUnsynced(ctx, TableSubscriptions)
	if !containsID(unsynced, "sub-box") {
		t.Error("subscription lost its category but is not dirty")
	}
}

func TestDeleteLegMarksSurvivingLegDirty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	mustAddUser(t, s, testUser)
	mustAddAccount(t, s, "acc-1", testUser, 0)
	mustAddAccount(t, s, "acc-2", testUser, 0)
	mustAddTransaction(t, s, core.Transaction{ID: "out", UserID: testUser, Type: core.TransactionDebit,
		Amount: decimal.NewFromInt(30), AccountID: "acc-1", Date: day(2024, 5, 3)})
	mustAddTransaction(t, s, core.Transaction{ID: "in", UserID: testUser, Type: core.TransactionCredit,
		Amount: decimal.NewFromInt(30), AccountID: "acc-2", Date: day(2024, 5, 3)})

	txs := NewTransactionRepository(s)
	if err := txs.SetLink(ctx, "out", "in"); err != nil {
		t.Fatalf("SetLink() error = %v", err)
	}
	if err := txs.SetLink(ctx, "in", "out"); err != nil {
		t.Fatalf("SetLink() error = %v", err)
	}
	for _, id := range []string{"out", "in"} {
		if err := s.MarkSynced(ctx, TableTransactions, id); err != nil {
			t.Fatalf("MarkSynced(%s) error = %v", id, err)
		}
	}

	if err := txs.Delete(ctx, "out", testUser); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	in, _ := txs.GetByID(ctx, "in")
	if in == nil || in.LinkedTransactionID != "" || in.Synced {
		t.Errorf("surviving leg = %+v, want cleared link and dirty", in)
	}
}
