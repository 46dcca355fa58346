package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
)

const testUser = "user-1"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "moneta.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustAddUser(t *testing.T, s *Store, userID string) core.User {
	t.Helper()
	u := core.User{ID: "row-" + userID, UserID: userID, FirstName: "Ada", LastName: "Lovelace"}
	if err := NewUserRepository(s).Add(context.Background(), u); err != nil {
		t.Fatalf("add user: %v", err)
	}
	return u
}

func mustAddAccount(t *testing.T, s *Store, id, userID string, balance int64) core.Account {
	t.Helper()
	a := core.Account{ID: id, UserID: userID, Name: id, Balance: decimal.NewFromInt(balance)}
	if err := NewAccountRepository(s).Add(context.Background(), a); err != nil {
		t.Fatalf("add account: %v", err)
	}
	return a
}

func mustAddCategory(t *testing.T, s *Store, id, userID string, kind core.CategoryType) core.Category {
	t.Helper()
	c := core.Category{ID: id, UserID: userID, Name: id, Type: kind}
	if err := NewCategoryRepository(s).Add(context.Background(), c); err != nil {
		t.Fatalf("add category: %v", err)
	}
	return c
}

func mustAddTransaction(t *testing.T, s *Store, tx core.Transaction) core.Transaction {
	t.Helper()
	if tx.ID == "" {
		tx.ID = core.NewID()
	}
	if err := NewTransactionRepository(s).Add(context.Background(), tx); err != nil {
		t.Fatalf("add transaction: %v", err)
	}
	return tx
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func countRows(t *testing.T, s *Store, query string, args ...any) int {
	t.Helper()
	var n int
	if err := s.DB().QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func containsID(records []Record, id string) bool {
	for _, r := range records {
		if r.ID() == id {
			return true
		}
	}
	return false
}
