package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/storage"
)

const testUser = "user-1"

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "moneta.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	u := core.User{ID: "row-" + testUser, UserID: testUser, FirstName: "Ada"}
	if err := storage.NewUserRepository(s).Add(context.Background(), u); err != nil {
		t.Fatalf("add user: %v", err)
	}
	return s
}

func mustAddAccount(t *testing.T, s *storage.Store, id string, balance int64) {
	t.Helper()
	a := core.Account{ID: id, UserID: testUser, Name: id, Balance: decimal.NewFromInt(balance)}
	if err := storage.NewAccountRepository(s).Add(context.Background(), a); err != nil {
		t.Fatalf("add account: %v", err)
	}
}

func mustAddCategory(t *testing.T, s *storage.Store, id string, kind core.CategoryType) {
	t.Helper()
	c := core.Category{ID: id, UserID: testUser, Name: id, Type: kind}
	if err := storage.NewCategoryRepository(s).Add(context.Background(), c); err != nil {
		t.Fatalf("add category: %v", err)
	}
}

func mustAddTransaction(t *testing.T, s *storage.Store, kind core.TransactionType, categoryID, accountID string, amount int64, date time.Time) {
	t.Helper()
	tx := core.Transaction{
		ID: core.NewID(), UserID: testUser, Type: kind, CategoryID: categoryID,
		Amount: decimal.NewFromInt(amount), AccountID: accountID, Date: date,
	}
	if err := storage.NewTransactionRepository(s).Add(context.Background(), tx); err != nil {
		t.Fatalf("add transaction: %v", err)
	}
}

func balanceOf(t *testing.T, s *storage.Store, accountID string) decimal.Decimal {
	t.Helper()
	a, err := storage.NewAccountRepository(s).GetByID(context.Background(), accountID)
	if err != nil || a == nil {
		t.Fatalf("GetByID(%s) = %v, %v", accountID, a, err)
	}
	return a.Balance
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []string
	err     error
}

func (n *recordingNotifier) NotifyChange(_ context.Context, table, id, op string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, table+":"+op+":"+id)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}
