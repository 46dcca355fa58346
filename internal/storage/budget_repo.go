package storage

import (
	"context"
	"database/sql"
	"fmt"

	"moneta/internal/core"
	applog "moneta/internal/log"
)

const budgetColumns = `id, userId, categoryId, COALESCE(budgetLimit, 0), month, year, createdAt, synced`

type BudgetRepository struct {
	store *Store
	db    DBTX
}

func NewBudgetRepository(s *Store) *BudgetRepository {
	return &BudgetRepository{store: s, db: s.db}
}

func (r *BudgetRepository) WithTx(tx *sql.Tx) *BudgetRepository {
	return &BudgetRepository{store: r.store, db: tx}
}

func scanBudget(sc scanner) (core.Budget, error) {
	var (
		b         core.Budget
		createdAt sql.NullString
		synced    int
	)
	if err := sc.Scan(&b.ID, &b.UserID, &b.CategoryID, &b.BudgetLimit, &b.Month, &b.Year, &createdAt, &synced); err != nil {
		return b, err
	}
	b.CreatedAt = parseTime(createdAt.String)
	b.Synced = synced == 1
	return b, nil
}

// Add inserts a budget. A second budget for the same category and month is
// accepted; readers pick the most recent one.
func (r *BudgetRepository) Add(ctx context.Context, b core.Budget) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("add budget: %w", err)
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = nowUTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budgets (id, userId, categoryId, budgetLimit, month, year, createdAt, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		b.ID, b.UserID, b.CategoryID, b.BudgetLimit.String(), b.Month, b.Year, formatTime(b.CreatedAt))
	if err != nil {
		return r.store.fail(ctx, "insert budget", err, applog.FieldID, b.ID)
	}
	return nil
}

func (r *BudgetRepository) Update(ctx context.Context, b core.Budget) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("update budget: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE budgets SET categoryId = ?, budgetLimit = ?, month = ?, year = ?, synced = 0
		WHERE id = ? AND userId = ?`,
		b.CategoryID, b.BudgetLimit.String(), b.Month, b.Year, b.ID, b.UserID)
	if err != nil {
		return r.store.fail(ctx, "update budget", err, applog.FieldID, b.ID)
	}
	return nil
}

func (r *BudgetRepository) GetByID(ctx context.Context, id string) (*core.Budget, error) {
	b, err := queryOne(ctx, r.db, scanBudget,
		`SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id)
	if err != nil {
		return nil, r.store.fail(ctx, "get budget", err, applog.FieldID, id)
	}
	return b, nil
}

func (r *BudgetRepository) GetByUserID(ctx context.Context, userID string) ([]core.Budget, error) {
	out, err := queryList(ctx, r.db, scanBudget,
		`SELECT `+budgetColumns+` FROM budgets WHERE userId = ? ORDER BY year, month, rowid`, userID)
	if err != nil {
		return nil, r.store.fail(ctx, "list budgets", err, applog.FieldUserID, userID)
	}
	return out, nil
}

func (r *BudgetRepository) GetAll(ctx context.Context) ([]core.Budget, error) {
	out, err := queryList(ctx, r.db, scanBudget,
		`SELECT `+budgetColumns+` FROM budgets ORDER BY rowid`)
	if err != nil {
		return nil, r.store.fail(ctx, "list all budgets", err)
	}
	return out, nil
}

// GetForMonth returns the budget of one category for a 0-indexed month, or
// nil. When duplicates exist the most recently created one wins.
func (r *BudgetRepository) GetForMonth(ctx context.Context, userID, categoryID string, month, year int) (*core.Budget, error) {
	b, err := queryOne(ctx, r.db, scanBudget, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE userId = ? AND categoryId = ? AND month = ? AND year = ?
		ORDER BY createdAt DESC, rowid DESC
		LIMIT 1`,
		userID, categoryID, month, year)
	if err != nil {
		return nil, r.store.fail(ctx, "get budget for month", err,
			applog.FieldCategory, categoryID, applog.FieldYear, year, applog.FieldMonth, month)
	}
	return b, nil
}

func (r *BudgetRepository) Delete(ctx context.Context, id, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM budgets WHERE id = ? AND userId = ?`, id, userID)
	if err != nil {
		return r.store.fail(ctx, "delete budget", err, applog.FieldID, id)
	}
	return nil
}
