package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	applog "moneta/internal/log"
)

const transactionColumns = `id, userId, type, categoryId, subCategoryId, COALESCE(amount, 0),
	accountId, date, notes, linkedTransactionId, synced`

const transactionOrder = ` ORDER BY julianday(date) DESC, rowid DESC`

// inWindow compares by julianday so rows written in older date layouts
// still fall inside [start, end].
const inWindow = `julianday(date) >= julianday(?) AND julianday(date) <= julianday(?)`

// Filters taking userID treat "" as unscoped.
const userScope = `(? = '' OR userId = ?)`

type TransactionRepository struct {
	store *Store
	db    DBTX
}

func NewTransactionRepository(s *Store) *TransactionRepository {
	return &TransactionRepository{store: s, db: s.db}
}

func (r *TransactionRepository) WithTx(tx *sql.Tx) *TransactionRepository {
	return &TransactionRepository{store: r.store, db: tx}
}

func scanTransaction(sc scanner) (core.Transaction, error) {
	var (
		t                     core.Transaction
		kind, date            string
		category, subCategory sql.NullString
		notes, linked         sql.NullString
		synced                int
	)
	if err := sc.Scan(&t.ID, &t.UserID, &kind, &category, &subCategory, &t.Amount,
		&t.AccountID, &date, &notes, &linked, &synced); err != nil {
		return t, err
	}
	t.Type = core.TransactionType(kind)
	t.CategoryID = category.String
	t.SubCategoryID = subCategory.String
	t.Date = parseTime(date)
	t.Notes = notes.String
	t.LinkedTransactionID = linked.String
	t.Synced = synced == 1
	return t, nil
}

// Add inserts a transaction as dirty. It does not touch account balances;
// the ledger service pairs it with the balance adjustment.
func (r *TransactionRepository) Add(ctx context.Context, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("add transaction: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, userId, type, categoryId, subCategoryId, amount, accountId, date, notes, linkedTransactionId, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		t.ID, t.UserID, string(t.Type), nullIfEmpty(t.CategoryID), nullIfEmpty(t.SubCategoryID),
		t.Amount.String(), t.AccountID, formatTime(t.Date), nullIfEmpty(t.Notes),
		nullIfEmpty(t.LinkedTransactionID))
	if err != nil {
		return r.store.fail(ctx, "insert transaction", err, applog.FieldID, t.ID)
	}
	return nil
}

func (r *TransactionRepository) Update(ctx context.Context, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET type = ?, categoryId = ?, subCategoryId = ?, amount = ?, accountId = ?,
		    date = ?, notes = ?, linkedTransactionId = ?, synced = 0
		WHERE id = ? AND userId = ?`,
		string(t.Type), nullIfEmpty(t.CategoryID), nullIfEmpty(t.SubCategoryID), t.Amount.String(),
		t.AccountID, formatTime(t.Date), nullIfEmpty(t.Notes), nullIfEmpty(t.LinkedTransactionID),
		t.ID, t.UserID)
	if err != nil {
		return r.store.fail(ctx, "update transaction", err, applog.FieldID, t.ID)
	}
	return nil
}

// SetLink points id at linkedID and marks the row dirty.
func (r *TransactionRepository) SetLink(ctx context.Context, id, linkedID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET linkedTransactionId = ?, synced = 0 WHERE id = ?`,
		nullIfEmpty(linkedID), id)
	if err != nil {
		return r.store.fail(ctx, "link transaction", err, applog.FieldID, id)
	}
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*core.Transaction, error) {
	t, err := queryOne(ctx, r.db, scanTransaction,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		return nil, r.store.fail(ctx, "get transaction", err, applog.FieldID, id)
	}
	return t, nil
}

func (r *TransactionRepository) list(ctx context.Context, op string, where string, args ...any) ([]core.Transaction, error) {
	out, err := queryList(ctx, r.db, scanTransaction,
		`SELECT `+transactionColumns+` FROM transactions`+where+transactionOrder, args...)
	if err != nil {
		return nil, r.store.fail(ctx, op, err)
	}
	return out, nil
}

func (r *TransactionRepository) GetByUserID(ctx context.Context, userID string) ([]core.Transaction, error) {
	return r.list(ctx, "list transactions", ` WHERE userId = ?`, userID)
}

func (r *TransactionRepository) GetAll(ctx context.Context) ([]core.Transaction, error) {
	return r.list(ctx, "list all transactions", ``)
}

func (r *TransactionRepository) GetByCategoryID(ctx context.Context, categoryID string) ([]core.Transaction, error) {
	return r.list(ctx, "list transactions by category", ` WHERE categoryId = ?`, categoryID)
}

func (r *TransactionRepository) GetBySubCategoryID(ctx context.Context, subCategoryID string) ([]core.Transaction, error) {
	return r.list(ctx, "list transactions by subcategory", ` WHERE subCategoryId = ?`, subCategoryID)
}

func (r *TransactionRepository) GetByAccountID(ctx context.Context, accountID string) ([]core.Transaction, error) {
	return r.list(ctx, "list transactions by account", ` WHERE accountId = ?`, accountID)
}

// GetByDateRange returns transactions dated within [start, end] inclusive.
func (r *TransactionRepository) GetByDateRange(ctx context.Context, start, end time.Time, userID string) ([]core.Transaction, error) {
	return r.list(ctx, "list transactions by date",
		` WHERE `+inWindow+` AND `+userScope,
		formatTime(start), formatTime(end), userID, userID)
}

func (r *TransactionRepository) GetByType(ctx context.Context, kind core.TransactionType, userID string) ([]core.Transaction, error) {
	return r.list(ctx, "list transactions by type",
		` WHERE type = ? AND `+userScope, string(kind), userID, userID)
}

// GetLinked returns the transaction itself plus every transaction linking to
// it, which for a transfer is both legs.
func (r *TransactionRepository) GetLinked(ctx context.Context, id string) ([]core.Transaction, error) {
	return r.list(ctx, "list linked transactions",
		` WHERE id = ? OR linkedTransactionId = ?`, id, id)
}

// GetCreditsSince returns credit legs posted to accountID on or after since.
func (r *TransactionRepository) GetCreditsSince(ctx context.Context, accountID string, since time.Time) ([]core.Transaction, error) {
	return r.list(ctx, "list credits since",
		` WHERE accountId = ? AND type = ? AND julianday(date) >= julianday(?)`,
		accountID, string(core.TransactionCredit), formatTime(since))
}

// GetExpensesInRange returns expense rows of one category within [start, end].
func (r *TransactionRepository) GetExpensesInRange(ctx context.Context, categoryID string, start, end time.Time, userID string) ([]core.Transaction, error) {
	return r.list(ctx, "list category expenses",
		` WHERE categoryId = ? AND type = ? AND `+inWindow+` AND `+userScope,
		categoryID, string(core.TransactionExpense), formatTime(start), formatTime(end), userID, userID)
}

// GetCategoryTotals sums amounts per category over [start, end]. Rows without
// a category are grouped under the empty id.
func (r *TransactionRepository) GetCategoryTotals(ctx context.Context, start, end time.Time, userID string) ([]core.CategoryAmount, error) {
	return r.categoryTotals(ctx, "", start, end, userID)
}

// GetCategoryTotalsByType is GetCategoryTotals restricted to one type.
func (r *TransactionRepository) GetCategoryTotalsByType(ctx context.Context, kind core.TransactionType, start, end time.Time, userID string) ([]core.CategoryAmount, error) {
	return r.categoryTotals(ctx, kind, start, end, userID)
}

func (r *TransactionRepository) categoryTotals(ctx context.Context, kind core.TransactionType, start, end time.Time, userID string) ([]core.CategoryAmount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(t.categoryId, ''), COALESCE(c.name, ''), COALESCE(t.amount, 0)
		FROM transactions t
		LEFT JOIN categories c ON c.id = t.categoryId
		WHERE julianday(t.date) >= julianday(?) AND julianday(t.date) <= julianday(?)
		  AND (? = '' OR t.type = ?)
		  AND (? = '' OR t.userId = ?)
		ORDER BY t.rowid`,
		formatTime(start), formatTime(end), string(kind), string(kind), userID, userID)
	if err != nil {
		return nil, r.store.fail(ctx, "category totals", err, applog.FieldUserID, userID)
	}
	defer rows.Close()

	// Summed in Go so amounts stay exact decimals.
	index := map[string]int{}
	out := make([]core.CategoryAmount, 0)
	for rows.Next() {
		var (
			id, name string
			amount   decimal.Decimal
		)
		if err := rows.Scan(&id, &name, &amount); err != nil {
			return nil, r.store.fail(ctx, "scan category totals", err)
		}
		i, ok := index[id]
		if !ok {
			i = len(out)
			index[id] = i
			out = append(out, core.CategoryAmount{CategoryID: id, Name: name})
		}
		out[i].Amount = out[i].Amount.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return nil, r.store.fail(ctx, "category totals", err)
	}
	return out, nil
}

// GetSummary totals income and expense over [start, end]. Transfer legs move
// money between accounts and count as neither.
func (r *TransactionRepository) GetSummary(ctx context.Context, start, end time.Time, userID string) (core.PeriodSummary, error) {
	summary := core.PeriodSummary{Start: start, End: end}

	rows, err := r.db.QueryContext(ctx, `
		SELECT type, COALESCE(amount, 0) FROM transactions
		WHERE `+inWindow+` AND type IN (?, ?) AND `+userScope,
		formatTime(start), formatTime(end),
		string(core.TransactionIncome), string(core.TransactionExpense), userID, userID)
	if err != nil {
		return summary, r.store.fail(ctx, "period summary", err, applog.FieldUserID, userID)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind   string
			amount decimal.Decimal
		)
		if err := rows.Scan(&kind, &amount); err != nil {
			return summary, r.store.fail(ctx, "scan period summary", err)
		}
		if core.TransactionType(kind) == core.TransactionIncome {
			summary.TotalIncome = summary.TotalIncome.Add(amount)
		} else {
			summary.TotalExpense = summary.TotalExpense.Add(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return summary, r.store.fail(ctx, "period summary", err)
	}
	summary.Net = summary.TotalIncome.Sub(summary.TotalExpense)
	return summary, nil
}

// Delete removes one row. A leg still linking to it loses the reference
// through the foreign key and is marked dirty first.
func (r *TransactionRepository) Delete(ctx context.Context, id, userID string) error {
	err := r.store.atomic(ctx, r.db, func(db DBTX) error {
		if _, err := db.ExecContext(ctx,
			`UPDATE transactions SET synced = 0 WHERE linkedTransactionId = ? AND id <> ?`, id, id); err != nil {
			return err
		}
		_, err := db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ? AND userId = ?`, id, userID)
		return err
	})
	if err != nil {
		return r.store.fail(ctx, "delete transaction", err, applog.FieldID, id)
	}
	return nil
}
