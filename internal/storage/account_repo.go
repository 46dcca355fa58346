package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	applog "moneta/internal/log"
)

const accountColumns = `id, userId, name, COALESCE(balance, 0), icon, createdAt, updatedAt, synced`

type AccountRepository struct {
	store *Store
	db    DBTX
}

func NewAccountRepository(s *Store) *AccountRepository {
	return &AccountRepository{store: s, db: s.db}
}

// WithTx returns a copy of the repository bound to tx.
func (r *AccountRepository) WithTx(tx *sql.Tx) *AccountRepository {
	return &AccountRepository{store: r.store, db: tx}
}

func scanAccount(sc scanner) (core.Account, error) {
	var (
		a                    core.Account
		icon                 sql.NullString
		createdAt, updatedAt sql.NullString
		synced               int
	)
	if err := sc.Scan(&a.ID, &a.UserID, &a.Name, &a.Balance, &icon, &createdAt, &updatedAt, &synced); err != nil {
		return a, err
	}
	a.Icon = icon.String
	a.CreatedAt = parseTime(createdAt.String)
	a.UpdatedAt = parseTime(updatedAt.String)
	a.Synced = synced == 1
	return a, nil
}

// Add inserts a new account as dirty.
func (r *AccountRepository) Add(ctx context.Context, a core.Account) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("add account: %w", err)
	}
	now := nowUTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, userId, name, balance, icon, createdAt, updatedAt, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		a.ID, a.UserID, a.Name, a.Balance.String(), nullIfEmpty(a.Icon),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return r.store.fail(ctx, "insert account", err, applog.FieldID, a.ID)
	}
	return nil
}

// Update rewrites the account row owned by a.UserID. No matching row is not
// an error.
func (r *AccountRepository) Update(ctx context.Context, a core.Account) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET name = ?, balance = ?, icon = ?, updatedAt = ?, synced = 0
		WHERE id = ? AND userId = ?`,
		a.Name, a.Balance.String(), nullIfEmpty(a.Icon), formatTime(nowUTC()), a.ID, a.UserID)
	if err != nil {
		return r.store.fail(ctx, "update account", err, applog.FieldID, a.ID)
	}
	return nil
}

// GetByID returns nil when the account does not exist.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*core.Account, error) {
	a, err := queryOne(ctx, r.db, scanAccount,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	if err != nil {
		return nil, r.store.fail(ctx, "get account", err, applog.FieldID, id)
	}
	return a, nil
}

func (r *AccountRepository) GetByUserID(ctx context.Context, userID string) ([]core.Account, error) {
	out, err := queryList(ctx, r.db, scanAccount,
		`SELECT `+accountColumns+` FROM accounts WHERE userId = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, r.store.fail(ctx, "list accounts", err, applog.FieldUserID, userID)
	}
	return out, nil
}

// GetAll is unscoped; it backs export and diagnostics.
func (r *AccountRepository) GetAll(ctx context.Context) ([]core.Account, error) {
	out, err := queryList(ctx, r.db, scanAccount,
		`SELECT `+accountColumns+` FROM accounts ORDER BY rowid`)
	if err != nil {
		return nil, r.store.fail(ctx, "list all accounts", err)
	}
	return out, nil
}

// Delete removes the account; its transactions and goals go with it through
// the foreign keys.
func (r *AccountRepository) Delete(ctx context.Context, id, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ? AND userId = ?`, id, userID)
	if err != nil {
		return r.store.fail(ctx, "delete account", err, applog.FieldID, id)
	}
	return nil
}

// AdjustBalance adds delta to the stored balance and marks the row dirty.
// Run it on a repository bound to the same transaction as the ledger write
// it accompanies.
func (r *AccountRepository) AdjustBalance(ctx context.Context, id, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var current decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(balance, 0) FROM accounts WHERE id = ? AND userId = ?`, id, userID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("adjust balance of account %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, r.store.fail(ctx, "read balance", err, applog.FieldAccountID, id)
	}

	next := current.Add(delta)
	_, err = r.db.ExecContext(ctx, `
		UPDATE accounts SET balance = ?, updatedAt = ?, synced = 0
		WHERE id = ? AND userId = ?`,
		next.String(), formatTime(nowUTC()), id, userID)
	if err != nil {
		return decimal.Zero, r.store.fail(ctx, "write balance", err, applog.FieldAccountID, id)
	}
	return next, nil
}
