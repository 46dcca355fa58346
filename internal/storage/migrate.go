package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"moneta/internal/core"
	applog "moneta/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// columnStep adds one column when it is absent. backfill, when set, runs in
// the same transaction right after the column is added.
type columnStep struct {
	table      string
	column     string
	definition string
	backfill   func(ctx context.Context, tx DBTX) error
}

// columnSteps lists every column added after the first released schema.
// Each step is independent, so they can be applied to any historical version.
var columnSteps = []columnStep{
	{table: "users", column: "avatar", definition: "TEXT"},
	{table: "users", column: "dateOfBirth", definition: "TEXT"},
	{table: "users", column: "occupation", definition: "TEXT"},
	{table: "users", column: "updatedAt", definition: "TEXT"},
	{table: "users", column: "synced", definition: "INTEGER NOT NULL DEFAULT 0"},
	{table: "user_interests", column: "synced", definition: "INTEGER NOT NULL DEFAULT 0"},
	{table: "categories", column: "icon", definition: "TEXT"},
	{table: "categories", column: "color", definition: "TEXT"},
	{table: "categories", column: "createdAt", definition: "TEXT"},
	{table: "categories", column: "synced", definition: "INTEGER NOT NULL DEFAULT 0"},
	{table: "subcategories", column: "type", definition: "TEXT"},
	{table: "subcategories", column: "color", definition: "TEXT"},
	{table: "subcategories", column: "createdAt", definition: "TEXT"},
	{table: "subcategories", column: "synced", definition: "INTEGER NOT NULL DEFAULT 0"},
	{table: "accounts", column: "icon", definition: "TEXT"},
	{table: "accounts", column: "updatedAt", definition: "TEXT"},
	{table: "accounts", column: "synced", definition: "INTEGER NOT NULL DEFAULT 0"},
	{table: "transactions", column: "subCategoryId", definition: "TEXT REFERENCES subcategories(id) ON DELETE SET NULL"},
	{table: "transactions", column: "notes", definition: "TEXT"},
	{table: "transactions", column: "synced", definition: "INTEGER NOT NULL DEFAULT 0"},
	{table: "budgets", column: "budgetLimit", definition: "TEXT NOT NULL DEFAULT '0'", backfill: backfillBudgetLimit},
	{table: "budgets", column: "createdAt", definition: "TEXT"},
	{table: "budgets", column: "synced", definition: "INTEGER NOT NULL DEFAULT 0"},
	{table: "subscriptions", column: "status", definition: "TEXT NOT NULL DEFAULT 'active'"},
	{table: "subscriptions", column: "renewalDate", definition: "TEXT"},
	{table: "subscriptions", column: "createdAt", definition: "TEXT"},
	{table: "subscriptions", column: "synced", definition: "INTEGER NOT NULL DEFAULT 0"},
	{table: "goals", column: "emoji", definition: "TEXT"},
	{table: "goals", column: "includeBalance", definition: "INTEGER NOT NULL DEFAULT 0"},
	{table: "goals", column: "monthlyContribution", definition: "TEXT NOT NULL DEFAULT '0'"},
	{table: "goals", column: "createdAt", definition: "TEXT"},
	{table: "goals", column: "synced", definition: "INTEGER NOT NULL DEFAULT 0"},
}

var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(userId, date)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(accountId)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_category ON transactions(categoryId)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_linked ON transactions(linkedTransactionId)`,
	`CREATE INDEX IF NOT EXISTS idx_budgets_user_period ON budgets(userId, year, month)`,
	`CREATE INDEX IF NOT EXISTS idx_categories_user ON categories(userId)`,
	`CREATE INDEX IF NOT EXISTS idx_subcategories_parent ON subcategories(parentCategoryId)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(userId)`,
	`CREATE INDEX IF NOT EXISTS idx_goals_user ON goals(userId)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(userId)`,
	`CREATE INDEX IF NOT EXISTS idx_user_interests_user ON user_interests(userId)`,
}

// EnsureSchema brings the database up to the current schema. It is safe to
// call on every start: tables are created with IF NOT EXISTS, every column
// step checks table metadata first, and the transfer split is guarded by the
// presence of its own column.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := runBaseMigrations(s.path); err != nil {
		return err
	}

	for _, step := range columnSteps {
		if err := s.applyColumnStep(ctx, step); err != nil {
			return fmt.Errorf("add column %s.%s: %w", step.table, step.column, err)
		}
	}

	if err := s.splitLegacyTransfers(ctx); err != nil {
		return fmt.Errorf("split legacy transfers: %w", err)
	}

	for _, stmt := range indexStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	s.log.InfoContext(ctx, "Schema is up to date", "path", s.path)
	return nil
}

func runBaseMigrations(dbPath string) error {
	// Separate connection so closing the migrate instance leaves the store's handle open.
	migrateDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := sqlite.WithInstance(migrateDB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// SchemaVersion reports the applied base migration version.
func (s *Store) SchemaVersion(ctx context.Context) (uint, error) {
	var version uint
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM schema_migrations LIMIT 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, s.fail(ctx, "read schema version", err)
	}
	return version, nil
}

func (s *Store) applyColumnStep(ctx context.Context, step columnStep) error {
	present, err := columnExists(ctx, s.db, step.table, step.column)
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	return s.InTx(ctx, func(tx *sql.Tx) error {
		// Identifiers come from the static step list, never from input.
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", step.table, step.column, step.definition)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
		if step.backfill != nil {
			if err := step.backfill(ctx, tx); err != nil {
				return err
			}
		}
		s.log.InfoContext(ctx, "Added column",
			applog.FieldOperation, applog.OpMigrate,
			applog.FieldTable, step.table,
			"column", step.column)
		return nil
	})
}

// backfillBudgetLimit copies the pre-budgetLimit amount column when a legacy
// budgets table still carries one.
func backfillBudgetLimit(ctx context.Context, tx DBTX) error {
	legacy, err := columnExists(ctx, tx, "budgets", "amount")
	if err != nil || !legacy {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE budgets SET budgetLimit = amount, synced = 0 WHERE amount IS NOT NULL`)
	return err
}

type legacyTransfer struct {
	id, userID             string
	categoryID             any
	amount, date, notes    any
	fromAccount, toAccount string
}

// splitLegacyTransfers converts single-row transfers (transferFrom/transferTo
// on one row) into a linked debit and credit pair. The original row becomes
// the debit leg; the credit leg gets a new id. Adding linkedTransactionId is
// part of the same transaction, so the split runs at most once.
func (s *Store) splitLegacyTransfers(ctx context.Context) error {
	present, err := columnExists(ctx, s.db, "transactions", "linkedTransactionId")
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	return s.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`ALTER TABLE transactions ADD COLUMN linkedTransactionId TEXT REFERENCES transactions(id) ON DELETE SET NULL`); err != nil {
			return err
		}

		hasFrom, err := columnExists(ctx, tx, "transactions", "transferFrom")
		if err != nil {
			return err
		}
		hasTo, err := columnExists(ctx, tx, "transactions", "transferTo")
		if err != nil {
			return err
		}
		if !hasFrom || !hasTo {
			return nil
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT id, userId, categoryId, amount, date, notes, transferFrom, transferTo
			FROM transactions
			WHERE transferFrom IS NOT NULL AND transferFrom != ''
			  AND transferTo IS NOT NULL AND transferTo != ''`)
		if err != nil {
			return err
		}
		var legacy []legacyTransfer
		for rows.Next() {
			var lt legacyTransfer
			if err := rows.Scan(&lt.id, &lt.userID, &lt.categoryID, &lt.amount, &lt.date, &lt.notes,
				&lt.fromAccount, &lt.toAccount); err != nil {
				rows.Close()
				return err
			}
			legacy = append(legacy, lt)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, lt := range legacy {
			creditID := core.NewID()
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO transactions (id, userId, type, categoryId, amount, accountId, date, notes, linkedTransactionId, synced)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
				creditID, lt.userID, string(core.TransactionCredit), lt.categoryID,
				lt.amount, lt.toAccount, lt.date, lt.notes, lt.id); err != nil {
				return fmt.Errorf("insert credit leg for %s: %w", lt.id, err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE transactions
				SET type = ?, accountId = ?, linkedTransactionId = ?,
				    transferFrom = NULL, transferTo = NULL, synced = 0
				WHERE id = ?`,
				string(core.TransactionDebit), lt.fromAccount, creditID, lt.id); err != nil {
				return fmt.Errorf("convert debit leg %s: %w", lt.id, err)
			}
		}

		s.log.InfoContext(ctx, "Split legacy transfers into linked legs",
			applog.FieldOperation, applog.OpMigrate,
			applog.FieldCount, len(legacy))
		return nil
	})
}

func columnExists(ctx context.Context, db DBTX, table, column string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspect %s columns: %w", table, err)
	}
	return n > 0, nil
}
