package storage

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"moneta/internal/core"
	applog "moneta/internal/log"
)

// Table identifies one synced table. The set is closed: every value maps to
// fixed query text, so no caller-supplied identifier reaches SQL.
type Table int

const (
	TableUsers Table = iota
	TableUserInterests
	TableCategories
	TableSubcategories
	TableAccounts
	TableTransactions
	TableBudgets
	TableSubscriptions
	TableGoals
)

// AllTables lists the synced tables, parents before children.
var AllTables = []Table{
	TableUsers,
	TableUserInterests,
	TableCategories,
	TableSubcategories,
	TableAccounts,
	TableTransactions,
	TableBudgets,
	TableSubscriptions,
	TableGoals,
}

type tableQueries struct {
	name     string
	unsynced string
	byID     string
	mark     string
	count    string
}

var tableSQL = map[Table]tableQueries{
	TableUsers: {
		name:     "users",
		unsynced: `SELECT * FROM users WHERE synced = 0 ORDER BY rowid`,
		byID:     `SELECT * FROM users WHERE id = ?`,
		mark:     `UPDATE users SET synced = 1 WHERE id = ?`,
		count:    `SELECT COUNT(*) FROM users WHERE synced = 0`,
	},
	TableUserInterests: {
		name:     "user_interests",
		unsynced: `SELECT * FROM user_interests WHERE synced = 0 ORDER BY rowid`,
		byID:     `SELECT * FROM user_interests WHERE id = ?`,
		mark:     `UPDATE user_interests SET synced = 1 WHERE id = ?`,
		count:    `SELECT COUNT(*) FROM user_interests WHERE synced = 0`,
	},
	TableCategories: {
		name:     "categories",
		unsynced: `SELECT * FROM categories WHERE synced = 0 ORDER BY rowid`,
		byID:     `SELECT * FROM categories WHERE id = ?`,
		mark:     `UPDATE categories SET synced = 1 WHERE id = ?`,
		count:    `SELECT COUNT(*) FROM categories WHERE synced = 0`,
	},
	TableSubcategories: {
		name:     "subcategories",
		unsynced: `SELECT * FROM subcategories WHERE synced = 0 ORDER BY rowid`,
		byID:     `SELECT * FROM subcategories WHERE id = ?`,
		mark:     `UPDATE subcategories SET synced = 1 WHERE id = ?`,
		count:    `SELECT COUNT(*) FROM subcategories WHERE synced = 0`,
	},
	TableAccounts: {
		name:     "accounts",
		unsynced: `SELECT * FROM accounts WHERE synced = 0 ORDER BY rowid`,
		byID:     `SELECT * FROM accounts WHERE id = ?`,
		mark:     `UPDATE accounts SET synced = 1 WHERE id = ?`,
		count:    `SELECT COUNT(*) FROM accounts WHERE synced = 0`,
	},
	TableTransactions: {
		name:     "transactions",
		unsynced: `SELECT * FROM transactions WHERE synced = 0 ORDER BY rowid`,
		byID:     `SELECT * FROM transactions WHERE id = ?`,
		mark:     `UPDATE transactions SET synced = 1 WHERE id = ?`,
		count:    `SELECT COUNT(*) FROM transactions WHERE synced = 0`,
	},
	TableBudgets: {
		name:     "budgets",
		unsynced: `SELECT * FROM budgets WHERE synced = 0 ORDER BY rowid`,
		byID:     `SELECT * FROM budgets WHERE id = ?`,
		mark:     `UPDATE budgets SET synced = 1 WHERE id = ?`,
		count:    `SELECT COUNT(*) FROM budgets WHERE synced = 0`,
	},
	TableSubscriptions: {
		name:     "subscriptions",
		unsynced: `SELECT * FROM subscriptions WHERE synced = 0 ORDER BY rowid`,
		byID:     `SELECT * FROM subscriptions WHERE id = ?`,
		mark:     `UPDATE subscriptions SET synced = 1 WHERE id = ?`,
		count:    `SELECT COUNT(*) FROM subscriptions WHERE synced = 0`,
	},
	TableGoals: {
		name:     "goals",
		unsynced: `SELECT * FROM goals WHERE synced = 0 ORDER BY rowid`,
		byID:     `SELECT * FROM goals WHERE id = ?`,
		mark:     `UPDATE goals SET synced = 1 WHERE id = ?`,
		count:    `SELECT COUNT(*) FROM goals WHERE synced = 0`,
	},
}

func (t Table) String() string {
	if q, ok := tableSQL[t]; ok {
		return q.name
	}
	return fmt.Sprintf("Table(%d)", int(t))
}

// ParseTable maps a table name back to its Table value.
func ParseTable(name string) (Table, error) {
	for t, q := range tableSQL {
		if q.name == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", core.ErrUnknownTable, name)
}

func (t Table) queries() (tableQueries, error) {
	q, ok := tableSQL[t]
	if !ok {
		return tableQueries{}, fmt.Errorf("%w: %d", core.ErrUnknownTable, int(t))
	}
	return q, nil
}

// Record is one row as column name to stored value. It is the snapshot a sync
// sink uploads and MarkSyncedIfUnchanged later compares against.
type Record map[string]any

// ID returns the row's primary key.
func (r Record) ID() string {
	switch v := r["id"].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

// GetUnsynced returns every dirty row of table in insertion order.
func (s *Store) GetUnsynced(ctx context.Context, table Table) ([]Record, error) {
	q, err := table.queries()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q.unsynced)
	if err != nil {
		return nil, s.fail(ctx, "get unsynced", err, applog.FieldTable, q.name)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, s.fail(ctx, "scan unsynced", err, applog.FieldTable, q.name)
	}
	return records, nil
}

// MarkSynced flips one row's flag to 1. Callers must have just confirmed the
// row's current values were persisted externally.
func (s *Store) MarkSynced(ctx context.Context, table Table, id string) error {
	q, err := table.queries()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q.mark, id); err != nil {
		return s.fail(ctx, "mark synced", err, applog.FieldTable, q.name, applog.FieldID, id)
	}
	return nil
}

// MarkSyncedIfUnchanged marks the row synced only if its stored values still
// equal snapshot. It reports whether the row was marked; a row edited after
// the snapshot was taken stays dirty.
func (s *Store) MarkSyncedIfUnchanged(ctx context.Context, table Table, snapshot Record) (bool, error) {
	q, err := table.queries()
	if err != nil {
		return false, err
	}
	id := snapshot.ID()

	marked := false
	err = s.InTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q.byID, id)
		if err != nil {
			return err
		}
		current, err := scanRecords(rows)
		rows.Close()
		if err != nil {
			return err
		}
		if len(current) == 0 || !sameValues(current[0], snapshot) {
			return nil
		}
		if _, err := tx.ExecContext(ctx, q.mark, id); err != nil {
			return err
		}
		marked = true
		return nil
	})
	if err != nil {
		return false, s.fail(ctx, "mark synced if unchanged", err, applog.FieldTable, q.name, applog.FieldID, id)
	}
	return marked, nil
}

// CountUnsynced returns the number of dirty rows per table.
func (s *Store) CountUnsynced(ctx context.Context) (map[Table]int, error) {
	counts := make(map[Table]int, len(AllTables))
	for _, t := range AllTables {
		q := tableSQL[t]
		var n int
		if err := s.db.QueryRowContext(ctx, q.count).Scan(&n); err != nil {
			return nil, s.fail(ctx, "count unsynced", err, applog.FieldTable, q.name)
		}
		counts[t] = n
	}
	return counts, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				values[i] = string(b)
			}
			rec[c] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// sameValues compares two rows ignoring the synced flag itself.
func sameValues(a, b Record) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		if k == "synced" {
			continue
		}
		bv, ok := b[k]
		if !ok || !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}
