package storage

import (
	"context"
	"database/sql"

	"moneta/internal/core"
	applog "moneta/internal/log"
)

type seedSubcategory struct {
	slug, name string
}

type seedCategory struct {
	slug, name  string
	kind        core.CategoryType
	icon, color string
	subs        []seedSubcategory
}

var defaultCategories = []seedCategory{
	{slug: "food", name: "Food", kind: core.CategoryExpense, icon: "utensils", color: "#F97316",
		subs: []seedSubcategory{{"groceries", "Groceries"}, {"restaurants", "Restaurants"}, {"coffee", "Coffee"}}},
	{slug: "transport", name: "Transport", kind: core.CategoryExpense, icon: "car", color: "#3B82F6",
		subs: []seedSubcategory{{"fuel", "Fuel"}, {"public_transport", "Public transport"}, {"taxi", "Taxi"}}},
	{slug: "housing", name: "Housing", kind: core.CategoryExpense, icon: "home", color: "#8B5CF6",
		subs: []seedSubcategory{{"rent", "Rent"}, {"utilities", "Utilities"}, {"maintenance", "Maintenance"}}},
	{slug: "health", name: "Health", kind: core.CategoryExpense, icon: "heart", color: "#EF4444",
		subs: []seedSubcategory{{"pharmacy", "Pharmacy"}, {"doctor", "Doctor"}}},
	{slug: "entertainment", name: "Entertainment", kind: core.CategoryExpense, icon: "film", color: "#EC4899",
		subs: []seedSubcategory{{"streaming", "Streaming"}, {"events", "Events"}}},
	{slug: "shopping", name: "Shopping", kind: core.CategoryExpense, icon: "bag", color: "#14B8A6",
		subs: []seedSubcategory{{"clothing", "Clothing"}, {"electronics", "Electronics"}}},
	{slug: "salary", name: "Salary", kind: core.CategoryIncome, icon: "briefcase", color: "#22C55E"},
	{slug: "freelance", name: "Freelance", kind: core.CategoryIncome, icon: "laptop", color: "#84CC16"},
	{slug: "gifts", name: "Gifts", kind: core.CategoryIncome, icon: "gift", color: "#EAB308"},
	{slug: "transfer", name: "Transfer", kind: core.CategoryTransfer, icon: "repeat", color: "#64748B"},
}

// DefaultCategoryID returns the fixed id a seeded category gets for userID.
func DefaultCategoryID(userID, slug string) string {
	return userID + "_cat_" + slug
}

// DefaultSubcategoryID returns the fixed id a seeded subcategory gets for userID.
func DefaultSubcategoryID(userID, slug string) string {
	return userID + "_sub_" + slug
}

// SeedDefaults inserts the starter categories and subcategories for userID on
// first run. It reports whether anything was seeded; once the initialization
// marker is set it does nothing. Rows are inserted with INSERT OR IGNORE so a
// partially seeded database never gets duplicates.
func (s *Store) SeedDefaults(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, core.ErrInvalidInput
	}

	seeded := false
	err := s.InTx(ctx, func(tx *sql.Tx) error {
		var initialized int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(initialized), 0) FROM app_initialization`).Scan(&initialized)
		if err != nil {
			return err
		}
		if initialized == 1 {
			return nil
		}

		now := formatTime(nowUTC())
		for _, c := range defaultCategories {
			catID := DefaultCategoryID(userID, c.slug)
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO categories (id, userId, name, type, icon, color, createdAt, synced)
				VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
				catID, userID, c.name, string(c.kind), c.icon, c.color, now); err != nil {
				return err
			}
			for _, sub := range c.subs {
				if _, err := tx.ExecContext(ctx, `
					INSERT OR IGNORE INTO subcategories (id, userId, name, type, color, parentCategoryId, createdAt, synced)
					VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
					DefaultSubcategoryID(userID, sub.slug), userID, sub.name, string(c.kind),
					c.color, catID, now); err != nil {
					return err
				}
			}
		}

		// Single-row sentinel.
		if _, err := tx.ExecContext(ctx, `DELETE FROM app_initialization`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO app_initialization (initialized) VALUES (1)`); err != nil {
			return err
		}
		seeded = true
		return nil
	})
	if err != nil {
		return false, s.fail(ctx, "seed defaults", err, applog.FieldUserID, userID)
	}

	if seeded {
		s.log.InfoContext(ctx, "Seeded default categories",
			applog.FieldOperation, applog.OpSeed,
			applog.FieldUserID, userID,
			applog.FieldCount, len(defaultCategories))
	}
	return seeded, nil
}
