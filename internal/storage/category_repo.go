package storage

import (
	"context"
	"database/sql"
	"fmt"

	"moneta/internal/core"
	applog "moneta/internal/log"
)

const categoryColumns = `id, userId, name, type, icon, color, createdAt, synced`

type CategoryRepository struct {
	store *Store
	db    DBTX
}

func NewCategoryRepository(s *Store) *CategoryRepository {
	return &CategoryRepository{store: s, db: s.db}
}

func (r *CategoryRepository) WithTx(tx *sql.Tx) *CategoryRepository {
	return &CategoryRepository{store: r.store, db: tx}
}

func scanCategory(sc scanner) (core.Category, error) {
	var (
		c                   core.Category
		kind                string
		icon, color, create sql.NullString
		synced              int
	)
	if err := sc.Scan(&c.ID, &c.UserID, &c.Name, &kind, &icon, &color, &create, &synced); err != nil {
		return c, err
	}
	c.Type = core.CategoryType(kind)
	c.Icon = icon.String
	c.Color = color.String
	c.CreatedAt = parseTime(create.String)
	c.Synced = synced == 1
	return c, nil
}

func (r *CategoryRepository) Add(ctx context.Context, c core.Category) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("add category: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = nowUTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO categories (id, userId, name, type, icon, color, createdAt, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		c.ID, c.UserID, c.Name, string(c.Type), nullIfEmpty(c.Icon), nullIfEmpty(c.Color),
		formatTime(c.CreatedAt))
	if err != nil {
		return r.store.fail(ctx, "insert category", err, applog.FieldID, c.ID)
	}
	return nil
}

func (r *CategoryRepository) Update(ctx context.Context, c core.Category) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE categories SET name = ?, type = ?, icon = ?, color = ?, synced = 0
		WHERE id = ? AND userId = ?`,
		c.Name, string(c.Type), nullIfEmpty(c.Icon), nullIfEmpty(c.Color), c.ID, c.UserID)
	if err != nil {
		return r.store.fail(ctx, "update category", err, applog.FieldID, c.ID)
	}
	return nil
}

func (r *CategoryRepository) GetByID(ctx context.Context, id string) (*core.Category, error) {
	c, err := queryOne(ctx, r.db, scanCategory,
		`SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id)
	if err != nil {
		return nil, r.store.fail(ctx, "get category", err, applog.FieldID, id)
	}
	return c, nil
}

func (r *CategoryRepository) GetByUserID(ctx context.Context, userID string) ([]core.Category, error) {
	out, err := queryList(ctx, r.db, scanCategory,
		`SELECT `+categoryColumns+` FROM categories WHERE userId = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, r.store.fail(ctx, "list categories", err, applog.FieldUserID, userID)
	}
	return out, nil
}

func (r *CategoryRepository) GetAll(ctx context.Context) ([]core.Category, error) {
	out, err := queryList(ctx, r.db, scanCategory,
		`SELECT `+categoryColumns+` FROM categories ORDER BY rowid`)
	if err != nil {
		return nil, r.store.fail(ctx, "list all categories", err)
	}
	return out, nil
}

func (r *CategoryRepository) GetByType(ctx context.Context, kind core.CategoryType, userID string) ([]core.Category, error) {
	out, err := queryList(ctx, r.db, scanCategory,
		`SELECT `+categoryColumns+` FROM categories WHERE type = ? AND userId = ? ORDER BY rowid`,
		string(kind), userID)
	if err != nil {
		return nil, r.store.fail(ctx, "list categories by type", err, applog.FieldUserID, userID)
	}
	return out, nil
}

// GetWithSubcategories attaches each category's subcategories with one query
// per category.
func (r *CategoryRepository) GetWithSubcategories(ctx context.Context, userID string) ([]core.CategoryWithSubcategories, error) {
	cats, err := r.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	subs := &SubcategoryRepository{store: r.store, db: r.db}
	out := make([]core.CategoryWithSubcategories, 0, len(cats))
	for _, c := range cats {
		children, err := subs.GetByParent(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, core.CategoryWithSubcategories{Category: c, Subcategories: children})
	}
	return out, nil
}

// MoveTransactions re-points every transaction of fromID to toID and returns
// how many rows moved.
func (r *CategoryRepository) MoveTransactions(ctx context.Context, fromID, toID, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET categoryId = ?, synced = 0
		WHERE categoryId = ? AND userId = ?`,
		toID, fromID, userID)
	if err != nil {
		return 0, r.store.fail(ctx, "move transactions", err, applog.FieldCategory, fromID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, r.store.fail(ctx, "move transactions", err, applog.FieldCategory, fromID)
	}
	return n, nil
}

// Rows whose references the foreign keys will null out. They are marked dirty
// before the delete so the cleared columns get uploaded.
const (
	dirtyCategorySubRefs = `
		UPDATE transactions SET synced = 0
		WHERE subCategoryId IN (SELECT id FROM subcategories WHERE parentCategoryId = ?)`
	dirtySubcategoryRefs = `UPDATE transactions SET synced = 0 WHERE subCategoryId = ?`
)

// Delete removes the category and its subcategories together.
func (r *CategoryRepository) Delete(ctx context.Context, id, userID string) error {
	err := r.store.atomic(ctx, r.db, func(db DBTX) error {
		if _, err := db.ExecContext(ctx, dirtyCategorySubRefs, id); err != nil {
			return err
		}
		for _, q := range []string{
			`UPDATE transactions SET synced = 0 WHERE categoryId = ?`,
			`UPDATE subscriptions SET synced = 0 WHERE categoryId = ?`,
		} {
			if _, err := db.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		if _, err := db.ExecContext(ctx,
			`DELETE FROM subcategories WHERE parentCategoryId = ? AND userId = ?`, id, userID); err != nil {
			return err
		}
		_, err := db.ExecContext(ctx, `DELETE FROM categories WHERE id = ? AND userId = ?`, id, userID)
		return err
	})
	if err != nil {
		return r.store.fail(ctx, "delete category", err, applog.FieldID, id)
	}
	return nil
}

const subcategoryColumns = `id, userId, name, type, color, parentCategoryId, createdAt, synced`

type SubcategoryRepository struct {
	store *Store
	db    DBTX
}

func NewSubcategoryRepository(s *Store) *SubcategoryRepository {
	return &SubcategoryRepository{store: s, db: s.db}
}

func (r *SubcategoryRepository) WithTx(tx *sql.Tx) *SubcategoryRepository {
	return &SubcategoryRepository{store: r.store, db: tx}
}

func scanSubcategory(sc scanner) (core.Subcategory, error) {
	var (
		s                   core.Subcategory
		kind, color, create sql.NullString
		synced              int
	)
	if err := sc.Scan(&s.ID, &s.UserID, &s.Name, &kind, &color, &s.ParentCategoryID, &create, &synced); err != nil {
		return s, err
	}
	s.Type = core.CategoryType(kind.String)
	s.Color = color.String
	s.CreatedAt = parseTime(create.String)
	s.Synced = synced == 1
	return s, nil
}

func (r *SubcategoryRepository) Add(ctx context.Context, s core.Subcategory) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("add subcategory: %w", err)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = nowUTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subcategories (id, userId, name, type, color, parentCategoryId, createdAt, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		s.ID, s.UserID, s.Name, nullIfEmpty(string(s.Type)), nullIfEmpty(s.Color),
		s.ParentCategoryID, formatTime(s.CreatedAt))
	if err != nil {
		return r.store.fail(ctx, "insert subcategory", err, applog.FieldID, s.ID)
	}
	return nil
}

func (r *SubcategoryRepository) Update(ctx context.Context, s core.Subcategory) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("update subcategory: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE subcategories SET name = ?, type = ?, color = ?, parentCategoryId = ?, synced = 0
		WHERE id = ? AND userId = ?`,
		s.Name, nullIfEmpty(string(s.Type)), nullIfEmpty(s.Color), s.ParentCategoryID, s.ID, s.UserID)
	if err != nil {
		return r.store.fail(ctx, "update subcategory", err, applog.FieldID, s.ID)
	}
	return nil
}

func (r *SubcategoryRepository) GetByID(ctx context.Context, id string) (*core.Subcategory, error) {
	s, err := queryOne(ctx, r.db, scanSubcategory,
		`SELECT `+subcategoryColumns+` FROM subcategories WHERE id = ?`, id)
	if err != nil {
		return nil, r.store.fail(ctx, "get subcategory", err, applog.FieldID, id)
	}
	return s, nil
}

func (r *SubcategoryRepository) GetByUserID(ctx context.Context, userID string) ([]core.Subcategory, error) {
	out, err := queryList(ctx, r.db, scanSubcategory,
		`SELECT `+subcategoryColumns+` FROM subcategories WHERE userId = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, r.store.fail(ctx, "list subcategories", err, applog.FieldUserID, userID)
	}
	return out, nil
}

func (r *SubcategoryRepository) GetAll(ctx context.Context) ([]core.Subcategory, error) {
	out, err := queryList(ctx, r.db, scanSubcategory,
		`SELECT `+subcategoryColumns+` FROM subcategories ORDER BY rowid`)
	if err != nil {
		return nil, r.store.fail(ctx, "list all subcategories", err)
	}
	return out, nil
}

func (r *SubcategoryRepository) GetByParent(ctx context.Context, parentCategoryID string) ([]core.Subcategory, error) {
	out, err := queryList(ctx, r.db, scanSubcategory,
		`SELECT `+subcategoryColumns+` FROM subcategories WHERE parentCategoryId = ? ORDER BY rowid`,
		parentCategoryID)
	if err != nil {
		return nil, r.store.fail(ctx, "list subcategories by parent", err, applog.FieldCategory, parentCategoryID)
	}
	return out, nil
}

func (r *SubcategoryRepository) Delete(ctx context.Context, id, userID string) error {
	err := r.store.atomic(ctx, r.db, func(db DBTX) error {
		if _, err := db.ExecContext(ctx, dirtySubcategoryRefs, id); err != nil {
			return err
		}
		_, err := db.ExecContext(ctx, `DELETE FROM subcategories WHERE id = ? AND userId = ?`, id, userID)
		return err
	})
	if err != nil {
		return r.store.fail(ctx, "delete subcategory", err, applog.FieldID, id)
	}
	return nil
}
