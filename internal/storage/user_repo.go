package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"moneta/internal/core"
	applog "moneta/internal/log"
)

const userColumns = `id, userId, COALESCE(firstName, ''), COALESCE(lastName, ''), COALESCE(phoneNumber, ''),
	avatar, dateOfBirth, occupation, createdAt, updatedAt, synced`

// userOwnedTables are cleared child-first when a user is deleted.
var userOwnedTables = []string{
	`DELETE FROM transactions WHERE userId = ?`,
	`DELETE FROM budgets WHERE userId = ?`,
	`DELETE FROM goals WHERE userId = ?`,
	`DELETE FROM subscriptions WHERE userId = ?`,
	`DELETE FROM subcategories WHERE userId = ?`,
	`DELETE FROM categories WHERE userId = ?`,
	`DELETE FROM accounts WHERE userId = ?`,
	`DELETE FROM user_interests WHERE userId = ?`,
	`DELETE FROM users WHERE userId = ?`,
}

type UserRepository struct {
	store *Store
	db    DBTX
}

func NewUserRepository(s *Store) *UserRepository {
	return &UserRepository{store: s, db: s.db}
}

func (r *UserRepository) WithTx(tx *sql.Tx) *UserRepository {
	return &UserRepository{store: r.store, db: tx}
}

func scanUser(sc scanner) (core.User, error) {
	var (
		u                         core.User
		avatar, birth, occupation sql.NullString
		createdAt, updatedAt      sql.NullString
		synced                    int
	)
	if err := sc.Scan(&u.ID, &u.UserID, &u.FirstName, &u.LastName, &u.PhoneNumber,
		&avatar, &birth, &occupation, &createdAt, &updatedAt, &synced); err != nil {
		return u, err
	}
	u.Avatar = stringPtr(avatar)
	u.DateOfBirth = stringPtr(birth)
	u.Occupation = stringPtr(occupation)
	u.CreatedAt = parseTime(createdAt.String)
	u.UpdatedAt = parseTime(updatedAt.String)
	u.Synced = synced == 1
	return u, nil
}

func (r *UserRepository) Add(ctx context.Context, u core.User) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	now := nowUTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = now
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, userId, firstName, lastName, phoneNumber, avatar, dateOfBirth, occupation,
		                   createdAt, updatedAt, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		u.ID, u.UserID, u.FirstName, u.LastName, u.PhoneNumber,
		optionalString(u.Avatar), optionalString(u.DateOfBirth), optionalString(u.Occupation),
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	if err != nil {
		return r.store.fail(ctx, "insert user", err, applog.FieldUserID, u.UserID)
	}
	return nil
}

// Update rewrites the profile fields of the user identified by u.UserID.
func (r *UserRepository) Update(ctx context.Context, u core.User) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET firstName = ?, lastName = ?, phoneNumber = ?, avatar = ?, dateOfBirth = ?, occupation = ?,
		    updatedAt = ?, synced = 0
		WHERE id = ? AND userId = ?`,
		u.FirstName, u.LastName, u.PhoneNumber,
		optionalString(u.Avatar), optionalString(u.DateOfBirth), optionalString(u.Occupation),
		formatTime(nowUTC()), u.ID, u.UserID)
	if err != nil {
		return r.store.fail(ctx, "update user", err, applog.FieldUserID, u.UserID)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*core.User, error) {
	u, err := queryOne(ctx, r.db, scanUser, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, r.store.fail(ctx, "get user", err, applog.FieldID, id)
	}
	return u, nil
}

// GetByUserID looks a user up by the external identity id.
func (r *UserRepository) GetByUserID(ctx context.Context, userID string) (*core.User, error) {
	u, err := queryOne(ctx, r.db, scanUser, `SELECT `+userColumns+` FROM users WHERE userId = ?`, userID)
	if err != nil {
		return nil, r.store.fail(ctx, "get user by user id", err, applog.FieldUserID, userID)
	}
	return u, nil
}

func (r *UserRepository) GetAll(ctx context.Context) ([]core.User, error) {
	out, err := queryList(ctx, r.db, scanUser, `SELECT `+userColumns+` FROM users ORDER BY rowid`)
	if err != nil {
		return nil, r.store.fail(ctx, "list users", err)
	}
	return out, nil
}

// Delete removes the user and every row they own in one transaction.
func (r *UserRepository) Delete(ctx context.Context, userID string) error {
	err := r.store.atomic(ctx, r.db, func(db DBTX) error {
		for _, stmt := range userOwnedTables {
			if _, err := db.ExecContext(ctx, stmt, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return r.store.fail(ctx, "delete user", err, applog.FieldUserID, userID)
	}
	r.store.log.InfoContext(ctx, "Deleted user and owned data",
		applog.FieldOperation, applog.OpDelete,
		applog.FieldUserID, userID)
	return nil
}

// GetFullProfile returns the user with their interests, or nil.
func (r *UserRepository) GetFullProfile(ctx context.Context, userID string) (*core.UserProfile, error) {
	u, err := r.GetByUserID(ctx, userID)
	if err != nil || u == nil {
		return nil, err
	}
	interests, err := (&UserInterestRepository{store: r.store, db: r.db}).GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &core.UserProfile{User: *u, Interests: interests}, nil
}

// UpdateProfile updates the user row and reconciles their interests against
// the supplied list: interests no longer listed are deleted, new ones are
// inserted. All of it commits or none of it does.
func (r *UserRepository) UpdateProfile(ctx context.Context, u core.User, interests []string) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}

	wanted := make(map[string]bool, len(interests))
	ordered := make([]string, 0, len(interests))
	for _, in := range interests {
		in = strings.TrimSpace(in)
		if in == "" || wanted[in] {
			continue
		}
		wanted[in] = true
		ordered = append(ordered, in)
	}

	err := r.store.atomic(ctx, r.db, func(db DBTX) error {
		users := &UserRepository{store: r.store, db: db}
		if err := users.Update(ctx, u); err != nil {
			return err
		}

		existing, err := queryList(ctx, db, scanUserInterest,
			`SELECT `+interestColumns+` FROM user_interests WHERE userId = ?`, u.UserID)
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(existing))
		for _, e := range existing {
			if !wanted[e.Interest] {
				if _, err := db.ExecContext(ctx, `DELETE FROM user_interests WHERE id = ?`, e.ID); err != nil {
					return err
				}
				continue
			}
			have[e.Interest] = true
		}

		for _, in := range ordered {
			if have[in] {
				continue
			}
			if _, err := db.ExecContext(ctx, `
				INSERT INTO user_interests (id, userId, interest, synced) VALUES (?, ?, ?, 0)`,
				core.NewID(), u.UserID, in); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return r.store.fail(ctx, "update profile", err, applog.FieldUserID, u.UserID)
	}
	return nil
}

const interestColumns = `id, userId, interest, synced`

type UserInterestRepository struct {
	store *Store
	db    DBTX
}

func NewUserInterestRepository(s *Store) *UserInterestRepository {
	return &UserInterestRepository{store: s, db: s.db}
}

func (r *UserInterestRepository) WithTx(tx *sql.Tx) *UserInterestRepository {
	return &UserInterestRepository{store: r.store, db: tx}
}

func scanUserInterest(sc scanner) (core.UserInterest, error) {
	var (
		i      core.UserInterest
		synced int
	)
	if err := sc.Scan(&i.ID, &i.UserID, &i.Interest, &synced); err != nil {
		return i, err
	}
	i.Synced = synced == 1
	return i, nil
}

func (r *UserInterestRepository) Add(ctx context.Context, i core.UserInterest) error {
	if err := i.Validate(); err != nil {
		return fmt.Errorf("add interest: %w", err)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_interests (id, userId, interest, synced) VALUES (?, ?, ?, 0)`,
		i.ID, i.UserID, i.Interest)
	if err != nil {
		return r.store.fail(ctx, "insert interest", err, applog.FieldID, i.ID)
	}
	return nil
}

func (r *UserInterestRepository) Update(ctx context.Context, i core.UserInterest) error {
	if err := i.Validate(); err != nil {
		return fmt.Errorf("update interest: %w", err)
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_interests SET interest = ?, synced = 0 WHERE id = ? AND userId = ?`,
		i.Interest, i.ID, i.UserID)
	if err != nil {
		return r.store.fail(ctx, "update interest", err, applog.FieldID, i.ID)
	}
	return nil
}

func (r *UserInterestRepository) GetByID(ctx context.Context, id string) (*core.UserInterest, error) {
	i, err := queryOne(ctx, r.db, scanUserInterest,
		`SELECT `+interestColumns+` FROM user_interests WHERE id = ?`, id)
	if err != nil {
		return nil, r.store.fail(ctx, "get interest", err, applog.FieldID, id)
	}
	return i, nil
}

func (r *UserInterestRepository) GetByUserID(ctx context.Context, userID string) ([]core.UserInterest, error) {
	out, err := queryList(ctx, r.db, scanUserInterest,
		`SELECT `+interestColumns+` FROM user_interests WHERE userId = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, r.store.fail(ctx, "list interests", err, applog.FieldUserID, userID)
	}
	return out, nil
}

func (r *UserInterestRepository) Delete(ctx context.Context, id, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_interests WHERE id = ? AND userId = ?`, id, userID)
	if err != nil {
		return r.store.fail(ctx, "delete interest", err, applog.FieldID, id)
	}
	return nil
}
