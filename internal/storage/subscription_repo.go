package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"moneta/internal/core"
	applog "moneta/internal/log"
)

const subscriptionColumns = `id, userId, name, COALESCE(amount, 0), categoryId, status, renewalDate, createdAt, synced`

// SubscriptionRepository stores recurring-expense reminders. Subscriptions
// are never turned into ledger transactions.
type SubscriptionRepository struct {
	store *Store
	db    DBTX
}

func NewSubscriptionRepository(s *Store) *SubscriptionRepository {
	return &SubscriptionRepository{store: s, db: s.db}
}

func (r *SubscriptionRepository) WithTx(tx *sql.Tx) *SubscriptionRepository {
	return &SubscriptionRepository{store: r.store, db: tx}
}

func scanSubscription(sc scanner) (core.Subscription, error) {
	var (
		s                  core.Subscription
		category, status   sql.NullString
		renewal, createdAt sql.NullString
		synced             int
	)
	if err := sc.Scan(&s.ID, &s.UserID, &s.Name, &s.Amount, &category, &status, &renewal, &createdAt, &synced); err != nil {
		return s, err
	}
	s.CategoryID = category.String
	s.Status = core.SubscriptionStatus(status.String)
	if s.Status == "" {
		s.Status = core.SubscriptionActive
	}
	s.RenewalDate = parseTime(renewal.String)
	s.CreatedAt = parseTime(createdAt.String)
	s.Synced = synced == 1
	return s, nil
}

func (r *SubscriptionRepository) Add(ctx context.Context, s core.Subscription) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("add subscription: %w", err)
	}
	if s.Status == "" {
		s.Status = core.SubscriptionActive
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = nowUTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, userId, name, amount, categoryId, status, renewalDate, createdAt, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		s.ID, s.UserID, s.Name, s.Amount.String(), nullIfEmpty(s.CategoryID), string(s.Status),
		formatOptionalTime(s.RenewalDate), formatTime(s.CreatedAt))
	if err != nil {
		return r.store.fail(ctx, "insert subscription", err, applog.FieldID, s.ID)
	}
	return nil
}

func (r *SubscriptionRepository) Update(ctx context.Context, s core.Subscription) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if s.Status == "" {
		s.Status = core.SubscriptionActive
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET name = ?, amount = ?, categoryId = ?, status = ?, renewalDate = ?, synced = 0
		WHERE id = ? AND userId = ?`,
		s.Name, s.Amount.String(), nullIfEmpty(s.CategoryID), string(s.Status),
		formatOptionalTime(s.RenewalDate), s.ID, s.UserID)
	if err != nil {
		return r.store.fail(ctx, "update subscription", err, applog.FieldID, s.ID)
	}
	return nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (*core.Subscription, error) {
	s, err := queryOne(ctx, r.db, scanSubscription,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return nil, r.store.fail(ctx, "get subscription", err, applog.FieldID, id)
	}
	return s, nil
}

func (r *SubscriptionRepository) GetByUserID(ctx context.Context, userID string) ([]core.Subscription, error) {
	out, err := queryList(ctx, r.db, scanSubscription,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE userId = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, r.store.fail(ctx, "list subscriptions", err, applog.FieldUserID, userID)
	}
	return out, nil
}

func (r *SubscriptionRepository) GetAll(ctx context.Context) ([]core.Subscription, error) {
	out, err := queryList(ctx, r.db, scanSubscription,
		`SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY rowid`)
	if err != nil {
		return nil, r.store.fail(ctx, "list all subscriptions", err)
	}
	return out, nil
}

func (r *SubscriptionRepository) GetActive(ctx context.Context, userID string) ([]core.Subscription, error) {
	out, err := queryList(ctx, r.db, scanSubscription,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE userId = ? AND COALESCE(status, 'active') = ? ORDER BY rowid`,
		userID, string(core.SubscriptionActive))
	if err != nil {
		return nil, r.store.fail(ctx, "list active subscriptions", err, applog.FieldUserID, userID)
	}
	return out, nil
}

// GetRenewingBetween returns active subscriptions renewing within [from, to],
// soonest first.
func (r *SubscriptionRepository) GetRenewingBetween(ctx context.Context, userID string, from, to time.Time) ([]core.Subscription, error) {
	out, err := queryList(ctx, r.db, scanSubscription,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE userId = ? AND COALESCE(status, 'active') = ?
		  AND julianday(renewalDate) >= julianday(?) AND julianday(renewalDate) <= julianday(?)
		ORDER BY julianday(renewalDate), rowid`,
		userID, string(core.SubscriptionActive), formatTime(from), formatTime(to))
	if err != nil {
		return nil, r.store.fail(ctx, "list renewing subscriptions", err, applog.FieldUserID, userID)
	}
	return out, nil
}

func (r *SubscriptionRepository) Delete(ctx context.Context, id, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ? AND userId = ?`, id, userID)
	if err != nil {
		return r.store.fail(ctx, "delete subscription", err, applog.FieldID, id)
	}
	return nil
}
