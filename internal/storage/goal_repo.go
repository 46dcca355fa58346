package storage

import (
	"context"
	"database/sql"
	"fmt"

	"moneta/internal/core"
	applog "moneta/internal/log"
)

const goalColumns = `id, userId, title, emoji, COALESCE(targetAmount, 0), targetDate, accountId,
	COALESCE(includeBalance, 0), COALESCE(monthlyContribution, 0), createdAt, synced`

type GoalRepository struct {
	store *Store
	db    DBTX
}

func NewGoalRepository(s *Store) *GoalRepository {
	return &GoalRepository{store: s, db: s.db}
}

func (r *GoalRepository) WithTx(tx *sql.Tx) *GoalRepository {
	return &GoalRepository{store: r.store, db: tx}
}

func scanGoal(sc scanner) (core.Goal, error) {
	var (
		g                            core.Goal
		emoji, targetDate, createdAt sql.NullString
		includeBalance, synced       int
	)
	if err := sc.Scan(&g.ID, &g.UserID, &g.Title, &emoji, &g.TargetAmount, &targetDate, &g.AccountID,
		&includeBalance, &g.MonthlyContribution, &createdAt, &synced); err != nil {
		return g, err
	}
	g.Emoji = emoji.String
	g.TargetDate = parseTime(targetDate.String)
	g.IncludeBalance = includeBalance == 1
	g.CreatedAt = parseTime(createdAt.String)
	g.Synced = synced == 1
	return g, nil
}

func (r *GoalRepository) Add(ctx context.Context, g core.Goal) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("add goal: %w", err)
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = nowUTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO goals (id, userId, title, emoji, targetAmount, targetDate, accountId,
		                   includeBalance, monthlyContribution, createdAt, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		g.ID, g.UserID, g.Title, nullIfEmpty(g.Emoji), g.TargetAmount.String(), formatTime(g.TargetDate),
		g.AccountID, boolToInt(g.IncludeBalance), g.MonthlyContribution.String(), formatTime(g.CreatedAt))
	if err != nil {
		return r.store.fail(ctx, "insert goal", err, applog.FieldID, g.ID)
	}
	return nil
}

func (r *GoalRepository) Update(ctx context.Context, g core.Goal) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("update goal: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE goals
		SET title = ?, emoji = ?, targetAmount = ?, targetDate = ?, accountId = ?,
		    includeBalance = ?, monthlyContribution = ?, synced = 0
		WHERE id = ? AND userId = ?`,
		g.Title, nullIfEmpty(g.Emoji), g.TargetAmount.String(), formatTime(g.TargetDate), g.AccountID,
		boolToInt(g.IncludeBalance), g.MonthlyContribution.String(), g.ID, g.UserID)
	if err != nil {
		return r.store.fail(ctx, "update goal", err, applog.FieldID, g.ID)
	}
	return nil
}

func (r *GoalRepository) GetByID(ctx context.Context, id string) (*core.Goal, error) {
	g, err := queryOne(ctx, r.db, scanGoal,
		`SELECT `+goalColumns+` FROM goals WHERE id = ?`, id)
	if err != nil {
		return nil, r.store.fail(ctx, "get goal", err, applog.FieldID, id)
	}
	return g, nil
}

func (r *GoalRepository) GetByUserID(ctx context.Context, userID string) ([]core.Goal, error) {
	out, err := queryList(ctx, r.db, scanGoal,
		`SELECT `+goalColumns+` FROM goals WHERE userId = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, r.store.fail(ctx, "list goals", err, applog.FieldUserID, userID)
	}
	return out, nil
}

func (r *GoalRepository) GetAll(ctx context.Context) ([]core.Goal, error) {
	out, err := queryList(ctx, r.db, scanGoal,
		`SELECT `+goalColumns+` FROM goals ORDER BY rowid`)
	if err != nil {
		return nil, r.store.fail(ctx, "list all goals", err)
	}
	return out, nil
}

func (r *GoalRepository) Delete(ctx context.Context, id, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM goals WHERE id = ? AND userId = ?`, id, userID)
	if err != nil {
		return r.store.fail(ctx, "delete goal", err, applog.FieldID, id)
	}
	return nil
}
