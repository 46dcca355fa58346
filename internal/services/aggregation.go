package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	applog "moneta/internal/log"
	"moneta/internal/storage"
)

// Aggregator computes derived views over the ledger. Nothing it returns is
// stored or cached: every call rescans the rows it needs.
type Aggregator struct {
	transactions  *storage.TransactionRepository
	budgets       *storage.BudgetRepository
	goals         *storage.GoalRepository
	accounts      *storage.AccountRepository
	subscriptions *storage.SubscriptionRepository
	now           func() time.Time
	loc           *time.Location
	log           *applog.Logger
}

type AggregatorOption func(*Aggregator)

// WithClock replaces time.Now for progress and trend calculations.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// WithLocation sets the zone calendar months are cut in. Defaults to UTC.
func WithLocation(loc *time.Location) AggregatorOption {
	return func(a *Aggregator) { a.loc = loc }
}

func WithAggregatorLogger(l *applog.Logger) AggregatorOption {
	return func(a *Aggregator) { a.log = l.WithComponent(applog.ComponentAggregation) }
}

func NewAggregator(store *storage.Store, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		transactions:  storage.NewTransactionRepository(store),
		budgets:       storage.NewBudgetRepository(store),
		goals:         storage.NewGoalRepository(store),
		accounts:      storage.NewAccountRepository(store),
		subscriptions: storage.NewSubscriptionRepository(store),
		now:           time.Now,
		loc:           time.UTC,
		log:           applog.ForComponent(applog.ComponentAggregation),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetBudgetSpending sums expense transactions of categoryID dated within the
// 0-indexed month, first to last day inclusive. No matching rows is zero.
func (a *Aggregator) GetBudgetSpending(ctx context.Context, userID, categoryID string, month, year int) (decimal.Decimal, error) {
	start, end := core.MonthBounds(year, month, a.loc)
	rows, err := a.transactions.GetExpensesInRange(ctx, categoryID, start, end, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("budget spending: %w", err)
	}
	spent := decimal.Zero
	for _, t := range rows {
		spent = spent.Add(t.Amount)
	}
	return spent, nil
}

// GetBudgetsWithSpending attaches spent, remaining and percentUsed to every
// budget of the user. Remaining goes negative when over budget; a zero limit
// reports zero percent used.
func (a *Aggregator) GetBudgetsWithSpending(ctx context.Context, userID string) ([]core.BudgetWithSpending, error) {
	budgets, err := a.budgets.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("budgets with spending: %w", err)
	}

	out := make([]core.BudgetWithSpending, 0, len(budgets))
	for _, b := range budgets {
		spent, err := a.GetBudgetSpending(ctx, userID, b.CategoryID, b.Month, b.Year)
		if err != nil {
			return nil, err
		}
		out = append(out, withSpending(b, spent))
	}
	return out, nil
}

// GetBudgetsWithSpendingForMonth is GetBudgetsWithSpending restricted to one
// month, keeping only the most recent budget per category.
func (a *Aggregator) GetBudgetsWithSpendingForMonth(ctx context.Context, userID string, month, year int) ([]core.BudgetWithSpending, error) {
	all, err := a.GetBudgetsWithSpending(ctx, userID)
	if err != nil {
		return nil, err
	}
	latest := map[string]int{}
	out := make([]core.BudgetWithSpending, 0)
	for _, b := range all {
		if b.Month != month || b.Year != year {
			continue
		}
		if i, ok := latest[b.CategoryID]; ok {
			if !b.CreatedAt.Before(out[i].CreatedAt) {
				out[i] = b
			}
			continue
		}
		latest[b.CategoryID] = len(out)
		out = append(out, b)
	}
	return out, nil
}

func withSpending(b core.Budget, spent decimal.Decimal) core.BudgetWithSpending {
	return core.BudgetWithSpending{
		Budget:      b,
		Spent:       spent,
		Remaining:   b.BudgetLimit.Sub(spent),
		PercentUsed: core.Percent(spent, b.BudgetLimit).Round(core.MoneyPlaces),
	}
}

// GetMonthlyCategorySpending groups one month's expenses by category.
func (a *Aggregator) GetMonthlyCategorySpending(ctx context.Context, userID string, month, year int) ([]core.CategoryAmount, error) {
	start, end := core.MonthBounds(year, month, a.loc)
	totals, err := a.transactions.GetCategoryTotalsByType(ctx, core.TransactionExpense, start, end, userID)
	if err != nil {
		return nil, fmt.Errorf("monthly category spending: %w", err)
	}
	return withPercentages(totals), nil
}

// GetBudgetTrends returns monthsBack months ending with the current one,
// oldest first. A month without a budget reports a zero limit.
func (a *Aggregator) GetBudgetTrends(ctx context.Context, userID, categoryID string, monthsBack int) ([]core.BudgetTrendPoint, error) {
	out := make([]core.BudgetTrendPoint, 0, max(monthsBack, 0))
	year, month := core.MonthOf(a.now().In(a.loc))

	for back := monthsBack - 1; back >= 0; back-- {
		y, m := core.ShiftMonth(year, month, -back)
		point := core.BudgetTrendPoint{Year: y, Month: m, Limit: decimal.Zero}

		b, err := a.budgets.GetForMonth(ctx, userID, categoryID, m, y)
		if err != nil {
			return nil, fmt.Errorf("budget trends: %w", err)
		}
		if b != nil {
			point.Limit = b.BudgetLimit
		}
		if point.Spent, err = a.GetBudgetSpending(ctx, userID, categoryID, m, y); err != nil {
			return nil, err
		}
		out = append(out, point)
	}
	return out, nil
}

// CalculateGoalProgress derives a goal's progress. The current amount is the
// linked account's balance when the goal includes it, plus every credit
// posted to that account since the goal was created.
func (a *Aggregator) CalculateGoalProgress(ctx context.Context, goalID string) (*core.GoalProgress, error) {
	goal, err := a.goals.GetByID(ctx, goalID)
	if err != nil {
		return nil, fmt.Errorf("goal progress: %w", err)
	}
	if goal == nil {
		return nil, fmt.Errorf("goal %s: %w", goalID, core.ErrNotFound)
	}

	current := decimal.Zero
	if goal.IncludeBalance {
		acc, err := a.accounts.GetByID(ctx, goal.AccountID)
		if err != nil {
			return nil, fmt.Errorf("goal progress: %w", err)
		}
		if acc != nil {
			current = current.Add(acc.Balance)
		}
	}
	credits, err := a.transactions.GetCreditsSince(ctx, goal.AccountID, goal.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("goal progress: %w", err)
	}
	amounts := make([]decimal.Decimal, 0, len(credits))
	for _, c := range credits {
		amounts = append(amounts, c.Amount)
	}
	current = current.Add(core.SumAmounts(amounts...))

	now := a.now()
	progress := &core.GoalProgress{
		GoalID:              goal.ID,
		CurrentAmount:       current,
		TargetAmount:        goal.TargetAmount,
		PercentComplete:     core.Percent(current, goal.TargetAmount).Round(core.MoneyPlaces),
		DaysRemaining:       max(core.WholeDaysBetween(now, goal.TargetDate), 0),
		ProjectedCompletion: goal.TargetDate,
	}

	expected := decimal.NewFromInt(100)
	if total := goal.TargetDate.Sub(goal.CreatedAt); total > 0 {
		elapsed := min(max(now.Sub(goal.CreatedAt), 0), total)
		expected = core.Percent(decimal.NewFromInt(int64(elapsed)), decimal.NewFromInt(int64(total)))
	}
	progress.IsOnTrack = progress.PercentComplete.GreaterThanOrEqual(expected.Round(core.MoneyPlaces))

	elapsedDays := core.WholeDaysBetween(goal.CreatedAt, now)
	if elapsedDays > 0 && current.IsPositive() {
		remaining := goal.TargetAmount.Sub(current)
		if !remaining.IsPositive() {
			progress.ProjectedCompletion = now
		} else {
			perDay := current.Div(decimal.NewFromInt(int64(elapsedDays)))
			days := remaining.Div(perDay).Ceil().IntPart()
			progress.ProjectedCompletion = now.AddDate(0, 0, int(days))
		}
	}

	a.log.DebugContext(ctx, "Goal progress computed",
		applog.FieldID, goal.ID,
		applog.FieldAmount, current.String(),
		"on_track", progress.IsOnTrack)
	return progress, nil
}

// GetCategoryBreakdown totals transactions of one type per category. With an
// anchor it covers the anchor's calendar month; without one, the last days
// days up to now.
func (a *Aggregator) GetCategoryBreakdown(ctx context.Context, userID string, kind core.TransactionType, anchor *time.Time, days int) ([]core.CategoryAmount, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("category breakdown: %w: type %q", core.ErrInvalidInput, kind)
	}

	var start, end time.Time
	if anchor != nil {
		y, m := core.MonthOf(anchor.In(a.loc))
		start, end = core.MonthBounds(y, m, a.loc)
	} else {
		end = a.now()
		start = end.AddDate(0, 0, -days)
	}

	totals, err := a.transactions.GetCategoryTotalsByType(ctx, kind, start, end, userID)
	if err != nil {
		return nil, fmt.Errorf("category breakdown: %w", err)
	}
	out := withPercentages(totals)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Amount.GreaterThan(out[j].Amount) })
	return out, nil
}

// GetPeriodSummary totals income and expense over [start, end].
func (a *Aggregator) GetPeriodSummary(ctx context.Context, userID string, start, end time.Time) (core.PeriodSummary, error) {
	summary, err := a.transactions.GetSummary(ctx, start, end, userID)
	if err != nil {
		return summary, fmt.Errorf("period summary: %w", err)
	}
	return summary, nil
}

// GetUpcomingRenewals lists active subscriptions renewing in the next days
// days. They are reminders only and never become transactions.
func (a *Aggregator) GetUpcomingRenewals(ctx context.Context, userID string, days int) ([]core.Subscription, error) {
	now := a.now()
	subs, err := a.subscriptions.GetRenewingBetween(ctx, userID, now, now.AddDate(0, 0, days))
	if err != nil {
		return nil, fmt.Errorf("upcoming renewals: %w", err)
	}
	return subs, nil
}

func withPercentages(totals []core.CategoryAmount) []core.CategoryAmount {
	total := decimal.Zero
	for _, t := range totals {
		total = total.Add(t.Amount)
	}
	for i := range totals {
		totals[i].Percentage = core.Percent(totals[i].Amount, total).Round(core.MoneyPlaces)
	}
	return totals
}
