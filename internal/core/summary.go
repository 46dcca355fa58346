package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategoryAmount is an amount aggregated by category, with its share of the
// period total when computed as part of a breakdown.
type CategoryAmount struct {
	CategoryID string
	Name       string
	Amount     decimal.Decimal
	Percentage decimal.Decimal
}

// PeriodSummary aggregates income and expense over a date window.
type PeriodSummary struct {
	Start        time.Time
	End          time.Time
	TotalIncome  decimal.Decimal
	TotalExpense decimal.Decimal
	Net          decimal.Decimal
}

// BudgetWithSpending is a budget joined with its derived spending. Remaining
// goes negative when over budget.
type BudgetWithSpending struct {
	Budget
	Spent       decimal.Decimal
	Remaining   decimal.Decimal
	PercentUsed decimal.Decimal
}

// BudgetTrendPoint is one month of a budget trend series.
type BudgetTrendPoint struct {
	Year  int
	Month int // 0-11
	Limit decimal.Decimal
	Spent decimal.Decimal
}

// GoalProgress is the derived state of a savings goal.
type GoalProgress struct {
	GoalID              string
	CurrentAmount       decimal.Decimal
	TargetAmount        decimal.Decimal
	PercentComplete     decimal.Decimal
	DaysRemaining       int
	IsOnTrack           bool
	ProjectedCompletion time.Time
}
