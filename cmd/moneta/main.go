package main

import (
	"context"
	"os"
	"time"

	"moneta/internal/cli"
	"moneta/internal/config"
	"moneta/internal/core"
	applog "moneta/internal/log"
	"moneta/internal/services"
	"moneta/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting moneta")

	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.SignalContext(context.Background(), logger)
	defer cancel()

	store, err := cli.OpenStore(ctx, logger, cfg.SQLiteDBPath)
	if err != nil {
		return 1
	}
	defer store.Close()

	if version, err := store.SchemaVersion(ctx); err == nil {
		logger.InfoContext(ctx, "Database ready", "path", store.Path(), "schema_version", version)
	}

	if _, err := cli.EnsureProfile(ctx, store, cfg, logger); err != nil {
		logger.ErrorContext(ctx, "Failed to prepare local profile", applog.FieldError, err)
		return 1
	}

	if err := startupReport(ctx, store, cfg, logger); err != nil {
		logger.ErrorContext(ctx, "Startup report failed", applog.FieldError, err)
		return 1
	}
	return 0
}

// startupReport logs this month's budgets, goal progress, upcoming renewals
// and how many rows still wait for the sync collaborator.
func startupReport(ctx context.Context, store *storage.Store, cfg *config.Config, logger *applog.Logger) error {
	agg := services.NewAggregator(store, services.WithAggregatorLogger(logger))
	now := time.Now()
	year, month := core.MonthOf(now)

	start, end := core.MonthBounds(year, month, time.UTC)
	summary, err := agg.GetPeriodSummary(ctx, cfg.UserID, start, end)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "Month summary",
		"income", summary.TotalIncome.StringFixed(core.MoneyPlaces),
		"expense", summary.TotalExpense.StringFixed(core.MoneyPlaces),
		"net", summary.Net.StringFixed(core.MoneyPlaces))

	budgets, err := agg.GetBudgetsWithSpendingForMonth(ctx, cfg.UserID, month, year)
	if err != nil {
		return err
	}
	for _, b := range budgets {
		level := logger.InfoContext
		if b.Remaining.IsNegative() {
			level = logger.WarnContext
		}
		level(ctx, "Budget",
			"category_id", b.CategoryID,
			"limit", b.BudgetLimit.StringFixed(core.MoneyPlaces),
			"spent", b.Spent.StringFixed(core.MoneyPlaces),
			"percent_used", b.PercentUsed.String())
	}

	goals, err := storage.NewGoalRepository(store).GetByUserID(ctx, cfg.UserID)
	if err != nil {
		return err
	}
	for _, g := range goals {
		p, err := agg.CalculateGoalProgress(ctx, g.ID)
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "Goal",
			"title", g.Title,
			"percent_complete", p.PercentComplete.String(),
			"days_remaining", p.DaysRemaining,
			"on_track", p.IsOnTrack)
	}

	renewals, err := agg.GetUpcomingRenewals(ctx, cfg.UserID, 7)
	if err != nil {
		return err
	}
	for _, s := range renewals {
		logger.InfoContext(ctx, "Upcoming renewal",
			"name", s.Name,
			applog.FieldAmount, s.Amount.StringFixed(core.MoneyPlaces),
			"renewal_date", s.RenewalDate.Format(time.DateOnly))
	}

	pending, err := store.CountUnsynced(ctx)
	if err != nil {
		return err
	}
	total := 0
	for _, t := range storage.AllTables {
		if n := pending[t]; n > 0 {
			logger.DebugContext(ctx, "Pending sync", applog.FieldTable, t.String(), applog.FieldCount, n)
			total += n
		}
	}
	logger.InfoContext(ctx, "Rows waiting for sync", applog.FieldCount, total)
	return nil
}
