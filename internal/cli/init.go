// Package cli provides common process bootstrap shared by cmd/moneta and
// cmd/moneta-sync.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"moneta/internal/config"
	"moneta/internal/core"
	applog "moneta/internal/log"
	"moneta/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger initializes structured logging at the given LOG_LEVEL and sets
// it as the process default.
func SetupLogger(level string) *applog.Logger {
	cfg := applog.DefaultConfig()
	cfg.Level = applog.ParseLevel(level)
	logger := applog.New(cfg)
	applog.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *applog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// OpenStore opens the database and brings its schema up to date.
func OpenStore(ctx context.Context, logger *applog.Logger, dbPath string) (*storage.Store, error) {
	store, err := storage.Open(ctx, dbPath, storage.WithLogger(logger))
	if err != nil {
		logger.ErrorContext(ctx, "Failed to open database", applog.FieldError, err, "path", dbPath)
		return nil, err
	}
	return store, nil
}

// EnsureProfile creates the configured local user when missing and, if
// enabled, seeds the starter categories. Reports whether seeding ran.
func EnsureProfile(ctx context.Context, store *storage.Store, cfg *config.Config, logger *applog.Logger) (bool, error) {
	users := storage.NewUserRepository(store)

	u, err := users.GetByUserID(ctx, cfg.UserID)
	if err != nil {
		return false, fmt.Errorf("look up user: %w", err)
	}
	if u == nil {
		nu := core.User{
			ID:        core.NewID(),
			UserID:    cfg.UserID,
			FirstName: cfg.FirstName,
			LastName:  cfg.LastName,
		}
		if err := users.Add(ctx, nu); err != nil {
			return false, fmt.Errorf("create user: %w", err)
		}
		logger.InfoContext(ctx, "Created local user", applog.FieldUserID, cfg.UserID)
	}

	if !cfg.SeedDefaults {
		return false, nil
	}
	seeded, err := store.SeedDefaults(ctx, cfg.UserID)
	if err != nil {
		return false, fmt.Errorf("seed defaults: %w", err)
	}
	if seeded {
		logger.InfoContext(ctx, "Seeded default categories", applog.FieldUserID, cfg.UserID)
	}
	return seeded, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM, or when
// the returned cancel function is called.
func SignalContext(parent context.Context, logger *applog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
