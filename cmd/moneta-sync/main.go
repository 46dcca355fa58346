package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"moneta/internal/amqp"
	"moneta/internal/backend"
	"moneta/internal/cli"
	applog "moneta/internal/log"
	"moneta/internal/storage"
	"moneta/internal/worker"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup runs before exit.
func run() int {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger.Info("Starting moneta-sync")

	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.SignalContext(context.Background(), logger)
	defer cancel()

	store, err := cli.OpenStore(ctx, logger, cfg.SQLiteDBPath)
	if err != nil {
		return 1
	}
	defer store.Close()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid sync backend configuration", applog.FieldError, err)
		return 1
	}
	sink, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to create sync backend", applog.FieldError, err, "backend", backendCfg.Type)
		return 1
	}
	defer sink.Close()

	syncWorker := worker.NewSyncWorker(store, sink.Sink, worker.Config{
		Interval:    cfg.SyncInterval,
		BatchSize:   cfg.SyncBatchSize,
		Concurrency: worker.DefaultConfig().Concurrency,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := syncWorker.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()

		// Give the worker time to finish the current pass
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		return syncWorker.Stop(stopCtx)
	})

	// Change notices from the app trigger a pass ahead of the next tick.
	if cfg.AMQPEnabled() {
		notices := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		defer notices.Close()

		g.Go(func() error {
			err := notices.ConsumeRecordChanges(gctx, func(ctx context.Context, msg *amqp.RecordChangeMessage) error {
				if _, err := storage.ParseTable(msg.Table); err != nil {
					logger.WarnContext(ctx, "Ignoring change notice", applog.FieldTable, msg.Table, applog.FieldError, err)
					return nil
				}
				logger.DebugContext(ctx, "Change notice received",
					applog.FieldTable, msg.Table,
					applog.FieldID, msg.ID,
					applog.FieldOperation, msg.Operation)
				syncWorker.Trigger()
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Sync collaborator stopped with error", applog.FieldError, err)
		return 1
	}
	logger.Info("Sync collaborator shutdown complete")
	return 0
}
