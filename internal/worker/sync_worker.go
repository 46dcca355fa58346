package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	applog "moneta/internal/log"
	"moneta/internal/sheets"
	"moneta/internal/storage"
)

// Config holds configuration for the sync worker
type Config struct {
	// Interval is how often dirty rows are collected (default: 30s)
	Interval time.Duration

	// BatchSize caps the rows uploaded per table per pass; 0 means no cap (default: 100)
	BatchSize int

	// Concurrency is how many tables are synced at once (default: 3)
	Concurrency int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		BatchSize:   100,
		Concurrency: 3,
	}
}

// Result counts what one pass did.
type Result struct {
	Uploaded int
	// Skipped rows were uploaded but changed before they could be marked,
	// so they stay dirty for the next pass.
	Skipped int
	Failed  int
}

func (r *Result) add(o Result) {
	r.Uploaded += o.Uploaded
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// SyncWorker uploads change-tracked rows to a sink and marks them synced once
// the sink accepted the exact snapshot that is still stored.
type SyncWorker struct {
	store  *storage.Store
	sink   sheets.RecordWriter
	config Config
	log    *applog.Logger

	trigger chan struct{}
	passMu  sync.Mutex

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSyncWorker(store *storage.Store, sink sheets.RecordWriter, config Config, logger *applog.Logger) *SyncWorker {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.BatchSize < 0 {
		config.BatchSize = def.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	return &SyncWorker{
		store:   store,
		sink:    sink,
		config:  config,
		log:     applog.OrDefault(logger, applog.ComponentWorker).WithComponent(applog.ComponentWorker),
		trigger: make(chan struct{}, 1),
	}
}

// SyncOnce runs one pass over every table. Sink failures are counted and the
// rows stay dirty; a storage failure aborts the pass.
func (w *SyncWorker) SyncOnce(ctx context.Context) (Result, error) {
	w.passMu.Lock()
	defer w.passMu.Unlock()

	var (
		mu    sync.Mutex
		total Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.Concurrency)

	for _, table := range storage.AllTables {
		g.Go(func() error {
			res, err := w.syncTable(gctx, table)
			mu.Lock()
			total.add(res)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()

	if total.Uploaded+total.Skipped+total.Failed > 0 {
		w.log.InfoContext(ctx, "Sync pass finished",
			applog.FieldSink, w.sink.Name(),
			"uploaded", total.Uploaded,
			"skipped", total.Skipped,
			"failed", total.Failed)
	}
	return total, err
}

func (w *SyncWorker) syncTable(ctx context.Context, table storage.Table) (Result, error) {
	var res Result

	records, err := w.store.GetUnsynced(ctx, table)
	if err != nil {
		return res, fmt.Errorf("collect %s: %w", table, err)
	}
	if w.config.BatchSize > 0 && len(records) > w.config.BatchSize {
		records = records[:w.config.BatchSize]
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if err := w.sink.WriteRecord(ctx, table.String(), rec); err != nil {
			res.Failed++
			w.log.WarnContext(ctx, "Upload failed, row stays dirty",
				applog.FieldTable, table.String(),
				applog.FieldID, rec.ID(),
				applog.FieldError, err)
			continue
		}

		marked, err := w.store.MarkSyncedIfUnchanged(ctx, table, rec)
		if err != nil {
			return res, fmt.Errorf("mark %s/%s: %w", table, rec.ID(), err)
		}
		if marked {
			res.Uploaded++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// Trigger asks a running worker for a pass now. Extra calls while a pass is
// pending are dropped.
func (w *SyncWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Start begins the sync loop. Returns an error if already running.
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("sync worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)

	w.log.InfoContext(ctx, "Sync worker started",
		applog.FieldSink, w.sink.Name(),
		"interval", w.config.Interval,
		"batch_size", w.config.BatchSize)
	return nil
}

// Stop gracefully stops the worker and waits for the current pass.
func (w *SyncWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		w.log.InfoContext(ctx, "Sync worker stopped gracefully")
	case <-ctx.Done():
		w.log.WarnContext(ctx, "Sync worker stop timed out")
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

// IsRunning returns whether the worker loop is active
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *SyncWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	// Upload immediately on startup
	w.pass(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pass(ctx)
		case <-w.trigger:
			w.pass(ctx)
		}
	}
}

func (w *SyncWorker) pass(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil && ctx.Err() == nil {
		w.log.ErrorContext(ctx, "Sync pass failed", applog.FieldError, err)
	}
}
