package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	"moneta/internal/sheets/memory"
	"moneta/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "moneta.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	u := core.User{ID: "row-user-1", UserID: "user-1", FirstName: "Ada"}
	if err := storage.NewUserRepository(s).Add(ctx, u); err != nil {
		t.Fatalf("add user: %v", err)
	}
	a := core.Account{ID: "cash", UserID: "user-1", Name: "Cash", Balance: decimal.NewFromInt(100)}
	if err := storage.NewAccountRepository(s).Add(ctx, a); err != nil {
		t.Fatalf("add account: %v", err)
	}
	return s
}

func dirtyRows(t *testing.T, s *storage.Store) int {
	t.Helper()
	counts, err := s.CountUnsynced(context.Background())
	if err != nil {
		t.Fatalf("CountUnsynced() error = %v", err)
	}
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}

// editingSink renames the account while its snapshot is being uploaded.
type editingSink struct {
	*memory.Store
	s *storage.Store
}

func (e *editingSink) WriteRecord(ctx context.Context, table string, rec map[string]any) error {
	if err := e.Store.WriteRecord(ctx, table, rec); err != nil {
		return err
	}
	if table != storage.TableAccounts.String() {
		return nil
	}
	a := core.Account{ID: "cash", UserID: "user-1", Name: "Wallet", Balance: decimal.NewFromInt(100)}
	return storage.NewAccountRepository(e.s).Update(ctx, a)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Interval != 30*time.Second {
		t.Errorf("expected Interval 30s, got %v", cfg.Interval)
	}
	if cfg.BatchSize != 100 {
		t.Errorf("expected BatchSize 100, got %d", cfg.BatchSize)
	}
	if cfg.Concurrency != 3 {
		t.Errorf("expected Concurrency 3, got %d", cfg.Concurrency)
	}
}

func TestNewSyncWorkerFillsDefaults(t *testing.T) {
	w := NewSyncWorker(nil, memory.New(), Config{BatchSize: -1}, nil)
	if w.config != DefaultConfig() {
		t.Errorf("config = %+v, want defaults", w.config)
	}
}

func TestSyncOnceUploadsAndMarks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sink := memory.New()
	w := NewSyncWorker(s, sink, DefaultConfig(), nil)

	res, err := w.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("SyncOnce() error = %v", err)
	}
	if res.Uploaded != 2 || res.Failed != 0 || res.Skipped != 0 {
		t.Errorf("result = %+v, want 2 uploaded", res)
	}
	if n := dirtyRows(t, s); n != 0 {
		t.Errorf("dirty rows = %d, want 0", n)
	}

	accounts, _ := sink.ListRecords(ctx, "accounts")
	if len(accounts) != 1 || accounts[0]["name"] != "Cash" {
		t.Errorf("sink accounts = %v", accounts)
	}

	res, err = w.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("second SyncOnce() error = %v", err)
	}
	if res != (Result{}) {
		t.Errorf("second pass = %+v, want nothing to do", res)
	}
	if sink.Writes() != 2 {
		t.Errorf("writes = %d, want 2", sink.Writes())
	}
}

func TestSyncOnceSinkFailureKeepsRowsDirty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sink := memory.New()
	sink.FailWith(errors.New("quota exceeded"))
	w := NewSyncWorker(s, sink, DefaultConfig(), nil)

	res, err := w.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("SyncOnce() error = %v", err)
	}
	if res.Failed != 2 || res.Uploaded != 0 {
		t.Errorf("result = %+v, want 2 failed", res)
	}
	if n := dirtyRows(t, s); n != 2 {
		t.Errorf("dirty rows = %d, want 2", n)
	}

	sink.FailWith(nil)
	res, err = w.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("SyncOnce() after recovery error = %v", err)
	}
	if res.Uploaded != 2 {
		t.Errorf("result after recovery = %+v, want 2 uploaded", res)
	}
}

func TestSyncOnceRowEditedDuringUploadStaysDirty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sink := &editingSink{Store: memory.New(), s: s}
	w := NewSyncWorker(s, sink, Config{Concurrency: 1}, nil)

	res, err := w.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("SyncOnce() error = %v", err)
	}
	if res.Uploaded != 1 || res.Skipped != 1 {
		t.Errorf("result = %+v, want 1 uploaded 1 skipped", res)
	}

	unsynced, err := s.GetUnsynced(ctx, storage.TableAccounts)
	if err != nil {
		t.Fatalf("GetUnsynced() error = %v", err)
	}
	if len(unsynced) != 1 || unsynced[0]["name"] != "Wallet" {
		t.Errorf("unsynced accounts = %v, want the edited row", unsynced)
	}
}

func TestSyncOnceBatchSize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, id := range []string{"bank", "savings"} {
		a := core.Account{ID: id, UserID: "user-1", Name: id}
		if err := storage.NewAccountRepository(s).Add(ctx, a); err != nil {
			t.Fatalf("add account: %v", err)
		}
	}
	w := NewSyncWorker(s, memory.New(), Config{BatchSize: 2}, nil)

	res, err := w.SyncOnce(ctx)
	if err != nil {
		t.Fatalf("SyncOnce() error = %v", err)
	}
	// one user plus two of the three accounts
	if res.Uploaded != 3 {
		t.Errorf("uploaded = %d, want 3", res.Uploaded)
	}
	if n := dirtyRows(t, s); n != 1 {
		t.Errorf("dirty rows = %d, want 1", n)
	}
}

func TestSyncWorkerStartStop(t *testing.T) {
	s := newTestStore(t)
	sink := memory.New()
	w := NewSyncWorker(s, sink, Config{Interval: time.Hour}, nil)

	if w.IsRunning() {
		t.Error("worker should not be running initially")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Start(ctx); err == nil {
		t.Error("expected error when starting already running worker")
	}

	waitFor(t, func() bool { return sink.Writes() == 2 })

	a := core.Account{ID: "bank", UserID: "user-1", Name: "Bank"}
	if err := storage.NewAccountRepository(s).Add(context.Background(), a); err != nil {
		t.Fatalf("add account: %v", err)
	}
	w.Trigger()
	waitFor(t, func() bool { return sink.Writes() == 3 })

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if w.IsRunning() {
		t.Error("worker should not be running after Stop")
	}
	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop() on stopped worker error = %v", err)
	}
}

func TestTriggerDoesNotBlock(t *testing.T) {
	w := NewSyncWorker(nil, memory.New(), DefaultConfig(), nil)
	for range 5 {
		w.Trigger()
	}
	if len(w.trigger) != 1 {
		t.Errorf("pending triggers = %d, want 1", len(w.trigger))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 5s")
}
