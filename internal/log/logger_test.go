package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBufferLogger(buf *bytes.Buffer, component string) *Logger {
	return New(Config{
		Component: component,
		Handler:   slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, ComponentStorage)
	l.InfoContext(context.Background(), "Account added", FieldID, "a1")

	out := buf.String()
	if !strings.Contains(out, "component=storage") {
		t.Fatalf("expected component in output, got %q", out)
	}
	if !strings.Contains(out, "id=a1") {
		t.Fatalf("expected id field in output, got %q", out)
	}
}

func TestWithComponentDoesNotDuplicate(t *testing.T) {
	var buf bytes.Buffer
	l := newBufferLogger(&buf, ComponentApp).WithComponent(ComponentLedger)
	l.Warn("Balance adjusted")

	out := buf.String()
	if strings.Count(out, "component=") != 1 || !strings.Contains(out, "component=ledger") {
		t.Fatalf("expected a single ledger component, got %q", out)
	}
	if l.Component() != ComponentLedger {
		t.Fatalf("unexpected component %q", l.Component())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogFields(t *testing.T) {
	f := NewFields().
		WithComponent(ComponentWorker).
		WithOperation(OpSync).
		WithRecord("accounts", "a1").
		WithUser("").
		WithError(errors.New("boom"))
	if _, ok := f[FieldUserID]; ok {
		t.Fatalf("empty user id should be omitted")
	}
	if f[FieldError] != "boom" || f[FieldTable] != "accounts" {
		t.Fatalf("unexpected fields %v", f)
	}
	if len(f.ToSlice()) != len(f)*2 {
		t.Fatalf("slice length mismatch")
	}
}
