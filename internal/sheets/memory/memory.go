package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	ports "moneta/internal/sheets"
)

var (
	_ ports.RecordWriter = (*Store)(nil)
	_ ports.RecordLister = (*Store)(nil)
)

// Store is an in-process sync sink. Rows are upserted by id per table and
// kept in first-write order. Used for local runs and tests.
type Store struct {
	mu     sync.Mutex
	tables map[string]*table
	writes int
	fail   error
}

type table struct {
	order []string
	rows  map[string]map[string]any
}

func New() *Store {
	return &Store{tables: map[string]*table{}}
}

func (s *Store) Name() string { return "memory" }

// WriteRecord stores a copy of rec under its id.
func (s *Store) WriteRecord(_ context.Context, tableName string, rec map[string]any) error {
	id, _ := rec["id"].(string)
	if id == "" {
		return errors.New("record has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return fmt.Errorf("write %s/%s: %w", tableName, id, s.fail)
	}

	t, ok := s.tables[tableName]
	if !ok {
		t = &table{rows: map[string]map[string]any{}}
		s.tables[tableName] = t
	}
	if _, seen := t.rows[id]; !seen {
		t.order = append(t.order, id)
	}
	t.rows[id] = maps.Clone(rec)
	s.writes++
	return nil
}

// ListRecords returns copies of the rows held for tableName.
func (s *Store) ListRecords(_ context.Context, tableName string) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[tableName]
	if !ok {
		return []map[string]any{}, nil
	}
	out := make([]map[string]any, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, maps.Clone(t.rows[id]))
	}
	return out, nil
}

// Writes reports how many writes succeeded, re-uploads included.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// FailWith makes every following write return err. Pass nil to recover.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}
