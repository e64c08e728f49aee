// Package memory is an in-process event sink, used when no spreadsheet is
// configured and by tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"subtrack/internal/export"
)

type Store struct {
	mu   sync.Mutex
	rows []export.EventRow
}

func New() *Store {
	return &Store{}
}

// Append stores the row and returns a synthetic reference.
func (s *Store) Append(_ context.Context, row export.EventRow) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (s *Store) Rows() []export.EventRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]export.EventRow(nil), s.rows...)
}
