package remote

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lyzr/datasync/cmd/datasync/models"
)

// Table is an in-memory dataset: column schema plus string rows
type Table struct {
	Columns []Column
	Rows    [][]string
}

// MemorySource serves tables from memory. It records how often each
// operation ran and can inject a failure or a delay. Used for local runs
// and tests.
type MemorySource struct {
	mu     sync.RWMutex
	tables map[string]Table

	// Err, when set, is returned by every fetch and count
	Err error
	// Delay is slept before each fetch returns
	Delay time.Duration

	counts      atomic.Int64
	fetchAlls   atomic.Int64
	fetchRanges atomic.Int64
}

// NewMemorySource creates an empty source
func NewMemorySource() *MemorySource {
	return &MemorySource{tables: make(map[string]Table)}
}

// SetTable registers or replaces the table for rid
func (m *MemorySource) SetTable(rid string, t Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[rid] = t
}

func (m *MemorySource) table(id models.Identity) (Table, error) {
	if m.Err != nil {
		return Table{}, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[id.ExternalID]
	if !ok {
		return Table{}, fmt.Errorf("table for %s not found", id.ExternalID)
	}
	return t, nil
}

// Count returns the number of rows
func (m *MemorySource) Count(ctx context.Context, id models.Identity) (int64, error) {
	m.counts.Add(1)
	t, err := m.table(id)
	if err != nil {
		return 0, err
	}
	return int64(len(t.Rows)), nil
}

// Schema returns the columns
func (m *MemorySource) Schema(ctx context.Context, id models.Identity) ([]Column, error) {
	t, err := m.table(id)
	if err != nil {
		return nil, err
	}
	return t.Columns, nil
}

// FetchAll streams every row
func (m *MemorySource) FetchAll(ctx context.Context, id models.Identity) (RowStream, error) {
	m.fetchAlls.Add(1)
	return m.fetch(ctx, id, 0, -1)
}

// FetchRange streams limit rows from offset
func (m *MemorySource) FetchRange(ctx context.Context, id models.Identity, offset, limit int64) (RowStream, error) {
	m.fetchRanges.Add(1)
	return m.fetch(ctx, id, offset, limit)
}

func (m *MemorySource) fetch(ctx context.Context, id models.Identity, offset, limit int64) (RowStream, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	t, err := m.table(id)
	if err != nil {
		return nil, err
	}

	rows := t.Rows
	if offset > int64(len(rows)) {
		offset = int64(len(rows))
	}
	rows = rows[offset:]
	if limit >= 0 && limit < int64(len(rows)) {
		rows = rows[:limit]
	}

	header := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Name
	}
	return &memoryStream{header: header, rows: rows}, nil
}

// Counts returns how many Count, FetchAll and FetchRange calls were made
func (m *MemorySource) Counts() (counts, fetchAlls, fetchRanges int64) {
	return m.counts.Load(), m.fetchAlls.Load(), m.fetchRanges.Load()
}

type memoryStream struct {
	header []string
	rows   [][]string
	pos    int
}

func (s *memoryStream) Header() []string {
	return s.header
}

func (s *memoryStream) Next() ([]string, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *memoryStream) Close() error {
	return nil
}
