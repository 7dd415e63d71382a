package recordstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tupa/internal/apperr"
)

// MemoryStore is a threadsafe in-memory record store for tests and the dev server
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*memoryTable
	now    func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]*memoryTable),
		now:    time.Now,
	}
}

// SetClock replaces the clock used for created_at
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Table(name string) Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		t = &memoryTable{name: name, store: s}
		s.tables[name] = t
	}
	return t
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) clock() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

type memoryTable struct {
	name  string
	store *MemoryStore

	mu   sync.RWMutex
	rows []Row
}

func (t *memoryTable) Select(ctx context.Context, q Query) ([]Row, error) {
	if err := validQuery(q); err != nil {
		return nil, err
	}
	t.mu.RLock()
	out := make([]Row, 0, len(t.rows))
	for _, r := range t.rows {
		if matches(r, q.Filters) {
			out = append(out, cloneRow(r))
		}
	}
	t.mu.RUnlock()

	sortRows(out, q.OrderBy, q.Descending)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (t *memoryTable) Insert(ctx context.Context, row Row) (Row, error) {
	prepared, id, err := prepareInsert(row, t.store.clock())
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.rows {
		if rowID(r) == id {
			return nil, fmt.Errorf("duplicate id %s in %s", id, t.name)
		}
	}
	t.rows = append(t.rows, prepared)
	return cloneRow(prepared), nil
}

func (t *memoryTable) Update(ctx context.Context, id string, patch Row) (Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.rows {
		if rowID(r) != id {
			continue
		}
		merged, err := mergePatch(r, patch)
		if err != nil {
			return nil, err
		}
		t.rows[i] = merged
		return cloneRow(merged), nil
	}
	return nil, fmt.Errorf("%w: %s/%s", apperr.ErrNotFound, t.name, id)
}

func (t *memoryTable) Delete(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.rows {
		if rowID(r) == id {
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", apperr.ErrNotFound, t.name, id)
}

func cloneRow(r Row) Row {
	return append(Row(nil), r...)
}
