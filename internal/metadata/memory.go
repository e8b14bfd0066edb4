package metadata

import (
	"context"
	"sync"
)

// Row is one record of a MemorySource table. Absent keys read as null.
type Row map[string]any

// MemorySource implements ReferenceSource over in-memory tables. It backs
// tests and dry runs against fixture data.
type MemorySource struct {
	mu     sync.RWMutex
	tables map[string][]Row
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{tables: make(map[string][]Row)}
}

// Insert appends rows to table.
func (s *MemorySource) Insert(table string, rows ...Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], rows...)
}

func (s *MemorySource) rows(table string) []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Row(nil), s.tables[table]...)
}

// Values calls fn for every non-null value of d.Column.
func (s *MemorySource) Values(ctx context.Context, d Descriptor, fn func(Value) error) error {
	for _, row := range s.rows(d.Table) {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, ok := lookupField(row, d.Column)
		if !ok {
			continue
		}
		if err := emitValue(v, fn); err != nil {
			return err
		}
	}
	return nil
}

// OwnedValues calls fn for values of rows whose owner column is in owners.
func (s *MemorySource) OwnedValues(ctx context.Context, d Descriptor, owners []string, fn func(Value) error) error {
	if d.OwnerColumn == "" || len(owners) == 0 {
		return nil
	}
	wanted := make(map[string]struct{}, len(owners))
	for _, o := range owners {
		wanted[o] = struct{}{}
	}
	for _, row := range s.rows(d.Table) {
		if err := ctx.Err(); err != nil {
			return err
		}
		owner, ok := lookupField(row, d.OwnerColumn)
		if !ok {
			continue
		}
		id, ok := owner.(string)
		if !ok {
			continue
		}
		if _, ok := wanted[id]; !ok {
			continue
		}
		v, ok := lookupField(row, d.Column)
		if !ok {
			continue
		}
		if err := emitValue(v, fn); err != nil {
			return err
		}
	}
	return nil
}

// Ping always succeeds for the in-memory source.
func (s *MemorySource) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemorySource) Close() error {
	return nil
}

// Ensure MemorySource implements ReferenceSource at compile time.
var _ ReferenceSource = (*MemorySource)(nil)
