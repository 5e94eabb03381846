package memory

import (
	"context"
	"sync"

	"curtailmine/internal/domain"
	"curtailmine/internal/storage"
)

// ArchiveStore is an in-memory implementation of storage.ArchiveStore.
// Used by tests in place of the ClickHouse archive.
type ArchiveStore struct {
	mu   sync.RWMutex
	data map[domain.SettlementDate][]*domain.CurtailmentRecord
}

// NewArchiveStore creates a new in-memory archive store.
func NewArchiveStore() *ArchiveStore {
	return &ArchiveStore{
		data: make(map[domain.SettlementDate][]*domain.CurtailmentRecord),
	}
}

// Compile-time interface check.
var _ storage.ArchiveStore = (*ArchiveStore)(nil)

// ReplaceDate clears the date's archive rows and inserts records.
func (s *ArchiveStore) ReplaceDate(_ context.Context, date domain.SettlementDate, records []*domain.CurtailmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]*domain.CurtailmentRecord, 0, len(records))
	for _, r := range records {
		cp := *r
		rows = append(rows, &cp)
	}
	s.data[date] = rows
	return nil
}

// GetByDate returns the archived rows for a date.
func (s *ArchiveStore) GetByDate(_ context.Context, date domain.SettlementDate) ([]*domain.CurtailmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.data[date]
	out := make([]*domain.CurtailmentRecord, 0, len(rows))
	for _, r := range rows {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}
