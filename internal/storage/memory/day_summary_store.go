package memory

import (
	"context"
	"sync"

	"curtailmine/internal/domain"
	"curtailmine/internal/storage"
)

// DaySummaryStore is an in-memory implementation of storage.DaySummaryStore.
type DaySummaryStore struct {
	mu   sync.RWMutex
	data map[domain.SettlementDate]*domain.DaySummary
}

// NewDaySummaryStore creates a new in-memory day summary store.
func NewDaySummaryStore() *DaySummaryStore {
	return &DaySummaryStore{
		data: make(map[domain.SettlementDate]*domain.DaySummary),
	}
}

// Compile-time interface check.
var _ storage.DaySummaryStore = (*DaySummaryStore)(nil)

// Replace deletes any existing summary for the date and inserts s.
func (st *DaySummaryStore) Replace(_ context.Context, s *domain.DaySummary) error {
	if s == nil || s.SettlementDate == "" {
		return storage.ErrInvalidInput
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	cp := *s
	st.data[s.SettlementDate] = &cp
	return nil
}

// GetByDate retrieves the summary for a date. Returns ErrNotFound if none.
func (st *DaySummaryStore) GetByDate(_ context.Context, date domain.SettlementDate) (*domain.DaySummary, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.data[date]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s
	return &cp, nil
}
