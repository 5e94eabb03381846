package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"curtailmine/internal/domain"
	"curtailmine/internal/storage"
)

// CurtailmentStore is an in-memory implementation of storage.CurtailmentStore.
type CurtailmentStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CurtailmentRecord // keyed by composite key
}

// NewCurtailmentStore creates a new in-memory curtailment store.
func NewCurtailmentStore() *CurtailmentStore {
	return &CurtailmentStore{
		data: make(map[string]*domain.CurtailmentRecord),
	}
}

// Compile-time interface check.
var _ storage.CurtailmentStore = (*CurtailmentStore)(nil)

// recordKey generates a unique key for a curtailment record.
func recordKey(date domain.SettlementDate, period int, unitID string) string {
	return fmt.Sprintf("%s|%d|%s", date, period, unitID)
}

// ReplacePeriod deletes existing records for (date, period) and inserts the new set.
func (s *CurtailmentStore) ReplacePeriod(_ context.Context, date domain.SettlementDate, period int, records []*domain.CurtailmentRecord) error {
	if !domain.ValidPeriod(period) {
		return storage.ErrInvalidInput
	}
	for _, r := range records {
		if r == nil || r.SettlementDate != date || r.Period != period || r.UnitID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, r := range s.data {
		if r.SettlementDate == date && r.Period == period {
			delete(s.data, key)
		}
	}

	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		key := recordKey(r.SettlementDate, r.Period, r.UnitID)
		if _, dup := seen[key]; dup {
			return storage.ErrDuplicateKey
		}
		seen[key] = struct{}{}
	}
	for _, r := range records {
		cp := *r
		s.data[recordKey(r.SettlementDate, r.Period, r.UnitID)] = &cp
	}
	return nil
}

// InsertBulk adds records atomically. Fails entire batch on any duplicate.
func (s *CurtailmentStore) InsertBulk(_ context.Context, records []*domain.CurtailmentRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.UnitID == "" || !domain.ValidPeriod(r.Period) {
			return storage.ErrInvalidInput
		}
		key := recordKey(r.SettlementDate, r.Period, r.UnitID)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range records {
		cp := *r
		s.data[recordKey(r.SettlementDate, r.Period, r.UnitID)] = &cp
	}
	return nil
}

// DeleteByDate removes all records for a settlement date.
func (s *CurtailmentStore) DeleteByDate(_ context.Context, date domain.SettlementDate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, r := range s.data {
		if r.SettlementDate == date {
			delete(s.data, key)
			removed++
		}
	}
	return removed, nil
}

// GetByDate retrieves all records for a date, ordered by (period, unit_id).
func (s *CurtailmentStore) GetByDate(_ context.Context, date domain.SettlementDate) ([]*domain.CurtailmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CurtailmentRecord
	for _, r := range s.data {
		if r.SettlementDate == date {
			cp := *r
			result = append(result, &cp)
		}
	}
	sortRecords(result)
	return result, nil
}

// GetByDatePeriod retrieves records for one settlement period, ordered by unit_id.
func (s *CurtailmentStore) GetByDatePeriod(_ context.Context, date domain.SettlementDate, period int) ([]*domain.CurtailmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CurtailmentRecord
	for _, r := range s.data {
		if r.SettlementDate == date && r.Period == period {
			cp := *r
			result = append(result, &cp)
		}
	}
	sortRecords(result)
	return result, nil
}

func sortRecords(records []*domain.CurtailmentRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Period != records[j].Period {
			return records[i].Period < records[j].Period
		}
		return records[i].UnitID < records[j].UnitID
	})
}
