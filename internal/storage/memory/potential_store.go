package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"curtailmine/internal/domain"
	"curtailmine/internal/storage"
)

// PotentialStore is an in-memory implementation of storage.PotentialStore.
type PotentialStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PotentialRecord
}

// NewPotentialStore creates a new in-memory potential record store.
func NewPotentialStore() *PotentialStore {
	return &PotentialStore{
		data: make(map[string]*domain.PotentialRecord),
	}
}

// Compile-time interface check.
var _ storage.PotentialStore = (*PotentialStore)(nil)

func potentialKey(r *domain.PotentialRecord) string {
	return fmt.Sprintf("%s|%d|%s|%s", r.SettlementDate, r.Period, r.UnitID, r.ProfileID)
}

// ReplaceDate deletes all potential records for the date and inserts the new set.
func (s *PotentialStore) ReplaceDate(_ context.Context, date domain.SettlementDate, records []*domain.PotentialRecord) error {
	for _, r := range records {
		if r == nil || r.SettlementDate != date || r.UnitID == "" || r.ProfileID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, r := range s.data {
		if r.SettlementDate == date {
			delete(s.data, key)
		}
	}

	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		key := potentialKey(r)
		if _, dup := seen[key]; dup {
			return storage.ErrDuplicateKey
		}
		seen[key] = struct{}{}
	}
	for _, r := range records {
		cp := *r
		s.data[potentialKey(r)] = &cp
	}
	return nil
}

// GetByDate retrieves all potential records for a date,
// ordered by (period, unit_id, profile_id).
func (s *PotentialStore) GetByDate(_ context.Context, date domain.SettlementDate) ([]*domain.PotentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PotentialRecord
	for _, r := range s.data {
		if r.SettlementDate == date {
			cp := *r
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Period != result[j].Period {
			return result[i].Period < result[j].Period
		}
		if result[i].UnitID != result[j].UnitID {
			return result[i].UnitID < result[j].UnitID
		}
		return result[i].ProfileID < result[j].ProfileID
	})
	return result, nil
}
