package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"curtailmine/internal/domain"
	"curtailmine/internal/storage"
)

// AggregateStore is an in-memory implementation of storage.AggregateStore.
type AggregateStore struct {
	mu   sync.RWMutex
	data map[string]*domain.PotentialAggregate
}

// NewAggregateStore creates a new in-memory aggregate store.
func NewAggregateStore() *AggregateStore {
	return &AggregateStore{
		data: make(map[string]*domain.PotentialAggregate),
	}
}

// Compile-time interface check.
var _ storage.AggregateStore = (*AggregateStore)(nil)

func aggregateKey(level domain.AggregateLevel, timeKey, profileID string) string {
	return fmt.Sprintf("%s|%s|%s", level, timeKey, profileID)
}

// Replace deletes any existing row for (level, time_key, profile_id) and inserts a.
func (s *AggregateStore) Replace(_ context.Context, a *domain.PotentialAggregate) error {
	if a == nil || !a.Level.Valid() || a.TimeKey == "" || a.ProfileID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.data[aggregateKey(a.Level, a.TimeKey, a.ProfileID)] = &cp
	return nil
}

// GetByKey retrieves one aggregate row. Returns ErrNotFound if none.
func (s *AggregateStore) GetByKey(_ context.Context, level domain.AggregateLevel, timeKey, profileID string) (*domain.PotentialAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data[aggregateKey(level, timeKey, profileID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// GetByPrefix retrieves all aggregates at a level whose time key starts with
// prefix, for one profile, ordered by time_key ASC.
func (s *AggregateStore) GetByPrefix(_ context.Context, level domain.AggregateLevel, prefix, profileID string) ([]*domain.PotentialAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PotentialAggregate
	for _, a := range s.data {
		if a.Level == level && a.ProfileID == profileID && strings.HasPrefix(a.TimeKey, prefix) {
			cp := *a
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimeKey < result[j].TimeKey
	})
	return result, nil
}
