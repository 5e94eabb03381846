package memory

import (
	"context"
	"errors"
	"testing"

	"curtailmine/internal/domain"
	"curtailmine/internal/storage"
)

func agg(level domain.AggregateLevel, timeKey, profile string, energy, btc float64) *domain.PotentialAggregate {
	return &domain.PotentialAggregate{
		Level:        level,
		TimeKey:      timeKey,
		ProfileID:    profile,
		EnergyMWh:    energy,
		PotentialBTC: btc,
	}
}

func TestAggregateStore_ReplaceAndGet(t *testing.T) {
	store := NewAggregateStore()
	ctx := context.Background()

	if err := store.Replace(ctx, agg(domain.LevelDay, "2024-03-15", "s19-pro", 20.0, 0.5)); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	got, err := store.GetByKey(ctx, domain.LevelDay, "2024-03-15", "s19-pro")
	if err != nil {
		t.Fatalf("GetByKey failed: %v", err)
	}
	if got.EnergyMWh != 20.0 {
		t.Errorf("Expected energy 20.0, got %v", got.EnergyMWh)
	}
}

func TestAggregateStore_ReplaceOverwrites(t *testing.T) {
	store := NewAggregateStore()
	ctx := context.Background()

	_ = store.Replace(ctx, agg(domain.LevelDay, "2024-03-15", "s19-pro", 20.0, 0.5))
	_ = store.Replace(ctx, agg(domain.LevelDay, "2024-03-15", "s19-pro", 25.0, 0.6))

	got, _ := store.GetByKey(ctx, domain.LevelDay, "2024-03-15", "s19-pro")
	if got.EnergyMWh != 25.0 {
		t.Errorf("Expected overwritten energy 25.0, got %v", got.EnergyMWh)
	}

	// Still exactly one row for the key.
	rows, _ := store.GetByPrefix(ctx, domain.LevelDay, "2024-03-15", "s19-pro")
	if len(rows) != 1 {
		t.Errorf("Expected 1 row, got %d", len(rows))
	}
}

func TestAggregateStore_GetByKeyNotFound(t *testing.T) {
	store := NewAggregateStore()

	_, err := store.GetByKey(context.Background(), domain.LevelDay, "2024-03-15", "s19-pro")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAggregateStore_GetByPrefix(t *testing.T) {
	store := NewAggregateStore()
	ctx := context.Background()

	_ = store.Replace(ctx, agg(domain.LevelDay, "2024-03-15", "s19-pro", 10, 0.1))
	_ = store.Replace(ctx, agg(domain.LevelDay, "2024-03-14", "s19-pro", 20, 0.2))
	_ = store.Replace(ctx, agg(domain.LevelDay, "2024-04-01", "s19-pro", 30, 0.3))
	_ = store.Replace(ctx, agg(domain.LevelDay, "2024-03-10", "s9", 40, 0.4))
	_ = store.Replace(ctx, agg(domain.LevelMonth, "2024-03", "s19-pro", 30, 0.3))

	rows, err := store.GetByPrefix(ctx, domain.LevelDay, "2024-03", "s19-pro")
	if err != nil {
		t.Fatalf("GetByPrefix failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 day rows in 2024-03 for s19-pro, got %d", len(rows))
	}
	if rows[0].TimeKey != "2024-03-14" || rows[1].TimeKey != "2024-03-15" {
		t.Errorf("Expected time_key ordering, got %s, %s", rows[0].TimeKey, rows[1].TimeKey)
	}
}

func TestAggregateStore_InvalidLevel(t *testing.T) {
	store := NewAggregateStore()

	err := store.Replace(context.Background(), agg("week", "2024-W11", "s19-pro", 1, 0.1))
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
