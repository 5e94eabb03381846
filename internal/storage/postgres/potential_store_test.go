package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curtailmine/internal/domain"
	"curtailmine/internal/storage/postgres"
)

func testPotential(date domain.SettlementDate, period int, unit, profile string, btc float64) *domain.PotentialRecord {
	return &domain.PotentialRecord{
		SettlementDate: date,
		Period:         period,
		UnitID:         unit,
		ProfileID:      profile,
		EnergyMWh:      10.0,
		Difficulty:     88.1e12,
		PotentialBTC:   btc,
		CreatedAt:      1710460800000,
	}
}

func TestPotentialStore_ReplaceDateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewPotentialStore(pool)

	records := []*domain.PotentialRecord{
		testPotential("2024-03-15", 2, "T_UNITA", "s9", 0.02),
		testPotential("2024-03-15", 1, "T_UNITA", "s19-pro", 0.01),
		testPotential("2024-03-15", 1, "T_UNITA", "s9", 0.005),
	}
	require.NoError(t, store.ReplaceDate(ctx, "2024-03-15", records))

	got, err := store.GetByDate(ctx, "2024-03-15")
	require.NoError(t, err)

	require.Len(t, got, 3)
	// Ordered by (period, unit_id, profile_id).
	assert.Equal(t, "s19-pro", got[0].ProfileID)
	assert.Equal(t, "s9", got[1].ProfileID)
	assert.Equal(t, 2, got[2].Period)
	assert.InDelta(t, 88.1e12, got[0].Difficulty, 1)
	assert.Equal(t, domain.SettlementDate("2024-03-15"), got[0].SettlementDate)
}

func TestPotentialStore_ReplaceDateRemovesStale(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewPotentialStore(pool)

	require.NoError(t, store.ReplaceDate(ctx, "2024-03-15", []*domain.PotentialRecord{
		testPotential("2024-03-15", 1, "T_UNITA", "s9", 0.01),
		testPotential("2024-03-15", 2, "T_UNITA", "s9", 0.02),
	}))
	require.NoError(t, store.ReplaceDate(ctx, "2024-03-15", []*domain.PotentialRecord{
		testPotential("2024-03-15", 1, "T_UNITA", "s9", 0.03),
	}))

	got, err := store.GetByDate(ctx, "2024-03-15")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.03, got[0].PotentialBTC, 1e-9)
}

func TestPotentialStore_ReplaceDateEmptySetClears(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewPotentialStore(pool)

	require.NoError(t, store.ReplaceDate(ctx, "2024-03-15", []*domain.PotentialRecord{
		testPotential("2024-03-15", 1, "T_UNITA", "s9", 0.01),
	}))
	require.NoError(t, store.ReplaceDate(ctx, "2024-03-15", nil))

	got, err := store.GetByDate(ctx, "2024-03-15")
	require.NoError(t, err)
	assert.Empty(t, got)
}
