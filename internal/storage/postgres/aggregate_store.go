package postgres

import (
	"context"
	"fmt"

	"curtailmine/internal/domain"
	"curtailmine/internal/storage"
)

// AggregateStore implements storage.AggregateStore using PostgreSQL.
type AggregateStore struct {
	pool *Pool
}

// NewAggregateStore creates a new AggregateStore.
func NewAggregateStore(pool *Pool) *AggregateStore {
	return &AggregateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AggregateStore = (*AggregateStore)(nil)

// Replace deletes any existing row for (level, time_key, profile_id) and
// inserts the new one.
func (s *AggregateStore) Replace(ctx context.Context, a *domain.PotentialAggregate) error {
	if !a.Level.Valid() {
		return fmt.Errorf("%w: level %q", storage.ErrInvalidInput, a.Level)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM potential_aggregates WHERE level = $1 AND time_key = $2 AND profile_id = $3`,
		string(a.Level), a.TimeKey, a.ProfileID,
	)
	if err != nil {
		return fmt.Errorf("delete aggregate: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO potential_aggregates (
			level, time_key, profile_id, energy_mwh, potential_btc, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`,
		string(a.Level), a.TimeKey, a.ProfileID,
		a.EnergyMWh, a.PotentialBTC, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert aggregate: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByKey retrieves one aggregate row. Returns ErrNotFound if none.
func (s *AggregateStore) GetByKey(ctx context.Context, level domain.AggregateLevel, timeKey, profileID string) (*domain.PotentialAggregate, error) {
	query := `
		SELECT level, time_key, profile_id, energy_mwh, potential_btc, updated_at
		FROM potential_aggregates
		WHERE level = $1 AND time_key = $2 AND profile_id = $3
	`

	var a domain.PotentialAggregate
	err := s.pool.QueryRow(ctx, query, string(level), timeKey, profileID).Scan(
		&a.Level,
		&a.TimeKey,
		&a.ProfileID,
		&a.EnergyMWh,
		&a.PotentialBTC,
		&a.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get aggregate: %w", err)
	}

	return &a, nil
}

// GetByPrefix retrieves all aggregates at a level whose time key starts with
// prefix, for one profile, ordered by time_key ASC.
func (s *AggregateStore) GetByPrefix(ctx context.Context, level domain.AggregateLevel, prefix, profileID string) ([]*domain.PotentialAggregate, error) {
	query := `
		SELECT level, time_key, profile_id, energy_mwh, potential_btc, updated_at
		FROM potential_aggregates
		WHERE level = $1 AND time_key LIKE $2 || '%' AND profile_id = $3
		ORDER BY time_key ASC
	`

	rows, err := s.pool.Query(ctx, query, string(level), prefix, profileID)
	if err != nil {
		return nil, fmt.Errorf("get aggregates by prefix: %w", err)
	}
	defer rows.Close()

	var aggs []*domain.PotentialAggregate
	for rows.Next() {
		var a domain.PotentialAggregate
		err := rows.Scan(
			&a.Level,
			&a.TimeKey,
			&a.ProfileID,
			&a.EnergyMWh,
			&a.PotentialBTC,
			&a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		aggs = append(aggs, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregate rows: %w", err)
	}

	return aggs, nil
}
