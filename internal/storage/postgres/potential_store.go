package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"curtailmine/internal/domain"
	"curtailmine/internal/storage"
)

// PotentialStore implements storage.PotentialStore using PostgreSQL.
type PotentialStore struct {
	pool *Pool
}

// NewPotentialStore creates a new PotentialStore.
func NewPotentialStore(pool *Pool) *PotentialStore {
	return &PotentialStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PotentialStore = (*PotentialStore)(nil)

// ReplaceDate deletes all potential records for the date and batch-inserts
// the new set in a single transaction.
func (s *PotentialStore) ReplaceDate(ctx context.Context, date domain.SettlementDate, records []*domain.PotentialRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM potential_records WHERE settlement_date = $1`,
		date.String(),
	)
	if err != nil {
		return fmt.Errorf("delete potential records: %w", err)
	}

	if len(records) > 0 {
		rows := make([][]any, 0, len(records))
		for _, r := range records {
			rows = append(rows, []any{
				r.SettlementDate.String(), r.Period, r.UnitID, r.ProfileID,
				r.EnergyMWh, r.Difficulty, r.PotentialBTC, r.CreatedAt,
			})
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"potential_records"},
			[]string{"settlement_date", "period", "unit_id", "profile_id", "energy_mwh", "difficulty", "potential_btc", "created_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("copy potential records: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByDate retrieves all potential records for a date,
// ordered by (period, unit_id, profile_id).
func (s *PotentialStore) GetByDate(ctx context.Context, date domain.SettlementDate) ([]*domain.PotentialRecord, error) {
	query := `
		SELECT id, settlement_date, period, unit_id, profile_id, energy_mwh, difficulty, potential_btc, created_at
		FROM potential_records
		WHERE settlement_date = $1
		ORDER BY period ASC, unit_id ASC, profile_id ASC
	`

	rows, err := s.pool.Query(ctx, query, date.String())
	if err != nil {
		return nil, fmt.Errorf("get potential records by date: %w", err)
	}
	defer rows.Close()

	var records []*domain.PotentialRecord
	for rows.Next() {
		var (
			r   domain.PotentialRecord
			day time.Time
		)
		err := rows.Scan(
			&r.ID,
			&day,
			&r.Period,
			&r.UnitID,
			&r.ProfileID,
			&r.EnergyMWh,
			&r.Difficulty,
			&r.PotentialBTC,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan potential row: %w", err)
		}
		r.SettlementDate = domain.SettlementDate(day.Format(domain.DateLayout))

		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate potential rows: %w", err)
	}

	return records, nil
}
