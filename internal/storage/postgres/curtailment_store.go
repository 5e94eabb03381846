package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"curtailmine/internal/domain"
	"curtailmine/internal/storage"
)

// CurtailmentStore implements storage.CurtailmentStore using PostgreSQL.
type CurtailmentStore struct {
	pool *Pool
}

// NewCurtailmentStore creates a new CurtailmentStore.
func NewCurtailmentStore(pool *Pool) *CurtailmentStore {
	return &CurtailmentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CurtailmentStore = (*CurtailmentStore)(nil)

const insertCurtailmentQuery = `
	INSERT INTO curtailment_records (
		settlement_date, period, unit_id, volume_mwh, payment_gbp, so_flag, cadl_flag, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// ReplacePeriod deletes the (date, period) slice and inserts the new set
// in a single transaction, so readers never see a partial slice.
func (s *CurtailmentStore) ReplacePeriod(ctx context.Context, date domain.SettlementDate, period int, records []*domain.CurtailmentRecord) error {
	if !domain.ValidPeriod(period) {
		return fmt.Errorf("%w: period %d", storage.ErrInvalidInput, period)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM curtailment_records WHERE settlement_date = $1 AND period = $2`,
		date.String(), period,
	)
	if err != nil {
		return fmt.Errorf("delete period records: %w", err)
	}

	for _, r := range records {
		if r.SettlementDate != date || r.Period != period {
			return fmt.Errorf("%w: record %s/%d does not belong to slice %s/%d",
				storage.ErrInvalidInput, r.SettlementDate, r.Period, date, period)
		}
		if _, err := tx.Exec(ctx, insertCurtailmentQuery,
			r.SettlementDate.String(), r.Period, r.UnitID,
			r.VolumeMWh, r.PaymentGBP, r.SOFlag, r.CadlFlag, r.CreatedAt,
		); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert period record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// InsertBulk adds records atomically. Fails entire batch on any duplicate.
func (s *CurtailmentStore) InsertBulk(ctx context.Context, records []*domain.CurtailmentRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, r := range records {
		if _, err := tx.Exec(ctx, insertCurtailmentQuery,
			r.SettlementDate.String(), r.Period, r.UnitID,
			r.VolumeMWh, r.PaymentGBP, r.SOFlag, r.CadlFlag, r.CreatedAt,
		); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert record in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DeleteByDate removes all records for a settlement date.
func (s *CurtailmentStore) DeleteByDate(ctx context.Context, date domain.SettlementDate) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM curtailment_records WHERE settlement_date = $1`,
		date.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete records by date: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetByDate retrieves all records for a date, ordered by (period, unit_id).
func (s *CurtailmentStore) GetByDate(ctx context.Context, date domain.SettlementDate) ([]*domain.CurtailmentRecord, error) {
	query := `
		SELECT id, settlement_date, period, unit_id, volume_mwh, payment_gbp, so_flag, cadl_flag, created_at
		FROM curtailment_records
		WHERE settlement_date = $1
		ORDER BY period ASC, unit_id ASC
	`

	rows, err := s.pool.Query(ctx, query, date.String())
	if err != nil {
		return nil, fmt.Errorf("get records by date: %w", err)
	}
	defer rows.Close()

	return scanCurtailmentRecords(rows)
}

// GetByDatePeriod retrieves records for one settlement period, ordered by unit_id.
func (s *CurtailmentStore) GetByDatePeriod(ctx context.Context, date domain.SettlementDate, period int) ([]*domain.CurtailmentRecord, error) {
	query := `
		SELECT id, settlement_date, period, unit_id, volume_mwh, payment_gbp, so_flag, cadl_flag, created_at
		FROM curtailment_records
		WHERE settlement_date = $1 AND period = $2
		ORDER BY unit_id ASC
	`

	rows, err := s.pool.Query(ctx, query, date.String(), period)
	if err != nil {
		return nil, fmt.Errorf("get records by date and period: %w", err)
	}
	defer rows.Close()

	return scanCurtailmentRecords(rows)
}

func scanCurtailmentRecords(rows pgx.Rows) ([]*domain.CurtailmentRecord, error) {
	var records []*domain.CurtailmentRecord

	for rows.Next() {
		var (
			r   domain.CurtailmentRecord
			day time.Time
		)
		err := rows.Scan(
			&r.ID,
			&day,
			&r.Period,
			&r.UnitID,
			&r.VolumeMWh,
			&r.PaymentGBP,
			&r.SOFlag,
			&r.CadlFlag,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan curtailment row: %w", err)
		}
		r.SettlementDate = domain.SettlementDate(day.Format(domain.DateLayout))

		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate curtailment rows: %w", err)
	}

	return records, nil
}
