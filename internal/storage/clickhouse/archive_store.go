package clickhouse

import (
	"context"
	"fmt"

	"curtailmine/internal/domain"
	"curtailmine/internal/storage"
)

// ArchiveStore mirrors curtailment records into ClickHouse for analytics.
// The table is a MergeTree partitioned by month; ReplaceDate drops the
// date's partition slice before re-inserting, so repairs stay idempotent.
type ArchiveStore struct {
	conn *Conn
}

// NewArchiveStore creates a new ArchiveStore.
func NewArchiveStore(conn *Conn) *ArchiveStore {
	return &ArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ArchiveStore = (*ArchiveStore)(nil)

// ReplaceDate clears the date's archive rows and batch-inserts records.
func (s *ArchiveStore) ReplaceDate(ctx context.Context, date domain.SettlementDate, records []*domain.CurtailmentRecord) error {
	err := s.conn.Exec(ctx,
		`ALTER TABLE curtailment_archive DELETE WHERE settlement_date = ?`,
		date.String(),
	)
	if err != nil {
		return fmt.Errorf("delete archive rows: %w", err)
	}

	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO curtailment_archive (
			settlement_date, period, unit_id, volume_mwh, payment_gbp, so_flag, cadl_flag, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.SettlementDate.String(), uint8(r.Period), r.UnitID,
			r.VolumeMWh, r.PaymentGBP, r.SOFlag, r.CadlFlag, uint64(r.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByDate retrieves archived records for a date, ordered by (period, unit_id).
func (s *ArchiveStore) GetByDate(ctx context.Context, date domain.SettlementDate) ([]*domain.CurtailmentRecord, error) {
	query := `
		SELECT settlement_date, period, unit_id, volume_mwh, payment_gbp, so_flag, cadl_flag, created_at
		FROM curtailment_archive
		WHERE settlement_date = ?
		ORDER BY period ASC, unit_id ASC
	`

	rows, err := s.conn.Query(ctx, query, date.String())
	if err != nil {
		return nil, fmt.Errorf("query archive by date: %w", err)
	}
	defer rows.Close()

	var records []*domain.CurtailmentRecord
	for rows.Next() {
		var (
			r         domain.CurtailmentRecord
			dateStr   string
			period    uint8
			createdAt uint64
		)
		err := rows.Scan(
			&dateStr, &period, &r.UnitID,
			&r.VolumeMWh, &r.PaymentGBP, &r.SOFlag, &r.CadlFlag, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}

		r.SettlementDate = domain.SettlementDate(dateStr)
		r.Period = int(period)
		r.CreatedAt = int64(createdAt)
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive rows: %w", err)
	}

	return records, nil
}
