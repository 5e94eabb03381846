package postgres

import (
	"context"
	"fmt"
	"time"

	"curtailmine/internal/domain"
	"curtailmine/internal/storage"
)

// DaySummaryStore implements storage.DaySummaryStore using PostgreSQL.
type DaySummaryStore struct {
	pool *Pool
}

// NewDaySummaryStore creates a new DaySummaryStore.
func NewDaySummaryStore(pool *Pool) *DaySummaryStore {
	return &DaySummaryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DaySummaryStore = (*DaySummaryStore)(nil)

// Replace deletes any existing summary for the date and inserts the new one.
func (s *DaySummaryStore) Replace(ctx context.Context, summary *domain.DaySummary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`DELETE FROM day_summaries WHERE settlement_date = $1`,
		summary.SettlementDate.String(),
	)
	if err != nil {
		return fmt.Errorf("delete day summary: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO day_summaries (
			settlement_date, record_count, periods_processed, periods_failed,
			total_volume_mwh, total_payment_gbp, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		summary.SettlementDate.String(),
		summary.RecordCount,
		summary.PeriodsProcessed,
		summary.PeriodsFailed,
		summary.TotalVolumeMWh,
		summary.TotalPaymentGBP,
		summary.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert day summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByDate retrieves the summary for a date. Returns ErrNotFound if none.
func (s *DaySummaryStore) GetByDate(ctx context.Context, date domain.SettlementDate) (*domain.DaySummary, error) {
	query := `
		SELECT settlement_date, record_count, periods_processed, periods_failed,
		       total_volume_mwh, total_payment_gbp, updated_at
		FROM day_summaries
		WHERE settlement_date = $1
	`

	var (
		summary domain.DaySummary
		day     time.Time
	)
	err := s.pool.QueryRow(ctx, query, date.String()).Scan(
		&day,
		&summary.RecordCount,
		&summary.PeriodsProcessed,
		&summary.PeriodsFailed,
		&summary.TotalVolumeMWh,
		&summary.TotalPaymentGBP,
		&summary.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get day summary: %w", err)
	}
	summary.SettlementDate = domain.SettlementDate(day.Format(domain.DateLayout))

	return &summary, nil
}
