package storage

import (
	"context"

	"curtailmine/internal/domain"
)

// CurtailmentStore provides access to curtailment_records storage.
type CurtailmentStore interface {
	// ReplacePeriod deletes any existing records for (date, period) and
	// inserts the new set in one transaction-equivalent step. The records
	// must all carry the given date and period.
	ReplacePeriod(ctx context.Context, date domain.SettlementDate, period int, records []*domain.CurtailmentRecord) error

	// InsertBulk adds records atomically. Fails entire batch on any duplicate
	// (settlement_date, period, unit_id).
	InsertBulk(ctx context.Context, records []*domain.CurtailmentRecord) error

	// DeleteByDate removes all records for a settlement date.
	// Returns the number of rows removed.
	DeleteByDate(ctx context.Context, date domain.SettlementDate) (int, error)

	// GetByDate retrieves all records for a date, ordered by (period, unit_id).
	GetByDate(ctx context.Context, date domain.SettlementDate) ([]*domain.CurtailmentRecord, error)

	// GetByDatePeriod retrieves records for one settlement period,
	// ordered by unit_id.
	GetByDatePeriod(ctx context.Context, date domain.SettlementDate, period int) ([]*domain.CurtailmentRecord, error)
}

// DaySummaryStore provides access to day_summaries storage.
type DaySummaryStore interface {
	// Replace deletes any existing summary for the date and inserts s.
	Replace(ctx context.Context, s *domain.DaySummary) error

	// GetByDate retrieves the summary for a date. Returns ErrNotFound if none.
	GetByDate(ctx context.Context, date domain.SettlementDate) (*domain.DaySummary, error)
}

// PotentialStore provides access to potential_records storage.
type PotentialStore interface {
	// ReplaceDate deletes all potential records for the date and inserts the
	// new set in one transaction-equivalent step (batched, not row-by-row).
	ReplaceDate(ctx context.Context, date domain.SettlementDate, records []*domain.PotentialRecord) error

	// GetByDate retrieves all potential records for a date,
	// ordered by (period, unit_id, profile_id).
	GetByDate(ctx context.Context, date domain.SettlementDate) ([]*domain.PotentialRecord, error)
}

// AggregateStore provides access to potential_aggregates storage.
type AggregateStore interface {
	// Replace deletes any existing row for (level, time_key, profile_id)
	// and inserts a.
	Replace(ctx context.Context, a *domain.PotentialAggregate) error

	// GetByKey retrieves one aggregate row. Returns ErrNotFound if none.
	GetByKey(ctx context.Context, level domain.AggregateLevel, timeKey, profileID string) (*domain.PotentialAggregate, error)

	// GetByPrefix retrieves all aggregates at a level whose time key starts
	// with prefix, for one profile, ordered by time_key ASC. A month's days
	// share the month key as prefix; a year's months share the year key.
	GetByPrefix(ctx context.Context, level domain.AggregateLevel, prefix, profileID string) ([]*domain.PotentialAggregate, error)
}

// ArchiveStore mirrors curtailment records into an analytics store.
// Implementations are best-effort sinks; they are never the source of truth.
type ArchiveStore interface {
	// ReplaceDate clears the date's archive rows and batch-inserts records.
	ReplaceDate(ctx context.Context, date domain.SettlementDate, records []*domain.CurtailmentRecord) error
}
