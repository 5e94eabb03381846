package domain

// CurtailmentRecord is one unit's recorded output reduction for one
// settlement period. Corresponds to curtailment_records table in PostgreSQL.
// Unique per (settlement_date, period, unit_id).
//
// Volumes and payments are stored as non-negative magnitudes; the direction
// (a reduction) is implied by the record type. The fetch layer filters to
// negative acceptance volumes and stores their absolute value.
type CurtailmentRecord struct {
	ID             int64          // BIGSERIAL primary key
	SettlementDate SettlementDate // calendar day
	Period         int            // settlement period, 1..48
	UnitID         string         // balancing mechanism unit identifier
	VolumeMWh      float64        // curtailed energy, magnitude
	PaymentGBP     float64        // payment attributable to the reduction, magnitude
	SOFlag         bool           // system-operator directed
	CadlFlag       bool           // continuous acceptance duration limit flag
	CreatedAt      int64          // record creation timestamp (ms)
}

// DaySummary is the per-day rollup of curtailment records.
// One row per settlement date, replaced wholesale on every ingest.
type DaySummary struct {
	SettlementDate   SettlementDate
	RecordCount      int
	PeriodsProcessed int // periods that returned data and were stored
	PeriodsFailed    int // periods that exhausted fetch retries
	TotalVolumeMWh   float64
	TotalPaymentGBP  float64
	UpdatedAt        int64 // last replace timestamp (ms)
}
