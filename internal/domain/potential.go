package domain

// PotentialRecord is the mining-potential estimate derived from one
// curtailment record under one hardware profile. It is a cache: always
// re-derivable by re-running the calculator over curtailment records.
// Unique per (settlement_date, period, unit_id, profile_id).
type PotentialRecord struct {
	ID             int64
	SettlementDate SettlementDate
	Period         int
	UnitID         string
	ProfileID      string
	EnergyMWh      float64 // input energy the estimate was computed from
	Difficulty     float64 // network difficulty effective at the date
	PotentialBTC   float64
	CreatedAt      int64
}

// AggregateLevel is the granularity of a potential aggregate.
type AggregateLevel string

const (
	LevelDay   AggregateLevel = "day"
	LevelMonth AggregateLevel = "month"
	LevelYear  AggregateLevel = "year"
)

// Valid reports whether l is a known aggregate level.
func (l AggregateLevel) Valid() bool {
	switch l {
	case LevelDay, LevelMonth, LevelYear:
		return true
	}
	return false
}

// PotentialAggregate is one aggregate row. TimeKey depends on Level:
// YYYY-MM-DD for day, YYYY-MM for month, YYYY for year.
// Unique per (level, time_key, profile_id).
//
// Invariants after any repair touching a date:
//   - month = sum of its day aggregates
//   - year = sum of its month aggregates
type PotentialAggregate struct {
	Level        AggregateLevel
	TimeKey      string
	ProfileID    string
	EnergyMWh    float64
	PotentialBTC float64
	UpdatedAt    int64
}
