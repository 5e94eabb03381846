// Package mining computes Bitcoin mining-potential estimates from curtailed
// energy. The calculator is a pure function of its inputs so repeated
// recomputation during repair produces identical results.
package mining

import (
	"time"

	"curtailmine/internal/domain"
)

// hashesPerDifficultyUnit is the expected number of hashes to solve a block
// at difficulty 1 (2^32).
const hashesPerDifficultyUnit = 4294967296.0

// halvingStep is one row of the block-subsidy schedule. The schedule is
// table-driven so every call site resolves the same constant for a date.
type halvingStep struct {
	effective  time.Time
	subsidyBTC float64
}

// subsidySchedule lists subsidy cutovers in ascending date order.
var subsidySchedule = []halvingStep{
	{time.Date(2009, 1, 3, 0, 0, 0, 0, time.UTC), 50},
	{time.Date(2012, 11, 28, 0, 0, 0, 0, time.UTC), 25},
	{time.Date(2016, 7, 9, 0, 0, 0, 0, time.UTC), 12.5},
	{time.Date(2020, 5, 11, 0, 0, 0, 0, time.UTC), 6.25},
	{time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC), 3.125},
}

// SubsidyAt returns the block subsidy effective at the given date.
func SubsidyAt(asOf time.Time) float64 {
	subsidy := 0.0
	for _, step := range subsidySchedule {
		if asOf.Before(step.effective) {
			break
		}
		subsidy = step.subsidyBTC
	}
	return subsidy
}

// Calculator converts curtailed energy into an expected BTC yield for a
// hardware profile at a network difficulty.
type Calculator struct{}

// NewCalculator creates a Calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// PotentialBTC returns the expected BTC mined by running the profile's
// hardware on volumeMWh of energy at the given network difficulty, using the
// block subsidy effective at asOf. Returns 0 for non-positive inputs.
func (c *Calculator) PotentialBTC(volumeMWh float64, profile domain.HardwareProfile, difficulty float64, asOf time.Time) float64 {
	if volumeMWh <= 0 || difficulty <= 0 || profile.PowerKW <= 0 || profile.HashrateTHs <= 0 {
		return 0
	}

	runtimeHours := volumeMWh * 1000.0 / profile.PowerKW
	totalHashes := profile.HashrateTHs * 1e12 * 3600.0 * runtimeHours
	expectedBlocks := totalHashes / (difficulty * hashesPerDifficultyUnit)

	return expectedBlocks * SubsidyAt(asOf)
}
